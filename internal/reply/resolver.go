package reply

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/utils"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/id"
)

type Source string

const (
	SourceLocal  Source = "local"
	SourceCache  Source = "cache"
	SourceShared Source = "shared_cache"
	SourceRemote Source = "remote"
)

type LocalLookup interface {
	Event(roomID id.RoomID, eventID id.EventID) (entity.Event, bool)
}

type Fetcher interface {
	FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*entity.Event, error)
}

type Reply struct {
	Event  entity.Event `json:"event"`
	Source Source       `json:"source"`
}

type hopKey struct {
	room  id.RoomID
	event id.EventID
}

// Resolver loads the target of a reply one hop at a time: the local
// timeline, then the in-process hop cache, then Redis when configured, then
// the bridge. Each resolved hop is cached on its own.
type Resolver struct {
	local   LocalLookup
	fetcher Fetcher
	redis   redis.Cmdable
	ttl     time.Duration

	mu    sync.RWMutex
	hops  map[hopKey]entity.Event
	group singleflight.Group
}

// NewResolver builds a resolver. rdb may be nil.
func NewResolver(local LocalLookup, fetcher Fetcher, rdb redis.Cmdable, ttl time.Duration) *Resolver {
	return &Resolver{
		local:   local,
		fetcher: fetcher,
		redis:   rdb,
		ttl:     ttl,
		hops:    make(map[hopKey]entity.Event),
	}
}

func cacheKey(roomID id.RoomID, eventID id.EventID) string {
	return fmt.Sprintf("reply:%s:%s", roomID, eventID)
}

// Resolve loads one hop. A reply that cannot be loaded returns an
// ErrUnresolvable error; it is never fatal to the caller's view.
func (r *Resolver) Resolve(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*Reply, error) {
	if eventID == "" {
		return nil, app_error.Unresolvable("", fmt.Errorf("empty event id"))
	}
	if ev, ok := r.local.Event(roomID, eventID); ok {
		return &Reply{Event: ev, Source: SourceLocal}, nil
	}

	key := hopKey{room: roomID, event: eventID}
	r.mu.RLock()
	ev, ok := r.hops[key]
	r.mu.RUnlock()
	if ok {
		return &Reply{Event: ev, Source: SourceCache}, nil
	}

	// waiters sharing the flight must not fail with the first caller's ctx
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(cacheKey(roomID, eventID), func() (any, error) {
		return r.load(flightCtx, key)
	})
	if err != nil {
		return nil, app_error.Unresolvable(string(eventID), err)
	}
	res := v.(*Reply)
	return &Reply{Event: res.Event, Source: res.Source}, nil
}

func (r *Resolver) load(ctx context.Context, key hopKey) (*Reply, error) {
	if r.redis != nil {
		cached, err := utils.GetCacheData[entity.Event](ctx, r.redis, cacheKey(key.room, key.event))
		if err != nil {
			log.Warn().Err(err).Str("eventID", string(key.event)).Msg("reply: shared cache read failed")
		} else if cached != nil {
			r.remember(key, *cached)
			return &Reply{Event: *cached, Source: SourceShared}, nil
		}
	}

	fetched, err := r.fetcher.FetchEvent(ctx, key.room, key.event)
	if err != nil {
		return nil, err
	}
	r.remember(key, *fetched)

	if r.redis != nil {
		if err := utils.SetCacheData(ctx, r.redis, cacheKey(key.room, key.event), fetched, r.ttl); err != nil {
			log.Warn().Err(err).Str("eventID", string(key.event)).Msg("reply: shared cache write failed")
		}
	}
	return &Reply{Event: *fetched, Source: SourceRemote}, nil
}

func (r *Resolver) remember(key hopKey, ev entity.Event) {
	r.mu.Lock()
	r.hops[key] = ev
	r.mu.Unlock()
}

// Chain follows reply links from eventID for at most maxHops hops and
// returns the events found, nearest first. It stops at the first hop that
// cannot be resolved and returns that error alongside the partial chain.
func (r *Resolver) Chain(ctx context.Context, roomID id.RoomID, eventID id.EventID, maxHops int) ([]entity.Event, error) {
	var chain []entity.Event
	seen := map[id.EventID]bool{}
	next := eventID
	for i := 0; i < maxHops && next != ""; i++ {
		if seen[next] {
			break
		}
		seen[next] = true

		res, err := r.Resolve(ctx, roomID, next)
		if err != nil {
			return chain, err
		}
		chain = append(chain, res.Event)
		next = res.Event.RepliedEventID
	}
	return chain, nil
}

// Forget drops cached hops of a room.
func (r *Resolver) Forget(roomID id.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.hops {
		if key.room == roomID {
			delete(r.hops, key)
		}
	}
}
