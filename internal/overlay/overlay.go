package overlay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

// Overlay holds optimistic artifacts per room until the authoritative event
// arrives, the send fails, or the artifact times out.
type Overlay struct {
	mu        sync.Mutex
	artifacts map[string]*entity.Artifact
	byKey     map[id.RoomID]map[string][]string

	ttl time.Duration
	now func() time.Time
}

func New(ttl time.Duration) *Overlay {
	return &Overlay{
		artifacts: make(map[string]*entity.Artifact),
		byKey:     make(map[id.RoomID]map[string][]string),
		ttl:       ttl,
		now:       time.Now,
	}
}

// NewPreview builds a visible artifact standing in for ev. The artifact
// matches on the transaction id, or the file name for uploads.
func (o *Overlay) NewPreview(ev entity.Event) entity.Artifact {
	artifactID := entity.LocalIDPrefix + uuid.NewString()
	if ev.ID == "" {
		ev.ID = id.EventID(artifactID)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}

	key := ""
	if keys := ev.MatchKeys(); len(keys) > 0 {
		key = keys[len(keys)-1]
	}
	return entity.Artifact{
		ID:        artifactID,
		RoomID:    ev.RoomID,
		Key:       key,
		Visible:   true,
		CreatedAt: o.now(),
		Event:     ev,
	}
}

// Add inserts a visible artifact and returns it.
func (o *Overlay) Add(roomID id.RoomID, a entity.Artifact) entity.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()

	a.RoomID = roomID
	a.Visible = true
	a.Matched = false
	if a.CreatedAt.IsZero() {
		a.CreatedAt = o.now()
	}
	stored := a
	o.artifacts[a.ID] = &stored

	if a.Key != "" {
		keys, ok := o.byKey[roomID]
		if !ok {
			keys = make(map[string][]string)
			o.byKey[roomID] = keys
		}
		keys[a.Key] = append(keys[a.Key], a.ID)
	}
	return stored
}

// Reconcile hides the artifacts that incoming authoritative events stand
// for. Each artifact matches at most once; among artifacts with the same key
// the oldest matches first.
func (o *Overlay) Reconcile(roomID id.RoomID, incoming []entity.Event) []entity.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()

	keys := o.byKey[roomID]
	if len(keys) == 0 {
		return nil
	}

	var matched []entity.Artifact
	for _, ev := range incoming {
		for _, key := range ev.MatchKeys() {
			queue := keys[key]
			if len(queue) == 0 {
				continue
			}
			a := o.artifacts[queue[0]]
			keys[key] = queue[1:]
			if len(keys[key]) == 0 {
				delete(keys, key)
			}
			if a == nil {
				continue
			}
			a.Visible = false
			a.Matched = true
			matched = append(matched, *a)
			break
		}
	}
	return matched
}

// Retire drops an artifact whose send failed.
func (o *Overlay) Retire(artifactID string) (entity.Artifact, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.artifacts[artifactID]
	if !ok {
		return entity.Artifact{}, false
	}
	o.removeLocked(a)
	return *a, true
}

// Visible lists the room's visible artifacts, oldest first.
func (o *Overlay) Visible(roomID id.RoomID) []entity.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []entity.Artifact
	for _, a := range o.artifacts {
		if a.RoomID == roomID && a.Visible {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expire prunes matched artifacts and drops unmatched ones older than the
// TTL. The dropped unmatched artifacts are returned so the sender can be
// told the send failed.
func (o *Overlay) Expire(now time.Time) []entity.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()

	var expired []entity.Artifact
	for _, a := range o.artifacts {
		switch {
		case a.Matched:
			o.removeLocked(a)
		case o.ttl > 0 && now.Sub(a.CreatedAt) > o.ttl:
			o.removeLocked(a)
			expired = append(expired, *a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired
}

// DropRoom removes every artifact of a room.
func (o *Overlay) DropRoom(roomID id.RoomID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, a := range o.artifacts {
		if a.RoomID == roomID {
			delete(o.artifacts, a.ID)
		}
	}
	delete(o.byKey, roomID)
}

func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.artifacts)
}

// Run sweeps expired artifacts every interval until ctx ends, handing each
// expired artifact to onExpire.
func (o *Overlay) Run(ctx context.Context, interval time.Duration, onExpire func(entity.Artifact)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := o.Expire(now)
			for _, a := range expired {
				log.Warn().Str("roomID", string(a.RoomID)).Str("artifactID", a.ID).Msg("overlay: artifact expired without a server echo")
				if onExpire != nil {
					onExpire(a)
				}
			}
		}
	}
}

func (o *Overlay) removeLocked(a *entity.Artifact) {
	delete(o.artifacts, a.ID)
	if a.Key == "" {
		return
	}
	keys := o.byKey[a.RoomID]
	queue := keys[a.Key]
	for i, artifactID := range queue {
		if artifactID == a.ID {
			keys[a.Key] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(keys[a.Key]) == 0 {
		delete(keys, a.Key)
	}
}
