package timeline_service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"maunium.net/go/mautrix/id"
)

// roomObserver is the one live subscription of a room, shared by every
// Observation of it.
type roomObserver struct {
	refs int
	sub  bridge.Subscription[entity.Event]
	done chan struct{}
}

// Observation keeps a room's event stream flowing into the timeline. Close
// releases it exactly once; cancelling the context passed to Observe does
// the same.
type Observation struct {
	RoomID id.RoomID

	mu      sync.Mutex
	closed  bool
	release func()
	stop    func() bool
}

func (o *Observation) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	stop := o.stop
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	o.release()
}

// Observe subscribes to the room, or joins the existing subscription.
func (s *TimelineService) Observe(ctx context.Context, roomID id.RoomID) (*Observation, *app_error.AppError) {
	if err := ctx.Err(); err != nil {
		return nil, app_error.Transient("observe", err)
	}

	s.observeMu.Lock()
	defer s.observeMu.Unlock()

	if s.closed {
		return nil, app_error.Transient("observe", bridge.ErrClosed)
	}

	obs, ok := s.observers[roomID]
	if !ok {
		sub, err := s.Bridge.SubscribeRoom(s.ctx, roomID)
		if err != nil {
			return nil, s.classify("observe", err)
		}
		obs = &roomObserver{sub: sub, done: make(chan struct{})}
		s.observers[roomID] = obs
		s.Metrics.ObservedRooms.Inc()

		s.wg.Add(1)
		go s.pump(roomID, obs)
		log.Info().Str("roomID", string(roomID)).Msg("room observed")
	}
	obs.refs++

	handle := &Observation{RoomID: roomID}
	handle.release = func() { s.release(roomID, obs) }
	handle.mu.Lock()
	handle.stop = context.AfterFunc(ctx, handle.Close)
	handle.mu.Unlock()
	return handle, nil
}

// WithRoom observes the room for the duration of fn.
func (s *TimelineService) WithRoom(ctx context.Context, roomID id.RoomID, fn func(obs *Observation) error) error {
	obs, appErr := s.Observe(ctx, roomID)
	if appErr != nil {
		return appErr
	}
	defer obs.Close()
	return fn(obs)
}

func (s *TimelineService) release(roomID id.RoomID, obs *roomObserver) {
	s.observeMu.Lock()
	if cur, ok := s.observers[roomID]; !ok || cur != obs {
		// already torn down by ForgetRoom or Close
		s.observeMu.Unlock()
		return
	}
	obs.refs--
	if obs.refs > 0 {
		s.observeMu.Unlock()
		return
	}
	delete(s.observers, roomID)
	s.observeMu.Unlock()

	s.teardown(roomID, obs)
}

// teardown closes the subscription and waits for its pump. Bumping the
// generation first makes pagination results still in flight miss.
func (s *TimelineService) teardown(roomID id.RoomID, obs *roomObserver) {
	s.TimelineRepo.BumpGeneration(roomID)
	_ = obs.sub.Close()
	<-obs.done

	s.Metrics.ObservedRooms.Dec()
	log.Info().Str("roomID", string(roomID)).Msg("room released")
}

func (s *TimelineService) pump(roomID id.RoomID, obs *roomObserver) {
	defer s.wg.Done()
	defer close(obs.done)

	for ev := range obs.sub.C() {
		batch := []entity.Event{ev}
	drain:
		for len(batch) < maxIngestBatch {
			select {
			case next, ok := <-obs.sub.C():
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		s.Ingest(roomID, batch)
	}
	log.Debug().Str("roomID", string(roomID)).Msg("room subscription ended")
}
