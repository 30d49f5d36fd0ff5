package timeline_service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/internal/metrics"
	"github.com/xenn00/room-sync/internal/overlay"
	"github.com/xenn00/room-sync/internal/permission"
	"github.com/xenn00/room-sync/internal/queue"
	"github.com/xenn00/room-sync/internal/ranking"
	"github.com/xenn00/room-sync/internal/reply"
	room_repo "github.com/xenn00/room-sync/internal/repo/room"
	timeline_repo "github.com/xenn00/room-sync/internal/repo/timeline"
	"github.com/xenn00/room-sync/state"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/id"
)

const (
	failureBuffer  = 64
	maxIngestBatch = 64
)

// TimelineService is one user's session: it owns the stores, keeps them fed
// from the bridge and gates every mutation.
type TimelineService struct {
	AppState     *state.AppState
	Bridge       bridge.Client
	RoomRepo     room_repo.RoomRepoContract
	TimelineRepo timeline_repo.TimelineRepoContract
	Overlay      *overlay.Overlay
	Gate         permission.Gate
	Replies      *reply.Resolver
	Metrics      *metrics.Metrics
	// Producer is nil without Redis; power level changes are then verified
	// inline.
	Producer queue.Producer

	conf   *config.AppConfig
	ranked ranking.View

	paginations singleflight.Group
	refreshes   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	observeMu sync.Mutex
	observers map[id.RoomID]*roomObserver
	roomsSub  bridge.Subscription[entity.Room]
	started   bool
	closed    bool

	failures chan entity.Artifact
}

func NewTimelineService(appState *state.AppState) TimelineServiceContract {
	conf := appState.Conf
	if conf == nil {
		conf = config.Default()
	}

	parent := appState.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	var reg prometheus.Registerer
	if appState.Registry != nil {
		reg = appState.Registry
	}

	s := &TimelineService{
		AppState:     appState,
		Bridge:       appState.Bridge,
		RoomRepo:     room_repo.NewRoomRepo(),
		TimelineRepo: timeline_repo.NewTimelineRepo(),
		Overlay:      overlay.New(conf.Sync.ArtifactTTL),
		Gate:         permission.NewGate(conf.Thresholds()),
		Metrics:      metrics.New(reg),
		conf:         conf,
		ctx:          ctx,
		cancel:       cancel,
		observers:    make(map[id.RoomID]*roomObserver),
		failures:     make(chan entity.Artifact, failureBuffer),
	}

	s.Metrics.TrackPending(s.Overlay.Len)

	// a typed nil client must not reach the resolver
	var rdb redis.Cmdable
	if appState.Redis != nil {
		rdb = appState.Redis
		s.Producer = queue.NewProducer(appState.Redis)
	}
	s.Replies = reply.NewResolver(s.TimelineRepo, s.Bridge, rdb, conf.Sync.ReplyCacheTTL)
	return s
}

func (s *TimelineService) UserID() id.UserID {
	return s.Bridge.UserID()
}

// Start subscribes to the room push feed and starts the overlay sweeper.
func (s *TimelineService) Start(ctx context.Context) *app_error.AppError {
	s.observeMu.Lock()
	defer s.observeMu.Unlock()

	if s.closed {
		return app_error.Transient("start", bridge.ErrClosed)
	}
	if s.started {
		return nil
	}

	sub, err := s.Bridge.SubscribeRooms(ctx)
	if err != nil {
		return s.classify("subscribe rooms", err)
	}
	s.roomsSub = sub
	s.started = true

	s.wg.Add(2)
	go s.pumpRooms(sub)
	go func() {
		defer s.wg.Done()
		s.Overlay.Run(s.ctx, s.conf.Sync.SweepInterval, s.notifyExpired)
	}()

	log.Info().Str("userID", string(s.UserID())).Msg("timeline service started")
	return nil
}

// Close tears down every observed room and stops the background loops. The
// bridge client belongs to the caller and stays open.
func (s *TimelineService) Close() error {
	s.observeMu.Lock()
	if s.closed {
		s.observeMu.Unlock()
		return nil
	}
	s.closed = true
	observers := s.observers
	s.observers = make(map[id.RoomID]*roomObserver)
	roomsSub := s.roomsSub
	s.observeMu.Unlock()

	for roomID, obs := range observers {
		s.teardown(roomID, obs)
	}
	if roomsSub != nil {
		_ = roomsSub.Close()
	}
	s.cancel()
	s.wg.Wait()
	// the sweeper was the only sender
	close(s.failures)

	log.Info().Str("userID", string(s.UserID())).Msg("timeline service closed")
	return nil
}

func (s *TimelineService) Failures() <-chan entity.Artifact {
	return s.failures
}

func (s *TimelineService) notifyExpired(a entity.Artifact) {
	s.Metrics.Artifacts.WithLabelValues("expired").Inc()
	select {
	case s.failures <- a:
	default:
		log.Warn().Str("artifactID", a.ID).Msg("failure channel full, dropping notification")
	}
}

func (s *TimelineService) pumpRooms(sub bridge.Subscription[entity.Room]) {
	defer s.wg.Done()
	for room := range sub.C() {
		if _, changed := s.RoomRepo.Upsert(room); changed {
			log.Debug().Str("roomID", string(room.ID)).Str("membership", string(room.Membership)).Msg("room snapshot updated")
		}
	}
}

// Ingest merges authoritative events into the room timeline, reconciles the
// overlay against what was new and applies membership and power changes to
// the room store. It returns the events that were actually added.
func (s *TimelineService) Ingest(roomID id.RoomID, events []entity.Event) []entity.Event {
	if len(events) == 0 {
		return nil
	}

	added := s.TimelineRepo.Append(roomID, events)
	if dups := len(events) - len(added); dups > 0 {
		s.Metrics.DuplicatesAbsorbed.Add(float64(dups))
	}
	if len(added) == 0 {
		return nil
	}
	s.Metrics.EventsIngested.Add(float64(len(added)))

	if matched := s.Overlay.Reconcile(roomID, added); len(matched) > 0 {
		s.Metrics.Artifacts.WithLabelValues("matched").Add(float64(len(matched)))
	}
	s.applyState(roomID, added)
	return added
}

// applyState folds live membership and power level events into the room
// store. Paginated history never goes through here: it is older than what
// the store already knows.
func (s *TimelineService) applyState(roomID id.RoomID, events []entity.Event) {
	self := s.UserID()
	for _, ev := range events {
		switch c := ev.Content.(type) {
		case entity.MembershipContent:
			m, _ := s.RoomRepo.Member(roomID, c.UserID)
			m.RoomID, m.UserID, m.Membership = roomID, c.UserID, c.Membership
			if c.DisplayName != "" {
				m.DisplayName = c.DisplayName
			}
			s.RoomRepo.UpsertMember(m)
			if c.UserID == self {
				s.RoomRepo.UpdateSelf(roomID, func(room *entity.Room) { room.Membership = c.Membership })
			}
		case entity.PowerLevelContent:
			m, ok := s.RoomRepo.Member(roomID, c.UserID)
			if !ok {
				m = entity.Member{RoomID: roomID, UserID: c.UserID}
			}
			m.PowerLevel = c.Level
			s.RoomRepo.UpsertMember(m)
			if c.UserID == self {
				s.RoomRepo.UpdateSelf(roomID, func(room *entity.Room) { room.PowerLevel = c.Level })
			}
		}
	}
}

// classify maps a bridge failure onto the engine's error kinds.
func (s *TimelineService) classify(op string, err error) *app_error.AppError {
	var appErr *app_error.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, bridge.ErrForbidden):
		return app_error.RemoteDenied(op, err)
	case errors.Is(err, bridge.ErrNotFound):
		notFound := app_error.NotFound(op+" target", "bridge")
		notFound.Cause = err
		return notFound
	default:
		return app_error.Transient(op, err)
	}
}

// latency records how long a bridge call took.
func (s *TimelineService) latency(op string, start time.Time) {
	s.Metrics.BridgeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *TimelineService) room(roomID id.RoomID) (entity.Room, *app_error.AppError) {
	room, ok := s.RoomRepo.Get(roomID)
	if !ok {
		return entity.Room{}, app_error.NotFound("room "+string(roomID), "room_id")
	}
	return room, nil
}

func (s *TimelineService) groupingOptions() grouping.Options {
	return s.conf.GroupingOptions()
}
