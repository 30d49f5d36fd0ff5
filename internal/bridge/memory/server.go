package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/permission"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const defaultPageSize = 20

type RoomSpec struct {
	Name          string            `json:"name"`
	Kind          entity.RoomKind   `json:"kind"`
	Visibility    entity.Visibility `json:"visibility"`
	BroadcastOnly bool              `json:"broadcast_only"`
}

type serverRoom struct {
	id      id.RoomID
	spec    RoomSpec
	events  []entity.Event
	index   map[id.EventID]int
	members map[id.UserID]*entity.Member
	subs    map[*bridge.Feed[entity.Event]]id.UserID
	txns    map[string]id.EventID
}

// Server is an in-process homeserver. It is authoritative for room state and
// enforces the same permission rules the engine applies locally.
type Server struct {
	mu        sync.Mutex
	rooms     map[id.RoomID]*serverRoom
	direct    map[[2]id.UserID]id.RoomID
	roomFeeds map[id.UserID]map[*bridge.Feed[entity.Room]]struct{}
	failures  map[string][]error
	calls     map[string]int
	seq       int64

	pageSize int
	gate     permission.Gate
	now      func() time.Time
}

type Option func(*Server)

func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithThresholds(t permission.Thresholds) Option {
	return func(s *Server) { s.gate = permission.NewGate(t) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		rooms:     make(map[id.RoomID]*serverRoom),
		direct:    make(map[[2]id.UserID]id.RoomID),
		roomFeeds: make(map[id.UserID]map[*bridge.Feed[entity.Room]]struct{}),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
		pageSize:  defaultPageSize,
		gate:      permission.NewGate(permission.DefaultThresholds()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect returns a bridge client acting as userID.
func (s *Server) Connect(userID id.UserID) *Client {
	return &Client{server: s, userID: userID}
}

// CreateRoom creates a room with creator joined at the admin level.
func (s *Server) CreateRoom(creator id.UserID, spec RoomSpec) id.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.newRoomLocked(spec)
	s.setMemberLocked(r, creator, event.MembershipJoin, s.gate.Thresholds().Admin)
	log.Debug().Str("roomID", string(r.id)).Str("creator", string(creator)).Msg("memory bridge: room created")
	return r.id
}

// AddMember puts userID into a room with the given membership and level,
// emitting the matching state events.
func (s *Server) AddMember(roomID id.RoomID, userID id.UserID, membership event.Membership, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	s.setMemberLocked(r, userID, membership, level)
	return nil
}

// SetPowerLevelSilently changes a level without emitting events or pushing
// room snapshots, the way a missed push leaves a client stale.
func (s *Server) SetPowerLevelSilently(roomID id.RoomID, userID id.UserID, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	m, ok := r.members[userID]
	if !ok {
		return fmt.Errorf("%w: member %s", bridge.ErrNotFound, userID)
	}
	m.PowerLevel = level
	return nil
}

// Post appends an event as sender without permission checks.
func (s *Server) Post(roomID id.RoomID, sender id.UserID, content entity.Content) (entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return entity.Event{}, fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	return s.appendLocked(r, sender, content, "", ""), nil
}

// FailNext makes the next call of method return err.
func (s *Server) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

// Calls reports how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) Events(roomID id.RoomID) []entity.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]entity.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (s *Server) DirectRoom(a, b id.UserID) (id.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.direct[pairKey(a, b)]
	return roomID, ok
}

func (s *Server) Member(roomID id.RoomID, userID id.UserID) (entity.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return entity.Member{}, false
	}
	m, ok := r.members[userID]
	if !ok {
		return entity.Member{}, false
	}
	return *m, true
}

// enter records a call and pops an injected failure.
func (s *Server) enter(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[method]++
	queue := s.failures[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.failures[method] = queue[1:]
	return err
}

func (s *Server) newRoomLocked(spec RoomSpec) *serverRoom {
	if spec.Kind == "" {
		spec.Kind = entity.RoomKindGroup
	}
	if spec.Visibility == "" {
		spec.Visibility = entity.VisibilityPrivate
	}
	r := &serverRoom{
		id:      id.RoomID(fmt.Sprintf("!%s:local", uuid.NewString())),
		spec:    spec,
		index:   make(map[id.EventID]int),
		members: make(map[id.UserID]*entity.Member),
		subs:    make(map[*bridge.Feed[entity.Event]]id.UserID),
		txns:    make(map[string]id.EventID),
	}
	s.rooms[r.id] = r
	return r
}

func (s *Server) setMemberLocked(r *serverRoom, userID id.UserID, membership event.Membership, level int) {
	m, ok := r.members[userID]
	if !ok {
		m = &entity.Member{RoomID: r.id, UserID: userID}
		r.members[userID] = m
	}

	if m.Membership != membership {
		m.Membership = membership
		s.appendLocked(r, userID, entity.MembershipContent{UserID: userID, Membership: membership}, "", "")
	}
	if m.PowerLevel != level {
		m.PowerLevel = level
		s.appendLocked(r, userID, entity.PowerLevelContent{UserID: userID, Level: level}, "", "")
	}
	s.pushRoomLocked(r, userID)
}

func (s *Server) appendLocked(r *serverRoom, sender id.UserID, content entity.Content, replied id.EventID, txnID string) entity.Event {
	s.seq++
	ev := entity.Event{
		ID:             id.EventID(fmt.Sprintf("$%s", uuid.NewString())),
		RoomID:         r.id,
		Sender:         sender,
		Timestamp:      s.now(),
		Seq:            s.seq,
		Content:        content,
		RepliedEventID: replied,
		TxnID:          txnID,
	}
	r.index[ev.ID] = len(r.events)
	r.events = append(r.events, ev)
	if txnID != "" {
		r.txns[string(sender)+"|"+txnID] = ev.ID
	}

	for feed, userID := range r.subs {
		// only the sender sees its own transaction id
		out := ev
		if userID != sender {
			out.TxnID = ""
		}
		feed.Publish(out)
	}
	return ev
}

func (s *Server) pushRoomLocked(r *serverRoom, userID id.UserID) {
	snapshot := r.snapshotFor(userID)
	for feed := range s.roomFeeds[userID] {
		feed.Publish(snapshot)
	}
}

func (s *Server) roomsForLocked(userID id.UserID) []entity.Room {
	var out []entity.Room
	for _, r := range s.rooms {
		if _, ok := r.members[userID]; ok {
			out = append(out, r.snapshotFor(userID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *serverRoom) snapshotFor(userID id.UserID) entity.Room {
	room := entity.Room{
		ID:            r.id,
		Name:          r.spec.Name,
		Kind:          r.spec.Kind,
		Visibility:    r.spec.Visibility,
		BroadcastOnly: r.spec.BroadcastOnly,
		Membership:    event.MembershipLeave,
	}
	if m, ok := r.members[userID]; ok {
		room.Membership = m.Membership
		room.PowerLevel = m.PowerLevel
	}
	if r.spec.Kind == entity.RoomKindDirect {
		for other := range r.members {
			if other != userID {
				room.DirectUserID = other
				if room.Name == "" {
					room.Name = string(other)
				}
			}
		}
	}
	return room
}

func (r *serverRoom) membersSorted() []entity.Member {
	out := make([]entity.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *serverRoom) redacted(eventID id.EventID) bool {
	for _, ev := range r.events {
		if rc, ok := ev.Content.(entity.RedactionContent); ok && rc.Redacts == eventID {
			return true
		}
	}
	return false
}

func pairKey(a, b id.UserID) [2]id.UserID {
	if a > b {
		a, b = b, a
	}
	return [2]id.UserID{a, b}
}
