package timeline_repo

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

type roomLog struct {
	mu     sync.Mutex
	events []entity.Event
	ids    map[id.EventID]struct{}

	hasLatest bool
	latestSeq int64
	latestAt  time.Time

	cursor     string
	exhausted  bool
	version    uint64
	generation uint64
}

type TimelineRepo struct {
	mu    sync.RWMutex
	rooms map[id.RoomID]*roomLog
	// generation a dropped room restarts from, so results fetched before the
	// drop still mismatch
	retired map[id.RoomID]uint64
	total   atomic.Uint64
}

func NewTimelineRepo() TimelineRepoContract {
	return &TimelineRepo{
		rooms:   make(map[id.RoomID]*roomLog),
		retired: make(map[id.RoomID]uint64),
	}
}

func (t *TimelineRepo) room(roomID id.RoomID, create bool) *roomLog {
	t.mu.RLock()
	log, ok := t.rooms[roomID]
	t.mu.RUnlock()
	if ok || !create {
		return log
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if log, ok = t.rooms[roomID]; ok {
		return log
	}
	log = &roomLog{ids: make(map[id.EventID]struct{}), generation: t.retired[roomID]}
	t.rooms[roomID] = log
	return log
}

func (t *TimelineRepo) Append(roomID id.RoomID, events []entity.Event) []entity.Event {
	if len(events) == 0 {
		return nil
	}
	log := t.room(roomID, true)
	log.mu.Lock()
	defer log.mu.Unlock()

	added := log.merge(events)
	if len(added) > 0 {
		log.version++
		t.total.Add(1)
	}
	return added
}

func (t *TimelineRepo) Prepend(roomID id.RoomID, events []entity.Event, nextCursor *string, gen uint64) ([]entity.Event, bool) {
	log := t.room(roomID, true)
	log.mu.Lock()
	defer log.mu.Unlock()

	if log.generation != gen {
		return nil, false
	}

	added := log.merge(events)
	if nextCursor != nil {
		log.cursor = *nextCursor
	} else {
		log.exhausted = true
	}
	log.version++
	t.total.Add(1)
	return added, true
}

// merge inserts unknown events by Seq. Events sharing a Seq keep the order
// they arrived in. Callers hold l.mu.
func (l *roomLog) merge(events []entity.Event) []entity.Event {
	var added []entity.Event
	for _, ev := range events {
		if _, dup := l.ids[ev.ID]; dup {
			continue
		}
		l.ids[ev.ID] = struct{}{}

		n := len(l.events)
		if n == 0 || l.events[n-1].Seq <= ev.Seq {
			l.events = append(l.events, ev)
		} else {
			at := sort.Search(n, func(i int) bool { return l.events[i].Seq > ev.Seq })
			l.events = append(l.events, entity.Event{})
			copy(l.events[at+1:], l.events[at:])
			l.events[at] = ev
		}

		if !ev.IsTombstone() && (!l.hasLatest || ev.Seq >= l.latestSeq) {
			l.hasLatest = true
			l.latestSeq = ev.Seq
			l.latestAt = ev.Timestamp
		}
		added = append(added, ev)
	}
	return added
}

func (t *TimelineRepo) Get(roomID id.RoomID) []entity.Event {
	log := t.room(roomID, false)
	if log == nil {
		return nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	out := make([]entity.Event, len(log.events))
	copy(out, log.events)
	return out
}

func (t *TimelineRepo) Event(roomID id.RoomID, eventID id.EventID) (entity.Event, bool) {
	log := t.room(roomID, false)
	if log == nil {
		return entity.Event{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	if _, ok := log.ids[eventID]; !ok {
		return entity.Event{}, false
	}
	for i := len(log.events) - 1; i >= 0; i-- {
		if log.events[i].ID == eventID {
			return log.events[i], true
		}
	}
	return entity.Event{}, false
}

func (t *TimelineRepo) Oldest(roomID id.RoomID) (entity.Event, bool) {
	log := t.room(roomID, false)
	if log == nil {
		return entity.Event{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.events) == 0 {
		return entity.Event{}, false
	}
	return log.events[0], true
}

func (t *TimelineRepo) LatestActivity(roomID id.RoomID) (time.Time, bool) {
	log := t.room(roomID, false)
	if log == nil {
		return time.Time{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.latestAt, log.hasLatest
}

func (t *TimelineRepo) Cursor(roomID id.RoomID) (string, bool) {
	log := t.room(roomID, false)
	if log == nil {
		return "", true
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.cursor, !log.exhausted
}

func (t *TimelineRepo) Generation(roomID id.RoomID) uint64 {
	log := t.room(roomID, true)
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.generation
}

func (t *TimelineRepo) BumpGeneration(roomID id.RoomID) uint64 {
	log := t.room(roomID, true)
	log.mu.Lock()
	defer log.mu.Unlock()
	log.generation++
	return log.generation
}

func (t *TimelineRepo) Version(roomID id.RoomID) uint64 {
	log := t.room(roomID, false)
	if log == nil {
		return 0
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.version
}

func (t *TimelineRepo) TotalVersion() uint64 {
	return t.total.Load()
}

func (t *TimelineRepo) Drop(roomID id.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if log, ok := t.rooms[roomID]; ok {
		log.mu.Lock()
		t.retired[roomID] = log.generation + 1
		log.mu.Unlock()
		delete(t.rooms, roomID)
		t.total.Add(1)
	}
}
