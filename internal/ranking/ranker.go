package ranking

import (
	"sort"
	"sync"
	"time"

	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

// ActivityFunc returns a room's latest non-tombstone activity, if any.
type ActivityFunc func(roomID id.RoomID) (time.Time, bool)

type RankedRoom struct {
	entity.Room
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Rank orders rooms by latest activity, newest first. Ties break on room id
// ascending and rooms with no activity go last.
func Rank(rooms []entity.Room, activityOf ActivityFunc) []RankedRoom {
	out := make([]RankedRoom, len(rooms))
	for i, room := range rooms {
		out[i] = RankedRoom{Room: room}
		if at, ok := activityOf(room.ID); ok {
			out[i].LastActivity = &at
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastActivity, out[j].LastActivity
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out
}

// View memoizes Rank. It recomputes only when the version passed to Get
// differs from the last one.
type View struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	ranked  []RankedRoom
}

func (v *View) Get(version uint64, compute func() []RankedRoom) []RankedRoom {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.valid || v.version != version {
		v.ranked = compute()
		v.version = version
		v.valid = true
	}
	out := make([]RankedRoom, len(v.ranked))
	copy(out, v.ranked)
	return out
}
