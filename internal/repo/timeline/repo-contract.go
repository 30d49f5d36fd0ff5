package timeline_repo

import (
	"time"

	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

type TimelineRepoContract interface {
	// Append merges live events and returns the ones that were new.
	Append(roomID id.RoomID, events []entity.Event) []entity.Event
	// Prepend merges a page of history if the room is still at generation
	// gen. It returns the new events and whether the page was applied.
	Prepend(roomID id.RoomID, events []entity.Event, nextCursor *string, gen uint64) ([]entity.Event, bool)

	Get(roomID id.RoomID) []entity.Event
	Event(roomID id.RoomID, eventID id.EventID) (entity.Event, bool)
	// Oldest returns the earliest stored event, the anchor for paging back.
	Oldest(roomID id.RoomID) (entity.Event, bool)
	LatestActivity(roomID id.RoomID) (time.Time, bool)
	// Cursor returns where the next backward page starts and whether any
	// history is left.
	Cursor(roomID id.RoomID) (cursor string, hasMore bool)

	// Generation changes every time the room's observers are torn down.
	Generation(roomID id.RoomID) uint64
	BumpGeneration(roomID id.RoomID) uint64

	Version(roomID id.RoomID) uint64
	TotalVersion() uint64
	Drop(roomID id.RoomID)
}
