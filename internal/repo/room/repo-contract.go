package room_repo

import (
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

type RoomRepoContract interface {
	// Upsert stores a room snapshot and reports whether anything changed.
	Upsert(room entity.Room) (entity.Room, bool)
	Get(roomID id.RoomID) (entity.Room, bool)
	List() []entity.Room
	// FindDirect returns the one direct room shared with userID.
	FindDirect(userID id.UserID) (entity.Room, bool)
	// UpdateSelf edits the current user's view of a known room in place.
	UpdateSelf(roomID id.RoomID, fn func(room *entity.Room)) (entity.Room, bool)
	Remove(roomID id.RoomID)

	UpsertMember(member entity.Member)
	ReplaceMembers(roomID id.RoomID, members []entity.Member)
	Member(roomID id.RoomID, userID id.UserID) (entity.Member, bool)
	Members(roomID id.RoomID) []entity.Member

	Version() uint64
}
