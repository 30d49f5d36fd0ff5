package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

var (
	ErrForbidden = errors.New("bridge: forbidden")
	ErrNotFound  = errors.New("bridge: not found")
	ErrClosed    = errors.New("bridge: closed")
)

// Page is one step of backward history. Events are oldest first. A nil
// NextCursor means the start of the room has been reached.
type Page struct {
	Events     []entity.Event `json:"events"`
	NextCursor *string        `json:"next_cursor"`
}

// CursorBefore is the pagination cursor for the history that precedes the
// event at seq. It lets a client page back from an event it received live.
func CursorBefore(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// ParseCursor reads a cursor made by CursorBefore.
func ParseCursor(cursor string) (int64, error) {
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", cursor, err)
	}
	return seq, nil
}

// Client is the remote bridge as seen by one logged-in user. Implementations
// must be safe for concurrent use.
type Client interface {
	UserID() id.UserID

	// SubscribeRoom delivers new events of a room at least once, in server
	// order. Duplicates are possible.
	SubscribeRoom(ctx context.Context, roomID id.RoomID) (Subscription[entity.Event], error)
	// SubscribeRooms delivers a fresh snapshot of a room whenever the
	// user's view of it changes.
	SubscribeRooms(ctx context.Context) (Subscription[entity.Room], error)

	// Paginate returns history before cursor. An empty cursor starts from
	// the newest event; CursorBefore anchors on a known one.
	Paginate(ctx context.Context, roomID id.RoomID, cursor string) (*Page, error)
	FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*entity.Event, error)
	RefetchMembers(ctx context.Context, roomID id.RoomID) ([]entity.Member, error)

	SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID, txnID string) (*entity.Event, error)
	// SendDirectMessage reuses the existing direct room with userID or
	// creates it.
	SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID, txnID string) (id.RoomID, *entity.Event, error)
	DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error
	EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, txnID string) (*entity.Event, error)
	SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error
	InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	JoinRoom(ctx context.Context, roomID id.RoomID) error

	Close() error
}
