package wsbridge

import (
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MethodWhoAmI            = "whoami"
	MethodSubscribeRoom     = "subscribe_room"
	MethodSubscribeRooms    = "subscribe_rooms"
	MethodUnsubscribe       = "unsubscribe"
	MethodPaginate          = "paginate"
	MethodFetchEvent        = "fetch_event"
	MethodRefetchMembers    = "refetch_members"
	MethodSendMessage       = "send_message"
	MethodSendDirectMessage = "send_direct_message"
	MethodDeleteMessage     = "delete_message"
	MethodEditMessage       = "edit_message"
	MethodSetPowerLevel     = "set_power_level"
	MethodInviteUser        = "invite_user"
	MethodJoinRoom          = "join_room"
)

// Request is a client to server frame.
type Request struct {
	ID     uint64              `json:"id"`
	Method string              `json:"method"`
	Params jsoniter.RawMessage `json:"params,omitempty"`
}

// Frame is a server to client frame. A frame with Sub set is a push for that
// subscription; otherwise it answers the request with the same ID.
type Frame struct {
	ID     uint64              `json:"id,omitempty"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  *WireError          `json:"error,omitempty"`

	Sub   string        `json:"sub,omitempty"`
	Event *entity.Event `json:"event,omitempty"`
	Room  *entity.Room  `json:"room,omitempty"`
	// End marks the last push of a subscription.
	End bool `json:"end,omitempty"`
}

type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

// Err maps the wire code back onto the bridge sentinels.
func (e *WireError) Err() error {
	switch e.Code {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", bridge.ErrForbidden, e.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", bridge.ErrNotFound, e.Message)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", bridge.ErrClosed, e.Message)
	default:
		return e
	}
}

// NewWireError is the inverse of WireError.Err.
func NewWireError(err error) *WireError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, bridge.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, bridge.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, bridge.ErrClosed):
		code = http.StatusGone
	case errors.Is(err, ErrBadParams):
		code = http.StatusBadRequest
	}
	return &WireError{Code: code, Message: err.Error()}
}

var ErrBadParams = errors.New("bad params")

// Content travels as its kind plus the raw variant payload.
type ContentParams struct {
	Kind    entity.ContentKind  `json:"kind"`
	Content jsoniter.RawMessage `json:"content"`
}

func EncodeContent(c entity.Content) (ContentParams, error) {
	if c == nil {
		return ContentParams{}, fmt.Errorf("%w: missing content", ErrBadParams)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return ContentParams{}, err
	}
	return ContentParams{Kind: c.Kind(), Content: raw}, nil
}

func (p ContentParams) Decode() (entity.Content, error) {
	c, err := entity.DecodeContent(p.Kind, []byte(p.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: missing content", ErrBadParams)
	}
	return c, nil
}

type WhoAmIResult struct {
	UserID id.UserID `json:"user_id"`
}

type SubscribeParams struct {
	Sub    string    `json:"sub"`
	RoomID id.RoomID `json:"room_id,omitempty"`
}

type RoomParams struct {
	RoomID id.RoomID `json:"room_id"`
}

type PaginateParams struct {
	RoomID id.RoomID `json:"room_id"`
	Cursor string    `json:"cursor,omitempty"`
}

type EventParams struct {
	RoomID  id.RoomID  `json:"room_id"`
	EventID id.EventID `json:"event_id"`
	Reason  string     `json:"reason,omitempty"`
}

type SendParams struct {
	RoomID         id.RoomID  `json:"room_id,omitempty"`
	UserID         id.UserID  `json:"user_id,omitempty"`
	RepliedEventID id.EventID `json:"replied_event_id,omitempty"`
	TxnID          string     `json:"txn_id,omitempty"`
	ContentParams
}

type SendDirectResult struct {
	RoomID id.RoomID     `json:"room_id"`
	Event  *entity.Event `json:"event"`
}

type EditParams struct {
	RoomID  id.RoomID  `json:"room_id"`
	EventID id.EventID `json:"event_id"`
	Body    string     `json:"body"`
	TxnID   string     `json:"txn_id,omitempty"`
}

type MemberParams struct {
	RoomID id.RoomID `json:"room_id"`
	UserID id.UserID `json:"user_id"`
	Level  int       `json:"level,omitempty"`
}
