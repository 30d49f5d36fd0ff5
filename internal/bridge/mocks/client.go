package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

// Client is a testify mock of bridge.Client.
type Client struct {
	mock.Mock
	User id.UserID
}

var _ bridge.Client = (*Client)(nil)

func (m *Client) UserID() id.UserID {
	return m.User
}

func (m *Client) SubscribeRoom(ctx context.Context, roomID id.RoomID) (bridge.Subscription[entity.Event], error) {
	args := m.Called(ctx, roomID)
	sub, _ := args.Get(0).(bridge.Subscription[entity.Event])
	return sub, args.Error(1)
}

func (m *Client) SubscribeRooms(ctx context.Context) (bridge.Subscription[entity.Room], error) {
	args := m.Called(ctx)
	sub, _ := args.Get(0).(bridge.Subscription[entity.Room])
	return sub, args.Error(1)
}

func (m *Client) Paginate(ctx context.Context, roomID id.RoomID, cursor string) (*bridge.Page, error) {
	args := m.Called(ctx, roomID, cursor)
	page, _ := args.Get(0).(*bridge.Page)
	return page, args.Error(1)
}

func (m *Client) FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*entity.Event, error) {
	args := m.Called(ctx, roomID, eventID)
	ev, _ := args.Get(0).(*entity.Event)
	return ev, args.Error(1)
}

func (m *Client) RefetchMembers(ctx context.Context, roomID id.RoomID) ([]entity.Member, error) {
	args := m.Called(ctx, roomID)
	members, _ := args.Get(0).([]entity.Member)
	return members, args.Error(1)
}

func (m *Client) SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID, txnID string) (*entity.Event, error) {
	args := m.Called(ctx, roomID, content, repliedEventID, txnID)
	ev, _ := args.Get(0).(*entity.Event)
	return ev, args.Error(1)
}

func (m *Client) SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID, txnID string) (id.RoomID, *entity.Event, error) {
	args := m.Called(ctx, userID, content, repliedEventID, txnID)
	roomID, _ := args.Get(0).(id.RoomID)
	ev, _ := args.Get(1).(*entity.Event)
	return roomID, ev, args.Error(2)
}

func (m *Client) DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error {
	return m.Called(ctx, roomID, eventID, reason).Error(0)
}

func (m *Client) EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, txnID string) (*entity.Event, error) {
	args := m.Called(ctx, roomID, eventID, body, txnID)
	ev, _ := args.Get(0).(*entity.Event)
	return ev, args.Error(1)
}

func (m *Client) SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	return m.Called(ctx, roomID, userID, level).Error(0)
}

func (m *Client) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	return m.Called(ctx, roomID, userID).Error(0)
}

func (m *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *Client) Close() error {
	return nil
}
