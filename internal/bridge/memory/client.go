package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/permission"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client is one user's session on a Server.
type Client struct {
	server *Server
	userID id.UserID

	mu     sync.Mutex
	feeds  []interface{ Close() error }
	closed bool
}

var _ bridge.Client = (*Client)(nil)

func (c *Client) UserID() id.UserID {
	return c.userID
}

func (c *Client) track(f interface{ Close() error }) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return bridge.ErrClosed
	}
	c.feeds = append(c.feeds, f)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	feeds := c.feeds
	c.feeds = nil
	c.closed = true
	c.mu.Unlock()

	for _, f := range feeds {
		_ = f.Close()
	}
	return nil
}

// joinedRoom returns the room if the user is joined. Callers hold s.mu.
func (c *Client) joinedRoom(roomID id.RoomID) (*serverRoom, error) {
	r, ok := c.server.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	m, ok := r.members[c.userID]
	if !ok || m.Membership != event.MembershipJoin {
		return nil, fmt.Errorf("%w: %s is not joined to %s", bridge.ErrForbidden, c.userID, roomID)
	}
	return r, nil
}

func (c *Client) actor(r *serverRoom) permission.Actor {
	return permission.ActorInRoom(c.userID, r.snapshotFor(c.userID))
}

func (c *Client) deny(err error) error {
	return fmt.Errorf("%w: %v", bridge.ErrForbidden, err)
}

func (c *Client) SubscribeRoom(ctx context.Context, roomID id.RoomID) (bridge.Subscription[entity.Event], error) {
	if err := c.server.enter("subscribe_room"); err != nil {
		return nil, err
	}
	s := c.server

	var feed *bridge.Feed[entity.Event]
	feed = bridge.NewFeed[entity.Event](func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r, ok := s.rooms[roomID]; ok {
			delete(r.subs, feed)
		}
	})

	s.mu.Lock()
	r, err := c.joinedRoom(roomID)
	if err == nil {
		r.subs[feed] = c.userID
	}
	s.mu.Unlock()

	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	if err := c.track(feed); err != nil {
		_ = feed.Close()
		return nil, err
	}
	return feed, nil
}

func (c *Client) SubscribeRooms(ctx context.Context) (bridge.Subscription[entity.Room], error) {
	if err := c.server.enter("subscribe_rooms"); err != nil {
		return nil, err
	}
	s := c.server

	var feed *bridge.Feed[entity.Room]
	feed = bridge.NewFeed[entity.Room](func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.roomFeeds[c.userID], feed)
	})

	s.mu.Lock()
	if s.roomFeeds[c.userID] == nil {
		s.roomFeeds[c.userID] = make(map[*bridge.Feed[entity.Room]]struct{})
	}
	s.roomFeeds[c.userID][feed] = struct{}{}
	for _, room := range s.roomsForLocked(c.userID) {
		feed.Publish(room)
	}
	s.mu.Unlock()

	if err := c.track(feed); err != nil {
		_ = feed.Close()
		return nil, err
	}
	return feed, nil
}

func (c *Client) Paginate(ctx context.Context, roomID id.RoomID, cursor string) (*bridge.Page, error) {
	if err := c.server.enter("paginate"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return nil, err
	}

	end := len(r.events)
	if cursor != "" {
		before, err := bridge.ParseCursor(cursor)
		if err != nil {
			return nil, err
		}
		end = 0
		for end < len(r.events) && r.events[end].Seq < before {
			end++
		}
	}
	start := end - s.pageSize
	if start < 0 {
		start = 0
	}

	page := &bridge.Page{Events: make([]entity.Event, 0, end-start)}
	for _, ev := range r.events[start:end] {
		if ev.Sender != c.userID {
			ev.TxnID = ""
		}
		page.Events = append(page.Events, ev)
	}
	if start > 0 {
		next := bridge.CursorBefore(r.events[start].Seq)
		page.NextCursor = &next
	}
	return page, nil
}

func (c *Client) FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*entity.Event, error) {
	if err := c.server.enter("fetch_event"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return nil, err
	}
	idx, ok := r.index[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", bridge.ErrNotFound, eventID)
	}
	ev := r.events[idx]
	return &ev, nil
}

func (c *Client) RefetchMembers(ctx context.Context, roomID id.RoomID) ([]entity.Member, error) {
	if err := c.server.enter("refetch_members"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	if _, ok := r.members[c.userID]; !ok {
		return nil, fmt.Errorf("%w: %s has no membership in %s", bridge.ErrForbidden, c.userID, roomID)
	}
	return r.membersSorted(), nil
}

func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID, txnID string) (*entity.Event, error) {
	if err := c.server.enter("send_message"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return nil, err
	}
	return c.sendLocked(r, content, repliedEventID, txnID)
}

func (c *Client) sendLocked(r *serverRoom, content entity.Content, repliedEventID id.EventID, txnID string) (*entity.Event, error) {
	s := c.server
	if txnID != "" {
		if existing, ok := r.txns[string(c.userID)+"|"+txnID]; ok {
			ev := r.events[r.index[existing]]
			return &ev, nil
		}
	}

	room := r.snapshotFor(c.userID)
	if err := s.gate.CheckAll(room, c.actor(r), permission.ActionsForContent(content), nil); err != nil {
		return nil, c.deny(err)
	}
	ev := s.appendLocked(r, c.userID, content, repliedEventID, txnID)
	return &ev, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID, txnID string) (id.RoomID, *entity.Event, error) {
	if err := c.server.enter("send_direct_message"); err != nil {
		return "", nil, err
	}
	if userID == c.userID {
		return "", nil, fmt.Errorf("%w: cannot open a direct room with yourself", bridge.ErrForbidden)
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(c.userID, userID)
	roomID, ok := s.direct[key]
	if !ok {
		r := s.newRoomLocked(RoomSpec{Kind: entity.RoomKindDirect, Visibility: entity.VisibilityPrivate})
		admin := s.gate.Thresholds().Admin
		s.setMemberLocked(r, c.userID, event.MembershipJoin, admin)
		s.setMemberLocked(r, userID, event.MembershipJoin, admin)
		s.pushRoomLocked(r, c.userID)
		s.direct[key] = r.id
		roomID = r.id
	}

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return roomID, nil, err
	}
	ev, err := c.sendLocked(r, content, repliedEventID, txnID)
	return roomID, ev, err
}

func (c *Client) DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error {
	if err := c.server.enter("delete_message"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return err
	}
	idx, ok := r.index[eventID]
	if !ok {
		return fmt.Errorf("%w: event %s", bridge.ErrNotFound, eventID)
	}
	target := r.events[idx]

	action := permission.DeleteAction(c.userID, target.Sender)
	if err := s.gate.Check(r.snapshotFor(c.userID), c.actor(r), action, &permission.Target{Sender: target.Sender}); err != nil {
		return c.deny(err)
	}
	if r.redacted(eventID) {
		return nil
	}
	s.appendLocked(r, c.userID, entity.RedactionContent{Redacts: eventID, Reason: reason}, "", "")
	return nil
}

func (c *Client) EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, txnID string) (*entity.Event, error) {
	if err := c.server.enter("edit_message"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return nil, err
	}
	idx, ok := r.index[eventID]
	if !ok || r.redacted(eventID) {
		return nil, fmt.Errorf("%w: event %s", bridge.ErrNotFound, eventID)
	}
	target := r.events[idx]

	if err := s.gate.Check(r.snapshotFor(c.userID), c.actor(r), permission.EditOwn, &permission.Target{Sender: target.Sender}); err != nil {
		return nil, c.deny(err)
	}
	ev := s.appendLocked(r, c.userID, entity.EditContent{Replaces: eventID, NewBody: body}, "", txnID)
	return &ev, nil
}

func (c *Client) SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	if err := c.server.enter("set_power_level"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return err
	}
	m, ok := r.members[userID]
	if !ok {
		return fmt.Errorf("%w: member %s", bridge.ErrNotFound, userID)
	}

	target := &permission.Target{Member: m, NewLevel: level}
	if err := s.gate.Check(r.snapshotFor(c.userID), c.actor(r), permission.SetPowerLevel, target); err != nil {
		return c.deny(err)
	}
	s.setMemberLocked(r, userID, m.Membership, level)
	return nil
}

func (c *Client) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	if err := c.server.enter("invite_user"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := c.joinedRoom(roomID)
	if err != nil {
		return err
	}
	if err := s.gate.Check(r.snapshotFor(c.userID), c.actor(r), permission.Invite, nil); err != nil {
		return c.deny(err)
	}
	level := 0
	if m, ok := r.members[userID]; ok {
		switch m.Membership {
		case event.MembershipJoin, event.MembershipInvite:
			return nil
		case event.MembershipBan:
			return fmt.Errorf("%w: %s is banned", bridge.ErrForbidden, userID)
		}
		level = m.PowerLevel
	}
	s.setMemberLocked(r, userID, event.MembershipInvite, level)
	return nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	if err := c.server.enter("join_room"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", bridge.ErrNotFound, roomID)
	}
	if err := s.gate.Check(r.snapshotFor(c.userID), c.actor(r), permission.Join, nil); err != nil {
		return c.deny(err)
	}
	level := 0
	if m, ok := r.members[c.userID]; ok {
		level = m.PowerLevel
	}
	s.setMemberLocked(r, c.userID, event.MembershipJoin, level)
	return nil
}
