package wsbridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB
)

type Options struct {
	URL            string
	Token          string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Client speaks the bridge protocol over one websocket connection.
type Client struct {
	conn    *websocket.Conn
	userID  id.UserID
	timeout time.Duration

	send   chan []byte
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame
	subs    map[string]func(Frame)
	closers map[string]func()
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ bridge.Client = (*Client)(nil)

// Dial connects, authenticates with the bearer token and learns which user
// the server assigned to the session.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: bridge rejected credentials", bridge.ErrForbidden)
		}
		return nil, fmt.Errorf("failed to dial bridge: %w", err)
	}

	c := &Client{
		conn:    conn,
		timeout: opts.RequestTimeout,
		send:    make(chan []byte, 256),
		pending: make(map[uint64]chan Frame),
		subs:    make(map[string]func(Frame)),
		closers: make(map[string]func()),
		done:    make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()

	var who WhoAmIResult
	if err := c.call(ctx, MethodWhoAmI, nil, &who); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.userID = who.UserID

	log.Info().Str("url", opts.URL).Str("userID", who.UserID.String()).Msg("bridge: connected")
	return c, nil
}

func (c *Client) UserID() id.UserID {
	return c.userID
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		closers := c.closers
		c.closers = map[string]func(){}
		c.subs = map[string]func(Frame){}
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		for _, closeFeed := range closers {
			closeFeed()
		}
	})
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	reply := make(chan Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bridge.ErrClosed
	}
	c.pending[req.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.send <- data:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return bridge.ErrClosed
	}

	select {
	case frame := <-reply:
		if frame.Error != nil {
			return frame.Error.Err()
		}
		if out == nil || len(frame.Result) == 0 {
			return nil
		}
		return json.Unmarshal(frame.Result, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return bridge.ErrClosed
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Msg("bridge: write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("bridge: connection lost")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("bridge: dropping malformed frame")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	c.mu.Lock()
	if frame.Sub != "" {
		deliver := c.subs[frame.Sub]
		closeFeed := c.closers[frame.Sub]
		if frame.End {
			delete(c.subs, frame.Sub)
			delete(c.closers, frame.Sub)
		}
		c.mu.Unlock()

		if deliver != nil && !frame.End {
			deliver(frame)
		}
		if frame.End && closeFeed != nil {
			closeFeed()
		}
		return
	}
	reply := c.pending[frame.ID]
	c.mu.Unlock()

	if reply != nil {
		reply <- frame
	}
}

// subscribe registers the local feed before asking the server, so pushes
// that race the response are not lost.
func (c *Client) subscribe(ctx context.Context, sub, method string, roomID id.RoomID, deliver func(Frame), closeFeed func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bridge.ErrClosed
	}
	c.subs[sub] = deliver
	c.closers[sub] = closeFeed
	c.mu.Unlock()

	if err := c.call(ctx, method, SubscribeParams{Sub: sub, RoomID: roomID}, nil); err != nil {
		c.forget(sub)
		return err
	}
	return nil
}

func (c *Client) forget(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sub]
	delete(c.subs, sub)
	delete(c.closers, sub)
	return ok
}

func (c *Client) unsubscribe(sub string) {
	if !c.forget(sub) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.call(ctx, MethodUnsubscribe, SubscribeParams{Sub: sub}, nil); err != nil {
		log.Debug().Err(err).Str("sub", sub).Msg("bridge: unsubscribe failed")
	}
}

func (c *Client) SubscribeRoom(ctx context.Context, roomID id.RoomID) (bridge.Subscription[entity.Event], error) {
	sub := uuid.NewString()
	feed := bridge.NewFeed[entity.Event](func() { go c.unsubscribe(sub) })

	err := c.subscribe(ctx, sub, MethodSubscribeRoom, roomID, func(f Frame) {
		if f.Event != nil {
			feed.Publish(*f.Event)
		}
	}, func() { _ = feed.Close() })
	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	return feed, nil
}

func (c *Client) SubscribeRooms(ctx context.Context) (bridge.Subscription[entity.Room], error) {
	sub := uuid.NewString()
	feed := bridge.NewFeed[entity.Room](func() { go c.unsubscribe(sub) })

	err := c.subscribe(ctx, sub, MethodSubscribeRooms, "", func(f Frame) {
		if f.Room != nil {
			feed.Publish(*f.Room)
		}
	}, func() { _ = feed.Close() })
	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	return feed, nil
}

func (c *Client) Paginate(ctx context.Context, roomID id.RoomID, cursor string) (*bridge.Page, error) {
	var page bridge.Page
	if err := c.call(ctx, MethodPaginate, PaginateParams{RoomID: roomID, Cursor: cursor}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*entity.Event, error) {
	var ev entity.Event
	if err := c.call(ctx, MethodFetchEvent, EventParams{RoomID: roomID, EventID: eventID}, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) RefetchMembers(ctx context.Context, roomID id.RoomID) ([]entity.Member, error) {
	var members []entity.Member
	if err := c.call(ctx, MethodRefetchMembers, RoomParams{RoomID: roomID}, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID, txnID string) (*entity.Event, error) {
	cp, err := EncodeContent(content)
	if err != nil {
		return nil, err
	}
	var ev entity.Event
	params := SendParams{RoomID: roomID, RepliedEventID: repliedEventID, TxnID: txnID, ContentParams: cp}
	if err := c.call(ctx, MethodSendMessage, params, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID, txnID string) (id.RoomID, *entity.Event, error) {
	cp, err := EncodeContent(content)
	if err != nil {
		return "", nil, err
	}
	var res SendDirectResult
	params := SendParams{UserID: userID, RepliedEventID: repliedEventID, TxnID: txnID, ContentParams: cp}
	if err := c.call(ctx, MethodSendDirectMessage, params, &res); err != nil {
		return "", nil, err
	}
	return res.RoomID, res.Event, nil
}

func (c *Client) DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error {
	return c.call(ctx, MethodDeleteMessage, EventParams{RoomID: roomID, EventID: eventID, Reason: reason}, nil)
}

func (c *Client) EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, txnID string) (*entity.Event, error) {
	var ev entity.Event
	if err := c.call(ctx, MethodEditMessage, EditParams{RoomID: roomID, EventID: eventID, Body: body, TxnID: txnID}, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	return c.call(ctx, MethodSetPowerLevel, MemberParams{RoomID: roomID, UserID: userID, Level: level}, nil)
}

func (c *Client) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	return c.call(ctx, MethodInviteUser, MemberParams{RoomID: roomID, UserID: userID}, nil)
}

func (c *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	return c.call(ctx, MethodJoinRoom, RoomParams{RoomID: roomID}, nil)
}
