package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/wsbridge"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB
	sendBuffer     = 256
)

// Client is one authenticated bridge session. Requests are served in the
// order they arrive; subscription pushes are interleaved by the write pump.
type Client struct {
	ID          string
	UserID      id.UserID
	RemoteIP    string
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	bridge  bridge.Client
	limiter *rate.Limiter
	onClose func()

	mu       sync.Mutex
	subs     map[string]interface{ Close() error }
	lastSeen time.Time

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID id.UserID, remoteIP string, limiter *rate.Limiter) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		RemoteIP:    remoteIP,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		ConnectedAt: now,
		ctx:         ctx,
		cancel:      cancel,
		limiter:     limiter,
		subs:        make(map[string]interface{ Close() error }),
		lastSeen:    now,
	}
}

func (c *Client) Start(h *Hub) {
	go c.writePump()
	go c.readPump(h)
}

func (c *Client) IsClientActive() bool {
	return c.ctx.Err() == nil
}

func (c *Client) GetLastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// Close tears the session down once: subscriptions first, then the bridge
// session, then the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]interface{ Close() error })
		c.mu.Unlock()

		for _, sub := range subs {
			_ = sub.Close()
		}
		if c.bridge != nil {
			_ = c.bridge.Close()
		}
		_ = c.Conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// SendFrame queues a frame, waiting for room in the buffer.
func (c *Client) SendFrame(frame wsbridge.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("clientID", c.ID).Msg("ws: failed to marshal frame")
		return false
	}

	select {
	case c.Send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// push queues a subscription frame without waiting. A consumer that cannot
// keep up is disconnected.
func (c *Client) push(frame wsbridge.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("clientID", c.ID).Msg("ws: failed to marshal push")
		return false
	}

	select {
	case c.Send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		log.Warn().Str("clientID", c.ID).Str("userID", c.UserID.String()).Msg("ws: slow consumer, closing session")
		go c.Close()
		return false
	}
}

// writePump: take data from c.Send and send to socket + ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				_ = w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump: read requests, answer them in order + handle pong for keep-alive
func (c *Client) readPump(h *Hub) {
	defer h.Unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("clientID", c.ID).Msg("ws: unexpected close")
			}
			return
		}
		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var req wsbridge.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.SendFrame(errorFrame(0, wsbridge.ErrBadParams))
			continue
		}

		h.updateStats(func(stats *HubStats) {
			stats.Requests++
		})

		if c.limiter != nil && !c.limiter.Allow() {
			c.SendFrame(wsbridge.Frame{ID: req.ID, Error: &wsbridge.WireError{Code: 429, Message: "too many requests"}})
			continue
		}

		if !c.SendFrame(c.handle(c.ctx, req)) {
			return
		}
	}
}

func (c *Client) track(sub string, closer interface{ Close() error }) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.subs[sub]; ok {
		_ = old.Close()
	}
	c.subs[sub] = closer
}

func (c *Client) untrack(sub string) interface{ Close() error } {
	c.mu.Lock()
	defer c.mu.Unlock()
	closer := c.subs[sub]
	delete(c.subs, sub)
	return closer
}

func (c *Client) release(sub string, closer interface{ Close() error }) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sub] == closer {
		delete(c.subs, sub)
	}
}
