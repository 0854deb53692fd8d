// Package wsfeed pushes the status of a recording to websocket clients.
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gorilla/websocket"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/xsync"
)

const (
	DefaultClientBuffer = 16
	DefaultWriteTimeout = 5 * time.Second
)

type EventType string

const (
	EventTypeStatus      = EventType("status")
	EventTypeStateChange = EventType("state_change")
)

// Event is a single JSON message sent to the clients.
type Event struct {
	Type   EventType                   `json:"type"`
	Status *screenrecorder.Status      `json:"status,omitempty"`
	From   screenrecorder.SessionState `json:"from,omitempty"`
	To     screenrecorder.SessionState `json:"to,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is an Observer and an http.Handler: every connected client receives
// all the events. A client which does not keep up misses events instead of
// slowing down the recording.
type Hub struct {
	Upgrader     websocket.Upgrader
	ClientBuffer int
	WriteTimeout time.Duration

	ctx     context.Context
	locker  xsync.Mutex
	clients map[*client]struct{}
	last    []byte
}

var (
	_ screenrecorder.Observer = (*Hub)(nil)
	_ http.Handler            = (*Hub)(nil)
)

func NewHub(ctx context.Context) *Hub {
	return &Hub{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ClientBuffer: DefaultClientBuffer,
		WriteTimeout: DefaultWriteTimeout,
		ctx:          xsync.WithNoLogging(ctx, true),
		clients:      map[*client]struct{}{},
	}
}

func (h *Hub) OnStatus(st screenrecorder.Status) {
	h.broadcast(Event{Type: EventTypeStatus, Status: &st}, true)
}

func (h *Hub) OnStateChange(from, to screenrecorder.SessionState, err error) {
	ev := Event{Type: EventTypeStateChange, From: from, To: to}
	if err != nil {
		ev.Error = err.Error()
	}
	h.broadcast(ev, false)
}

// Clients returns the amount of connected clients.
func (h *Hub) Clients() int {
	return xsync.DoR1(h.ctx, &h.locker, func() int {
		return len(h.clients)
	})
}

func (h *Hub) broadcast(ev Event, remember bool) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf(h.ctx, "unable to serialize %#+v: %v", ev, err)
		return
	}
	h.locker.Do(h.ctx, func() {
		if remember {
			h.last = b
		}
		for c := range h.clients {
			select {
			case c.send <- b:
			default:
				logger.Debugf(h.ctx, "the client %s is too slow, skipping an event", c.conn.RemoteAddr())
			}
		}
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := h.ctx
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf(ctx, "unable to upgrade the connection from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, max(h.ClientBuffer, 1)),
	}
	h.locker.Do(ctx, func() {
		if h.last != nil {
			c.send <- h.last
		}
		h.clients[c] = struct{}{}
	})
	logger.Debugf(ctx, "websocket client %s connected", conn.RemoteAddr())

	done := make(chan struct{})
	observability.Go(ctx, func(ctx context.Context) {
		defer close(done)
		h.writeLoop(ctx, c)
	})

	// the clients are not expected to send anything; reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf(ctx, "websocket client %s: %v", conn.RemoteAddr(), err)
			}
			break
		}
	}

	h.locker.Do(ctx, func() {
		delete(h.clients, c)
		close(c.send)
	})
	<-done
	_ = conn.Close()
	logger.Debugf(ctx, "websocket client %s disconnected", conn.RemoteAddr())
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Debugf(ctx, "unable to write to %s: %v", c.conn.RemoteAddr(), err)
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// Close disconnects all the clients.
func (h *Hub) Close() error {
	h.locker.Do(h.ctx, func() {
		for c := range h.clients {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "the recording is over"),
				time.Now().Add(time.Second),
			)
			_ = c.conn.Close()
		}
	})
	return nil
}
