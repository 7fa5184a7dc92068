package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Krakaw/scratchpad/internal/domain"
)

const (
	sendBufferSize = 100
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
)

var errClientClosed = errors.New("ws: client closed")

// Client represents one websocket observer connection. Outbound messages go
// through a buffered channel drained by WritePump so a slow reader never
// blocks a broadcast.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan domain.ServerMessage
	done chan struct{}
	once sync.Once
	log  *slog.Logger

	mu       sync.Mutex
	channels []string
}

// NewClient constructs a client wrapper around an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.ServerMessage, sendBufferSize),
		done: make(chan struct{}),
		log:  logger,
	}
}

// ID returns the stable identity used for subscription bookkeeping.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message for delivery. It fails when the client is closed or
// its buffer is full; the hub treats either as a dropped sink.
func (c *Client) Send(msg domain.ServerMessage) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.Close()
		return errors.New("ws: send buffer full")
	}
}

// Closed reports whether the client has been torn down.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close terminates the connection and releases the write pump.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WritePump drains the outbound queue onto the wire, pinging periodically.
// It returns when the client closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadPump consumes client frames, maintaining hub subscriptions until the
// connection drops. On return every subscription is removed.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		c.unsubscribeAll(hub)
		c.Close()
	}()
	for {
		var msg domain.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case domain.TypeSubscribe:
			for _, channel := range msg.Channels {
				hub.Subscribe(channel, c)
				c.trackChannel(channel)
			}
			_ = c.Send(domain.ServerMessage{Type: domain.TypeSubscribed, Channels: msg.Channels})
		case domain.TypeUnsubscribe:
			for _, channel := range msg.Channels {
				hub.Unsubscribe(channel, c)
				c.untrackChannel(channel)
			}
			_ = c.Send(domain.ServerMessage{Type: domain.TypeUnsubscribed, Channels: msg.Channels})
		case domain.TypePing:
			_ = c.Send(domain.ServerMessage{Type: domain.TypePong})
		default:
			_ = c.Send(domain.ServerMessage{Type: domain.TypeError, Message: "unknown message type: " + msg.Type})
		}
	}
}

func (c *Client) trackChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
}

func (c *Client) untrackChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.channels[:0]
	for _, existing := range c.channels {
		if existing != channel {
			kept = append(kept, existing)
		}
	}
	c.channels = kept
}

func (c *Client) unsubscribeAll(hub *Hub) {
	c.mu.Lock()
	channels := append([]string(nil), c.channels...)
	c.channels = nil
	c.mu.Unlock()
	for _, channel := range channels {
		hub.Unsubscribe(channel, c)
	}
}
