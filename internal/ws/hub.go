package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

// Subscriber abstracts a streaming client sink. Sinks carry a stable
// identity so subscriptions can be removed precisely; a closed sink becomes
// inert and is pruned on the next cleanup pass.
type Subscriber interface {
	ID() string
	Send(msg domain.ServerMessage) error
	Closed() bool
}

// Hub fans out messages to subscribers keyed by channel name. Broadcast
// takes only a read lock so concurrent broadcasts to different channels do
// not serialize against each other.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber
	logger   *slog.Logger
}

// NewHub creates an initialized Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[string]Subscriber),
		logger:   logger.Component(log, "hub"),
	}
}

// Subscribe adds a sink to a channel.
func (h *Hub) Subscribe(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sinks, ok := h.channels[channel]
	if !ok {
		sinks = make(map[string]Subscriber)
		h.channels[channel] = sinks
	}
	sinks[sub.ID()] = sub
}

// Unsubscribe removes a sink from a channel by identity and prunes any
// inert sinks found there, dropping the channel once empty.
func (h *Hub) Unsubscribe(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sinks, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(sinks, sub.ID())
	for id, s := range sinks {
		if s.Closed() {
			delete(sinks, id)
		}
	}
	if len(sinks) == 0 {
		delete(h.channels, channel)
	}
}

// Broadcast delivers msg to every sink on the channel. Delivery failures
// are swallowed; the failed sink is pruned on the next cleanup pass.
func (h *Hub) Broadcast(channel string, msg domain.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.channels[channel] {
		_ = sub.Send(msg)
	}
}

// Channels returns the names of channels with at least one subscriber.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	return names
}

// Cleanup prunes inert sinks across all channels and drops empty channels.
func (h *Hub) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, sinks := range h.channels {
		for id, sub := range sinks {
			if sub.Closed() {
				delete(sinks, id)
			}
		}
		if len(sinks) == 0 {
			delete(h.channels, name)
		}
	}
}

// RunCleanup sweeps on a fixed interval until the context is cancelled.
func (h *Hub) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Cleanup()
		}
	}
}
