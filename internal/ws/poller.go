package ws

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Krakaw/scratchpad/internal/docker"
	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

const defaultPollInterval = 5 * time.Second

// ContainerSource is the slice of the runtime client the poller needs.
type ContainerSource interface {
	ListScratchContainers(ctx context.Context, name string) ([]docker.ContainerStatus, error)
	InspectContainer(ctx context.Context, id string) (docker.ContainerStatus, error)
	FollowLogs(ctx context.Context, id string, emit func(line string)) error
}

// Poller periodically diffs labeled container state against the previous
// cycle and publishes status transitions to the hub. It also owns one log
// follower per running container, feeding the log channels.
type Poller struct {
	hub         *Hub
	docker      ContainerSource
	labelPrefix string
	interval    time.Duration
	logger      *slog.Logger

	last    map[string]string
	streams map[string]context.CancelFunc
	now     func() time.Time
}

// NewPoller constructs a status poller.
func NewPoller(hub *Hub, source ContainerSource, labelPrefix string, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		hub:         hub,
		docker:      source,
		labelPrefix: labelPrefix,
		interval:    interval,
		logger:      logger.Component(log, "poller"),
		last:        make(map[string]string),
		streams:     make(map[string]context.CancelFunc),
		now:         time.Now,
	}
}

// Run polls until the context is cancelled. Errors within a cycle are
// logged and the loop continues with the next cycle.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("status poller started", "interval", p.interval)
	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.stopAllStreams()
			p.logger.Info("status poller stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	containers, err := p.docker.ListScratchContainers(ctx, "")
	if err != nil {
		p.logger.Warn("failed to list containers", "error", err)
		return
	}

	seen := make(map[string]struct{}, len(containers))
	for _, summary := range containers {
		inspected, err := p.docker.InspectContainer(ctx, summary.ID)
		if err != nil {
			p.logger.Warn("failed to inspect container", "container_id", summary.ID, "error", err)
			continue
		}
		scratch, service, ok := p.identify(inspected)
		if !ok {
			continue
		}
		seen[inspected.ID] = struct{}{}

		previous, known := p.last[inspected.ID]
		if known && previous == inspected.State {
			continue
		}
		p.last[inspected.ID] = inspected.State

		timestamp := p.now().UTC().Format(time.RFC3339)
		msg := domain.ServerMessage{
			Type:      domain.TypeStatusChange,
			Scratch:   scratch,
			Service:   service,
			Status:    inspected.State,
			Timestamp: timestamp,
		}
		p.hub.Broadcast(domain.StatusChannel(scratch), msg)
		p.hub.Broadcast(domain.StatusChannelAll(), msg)
		if known {
			p.hub.Broadcast(domain.EventsChannel(), domain.ServerMessage{
				Type:    domain.TypeContainerEvent,
				Scratch: scratch,
				Service: service,
				Action:  inspected.State,
			})
		}
		p.syncLogStream(ctx, inspected, scratch, service)
	}

	for id := range p.last {
		if _, ok := seen[id]; !ok {
			delete(p.last, id)
			p.stopStream(id)
		}
	}
}

// identify maps a container back to its scratch and service, preferring
// labels and falling back to the <prefix>-<scratch>-<service> naming
// convention.
func (p *Poller) identify(c docker.ContainerStatus) (string, string, bool) {
	scratch := c.Labels[p.labelPrefix+".scratch"]
	service := c.Labels[p.labelPrefix+".service"]
	if scratch != "" && service != "" {
		return scratch, service, true
	}
	name := strings.TrimPrefix(c.Name, "/")
	return ParseContainerName(p.labelPrefix, name)
}

// ParseContainerName splits a <prefix>-<scratch>-<service> container name.
// Names without the prefix are treated as a bare scratch name.
func ParseContainerName(prefix, name string) (string, string, bool) {
	if name == "" {
		return "", "", false
	}
	rest, found := strings.CutPrefix(name, prefix+"-")
	if !found {
		return name, "", true
	}
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return rest, "", true
	}
	return rest[:idx], rest[idx+1:], true
}

func (p *Poller) syncLogStream(ctx context.Context, c docker.ContainerStatus, scratch, service string) {
	if c.State == domain.StatusRunning {
		if _, active := p.streams[c.ID]; active {
			return
		}
		streamCtx, cancel := context.WithCancel(ctx)
		p.streams[c.ID] = cancel
		go p.followLogs(streamCtx, c.ID, scratch, service)
		return
	}
	p.stopStream(c.ID)
}

func (p *Poller) followLogs(ctx context.Context, id, scratch, service string) {
	err := p.docker.FollowLogs(ctx, id, func(line string) {
		msg := domain.ServerMessage{
			Type:      domain.TypeLog,
			Scratch:   scratch,
			Service:   service,
			Line:      line,
			Timestamp: p.now().UTC().Format(time.RFC3339),
		}
		p.hub.Broadcast(domain.LogChannel(scratch), msg)
		p.hub.Broadcast(domain.LogChannelService(scratch, service), msg)
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("log stream ended", "container_id", id, "error", err)
	}
}

func (p *Poller) stopStream(id string) {
	if cancel, ok := p.streams[id]; ok {
		cancel()
		delete(p.streams, id)
	}
}

func (p *Poller) stopAllStreams() {
	for id, cancel := range p.streams {
		cancel()
		delete(p.streams, id)
	}
}
