package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Krakaw/scratchpad/internal/docker"
	"github.com/Krakaw/scratchpad/internal/domain"
)

type fakeContainerSource struct {
	mu         sync.Mutex
	containers []docker.ContainerStatus
	logLines   map[string][]string
}

func (f *fakeContainerSource) set(containers ...docker.ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = containers
}

func (f *fakeContainerSource) ListScratchContainers(ctx context.Context, name string) ([]docker.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.ContainerStatus(nil), f.containers...), nil
}

func (f *fakeContainerSource) InspectContainer(ctx context.Context, id string) (docker.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.ID == id {
			return c, nil
		}
	}
	return docker.ContainerStatus{}, docker.ErrNotFound
}

func (f *fakeContainerSource) FollowLogs(ctx context.Context, id string, emit func(line string)) error {
	f.mu.Lock()
	lines := f.logLines[id]
	f.mu.Unlock()
	for _, line := range lines {
		emit(line)
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestPoller(source ContainerSource) (*Poller, *Hub) {
	hub := NewHub(discardLogger())
	poller := NewPoller(hub, source, "scratchpad", time.Second, discardLogger())
	return poller, hub
}

func TestParseContainerName(t *testing.T) {
	tests := []struct {
		name    string
		scratch string
		service string
		ok      bool
	}{
		{"scratchpad-feature-x-web", "feature-x", "web", true},
		{"scratchpad-demo-postgres", "demo", "postgres", true},
		{"scratchpad-solo", "solo", "", true},
		{"unrelated", "unrelated", "", true},
		{"", "", "", false},
	}
	for _, tt := range tests {
		scratch, service, ok := ParseContainerName("scratchpad", tt.name)
		if scratch != tt.scratch || service != tt.service || ok != tt.ok {
			t.Errorf("ParseContainerName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.name, scratch, service, ok, tt.scratch, tt.service, tt.ok)
		}
	}
}

func TestPollerBroadcastsStatusTransitions(t *testing.T) {
	source := &fakeContainerSource{}
	poller, hub := newTestPoller(source)
	defer poller.stopAllStreams()

	sink := &fakeSink{id: "observer"}
	hub.Subscribe(domain.StatusChannel("demo"), sink)
	all := &fakeSink{id: "all"}
	hub.Subscribe(domain.StatusChannelAll(), all)

	container := docker.ContainerStatus{
		ID:    "c1",
		Name:  "scratchpad-demo-web",
		State: domain.StatusRunning,
		Labels: map[string]string{
			"scratchpad.scratch": "demo",
			"scratchpad.service": "web",
		},
	}
	source.set(container)
	poller.pollOnce(context.Background())

	if sink.count() != 1 {
		t.Fatalf("expected initial status broadcast, got %d messages", sink.count())
	}
	if all.count() != 1 {
		t.Fatalf("expected wildcard status broadcast, got %d messages", all.count())
	}
	got := sink.received[0]
	if got.Type != domain.TypeStatusChange || got.Scratch != "demo" || got.Service != "web" || got.Status != domain.StatusRunning {
		t.Fatalf("unexpected status message: %+v", got)
	}

	// Unchanged state must not rebroadcast.
	poller.pollOnce(context.Background())
	if sink.count() != 1 {
		t.Fatalf("unchanged state triggered a broadcast, got %d messages", sink.count())
	}

	container.State = "exited"
	source.set(container)
	poller.pollOnce(context.Background())
	if sink.count() != 2 {
		t.Fatalf("state change not broadcast, got %d messages", sink.count())
	}
	if sink.received[1].Status != "exited" {
		t.Fatalf("expected exited status, got %q", sink.received[1].Status)
	}
}

func TestPollerEmitsContainerEventsOnTransitionsOnly(t *testing.T) {
	source := &fakeContainerSource{}
	poller, hub := newTestPoller(source)
	defer poller.stopAllStreams()

	events := &fakeSink{id: "events"}
	hub.Subscribe(domain.EventsChannel(), events)

	container := docker.ContainerStatus{
		ID:    "c1",
		Name:  "scratchpad-demo-web",
		State: "exited",
		Labels: map[string]string{
			"scratchpad.scratch": "demo",
			"scratchpad.service": "web",
		},
	}
	source.set(container)
	poller.pollOnce(context.Background())

	if events.count() != 0 {
		t.Fatalf("first sighting should not emit a container event, got %d", events.count())
	}

	container.State = domain.StatusRunning
	source.set(container)
	poller.pollOnce(context.Background())

	if events.count() != 1 {
		t.Fatalf("expected one container event, got %d", events.count())
	}
	if events.received[0].Action != domain.StatusRunning {
		t.Fatalf("unexpected event action %q", events.received[0].Action)
	}
}

func TestPollerFallsBackToNameParsing(t *testing.T) {
	source := &fakeContainerSource{}
	poller, hub := newTestPoller(source)

	sink := &fakeSink{id: "observer"}
	hub.Subscribe(domain.StatusChannel("feature-x"), sink)

	source.set(docker.ContainerStatus{
		ID:    "c2",
		Name:  "/scratchpad-feature-x-api",
		State: "exited",
	})
	poller.pollOnce(context.Background())

	if sink.count() != 1 {
		t.Fatalf("expected broadcast via name fallback, got %d messages", sink.count())
	}
	if sink.received[0].Service != "api" {
		t.Fatalf("expected service api, got %q", sink.received[0].Service)
	}
}

func TestPollerForgetsVanishedContainers(t *testing.T) {
	source := &fakeContainerSource{}
	poller, hub := newTestPoller(source)

	sink := &fakeSink{id: "observer"}
	hub.Subscribe(domain.StatusChannel("demo"), sink)

	container := docker.ContainerStatus{
		ID:    "c1",
		Name:  "scratchpad-demo-web",
		State: "exited",
		Labels: map[string]string{
			"scratchpad.scratch": "demo",
			"scratchpad.service": "web",
		},
	}
	source.set(container)
	poller.pollOnce(context.Background())

	source.set()
	poller.pollOnce(context.Background())

	// Reappearing counts as a fresh sighting.
	source.set(container)
	poller.pollOnce(context.Background())

	if sink.count() != 2 {
		t.Fatalf("expected rebroadcast after container reappeared, got %d messages", sink.count())
	}
}

func TestPollerStreamsLogsForRunningContainers(t *testing.T) {
	source := &fakeContainerSource{
		logLines: map[string][]string{"c1": {"hello", "world"}},
	}
	poller, hub := newTestPoller(source)

	logs := &fakeSink{id: "logs"}
	hub.Subscribe(domain.LogChannel("demo"), logs)
	svcLogs := &fakeSink{id: "svc-logs"}
	hub.Subscribe(domain.LogChannelService("demo", "web"), svcLogs)

	source.set(docker.ContainerStatus{
		ID:    "c1",
		Name:  "scratchpad-demo-web",
		State: domain.StatusRunning,
		Labels: map[string]string{
			"scratchpad.scratch": "demo",
			"scratchpad.service": "web",
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.pollOnce(ctx)

	deadline := time.After(2 * time.Second)
	for logs.count() < 2 || svcLogs.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for log broadcasts, scratch=%d service=%d", logs.count(), svcLogs.count())
		case <-time.After(10 * time.Millisecond):
		}
	}

	logs.mu.Lock()
	first := logs.received[0]
	logs.mu.Unlock()
	if first.Type != domain.TypeLog || first.Line != "hello" {
		t.Fatalf("unexpected log message: %+v", first)
	}

	poller.stopAllStreams()
}
