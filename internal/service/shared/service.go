package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Krakaw/scratchpad/internal/docker"
	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/config"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

const (
	healthPollInterval = time.Second
	healthPollTimeout  = 30 * time.Second
)

// Runtime is the slice of the container client the provisioner needs.
type Runtime interface {
	ListSharedServiceContainers(ctx context.Context) ([]docker.ContainerStatus, error)
	InspectContainer(ctx context.Context, id string) (docker.ContainerStatus, error)
	ContainerHealthy(ctx context.Context, id string) (bool, error)
	CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	EnsureNetwork(ctx context.Context) error
}

// Provisioner manages singleton service containers shared by every scratch.
// Containers are named deterministically so repeated ensures converge on the
// same instance.
type Provisioner struct {
	docker Runtime
	cfg    config.Config
	logger *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewProvisioner constructs a shared service provisioner.
func NewProvisioner(runtime Runtime, cfg config.Config, log *slog.Logger) *Provisioner {
	return &Provisioner{
		docker:       runtime,
		cfg:          cfg,
		logger:       logger.Component(log, "shared"),
		pollInterval: healthPollInterval,
		pollTimeout:  healthPollTimeout,
	}
}

// ContainerName returns the deterministic container name for a shared
// service key.
func (p *Provisioner) ContainerName(key string) string {
	return p.cfg.Docker.LabelPrefix + "-" + key
}

// EnsureRunning brings the shared service identified by key up and waits
// until it reports healthy. It is idempotent: an already running instance is
// reused, a stopped one is started, a missing one is created.
func (p *Provisioner) EnsureRunning(ctx context.Context, key string) (docker.ContainerStatus, error) {
	svc, ok := p.cfg.GetService(key)
	if !ok {
		return docker.ContainerStatus{}, fmt.Errorf("service %q is not in the catalogue: %w", key, domain.ErrNotFound)
	}
	if !svc.Shared {
		return docker.ContainerStatus{}, fmt.Errorf("service %q is not marked shared: %w", key, domain.ErrInvalidInput)
	}

	name := p.ContainerName(key)
	status, err := p.docker.InspectContainer(ctx, name)
	switch {
	case err == nil:
		if status.State != domain.StatusRunning {
			p.logger.Info("starting stopped shared service", "service", key, "container", name)
			if err := p.docker.StartContainer(ctx, status.ID); err != nil {
				return docker.ContainerStatus{}, fmt.Errorf("start shared service %s: %w", key, err)
			}
		}
	case errors.Is(err, docker.ErrNotFound):
		if err := p.create(ctx, key, name, svc); err != nil {
			return docker.ContainerStatus{}, err
		}
	default:
		return docker.ContainerStatus{}, fmt.Errorf("inspect shared service %s: %w", key, err)
	}

	if err := p.waitHealthy(ctx, key, name); err != nil {
		return docker.ContainerStatus{}, err
	}
	return p.docker.InspectContainer(ctx, name)
}

func (p *Provisioner) create(ctx context.Context, key, name string, svc config.ServiceConfig) error {
	if err := p.docker.EnsureNetwork(ctx); err != nil {
		return fmt.Errorf("ensure network: %w", err)
	}

	internal := svc.InternalPort
	if internal == 0 {
		internal = DefaultPort(key)
	}
	host := svc.Port
	if host == 0 {
		host = internal
	}

	spec := docker.CreateSpec{
		Name:        name,
		Image:       svc.Image,
		Env:         envList(svc.Env),
		Labels:      map[string]string{p.cfg.Docker.LabelPrefix + ".shared-service": key},
		Volumes:     svc.Volumes,
		Network:     p.cfg.Docker.Network,
		Healthcheck: svc.Healthcheck,
	}
	if internal > 0 {
		spec.Ports = []docker.PortMapping{{Host: host, Container: internal}}
	}
	p.logger.Info("creating shared service", "service", key, "container", name, "image", svc.Image)
	if _, err := p.docker.CreateContainer(ctx, spec); err != nil {
		return fmt.Errorf("create shared service %s: %w", key, err)
	}
	return nil
}

func (p *Provisioner) waitHealthy(ctx context.Context, key, name string) error {
	deadline := time.Now().Add(p.pollTimeout)
	for {
		healthy, err := p.docker.ContainerHealthy(ctx, name)
		if err == nil && healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("shared service %s did not become healthy within %s: %w", key, p.pollTimeout, domain.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// StartService starts a single shared service by key.
func (p *Provisioner) StartService(ctx context.Context, key string) error {
	_, err := p.EnsureRunning(ctx, key)
	return err
}

// StopService stops a single shared service by key. A missing container is
// reported as domain.ErrNotFound.
func (p *Provisioner) StopService(ctx context.Context, key string) error {
	name := p.ContainerName(key)
	status, err := p.docker.InspectContainer(ctx, name)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return fmt.Errorf("shared service %q has no container: %w", key, domain.ErrNotFound)
		}
		return fmt.Errorf("inspect shared service %s: %w", key, err)
	}
	if status.State != domain.StatusRunning {
		return nil
	}
	if err := p.docker.StopContainer(ctx, status.ID); err != nil {
		return fmt.Errorf("stop shared service %s: %w", key, err)
	}
	p.logger.Info("stopped shared service", "service", key)
	return nil
}

// StartAll ensures every shared service in the catalogue is running. It
// continues past individual failures and reports them joined.
func (p *Provisioner) StartAll(ctx context.Context) error {
	var errs []error
	for _, key := range p.sharedKeys() {
		if _, err := p.EnsureRunning(ctx, key); err != nil {
			p.logger.Warn("failed to start shared service", "service", key, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every shared service container found in the runtime.
func (p *Provisioner) StopAll(ctx context.Context) error {
	containers, err := p.docker.ListSharedServiceContainers(ctx)
	if err != nil {
		return fmt.Errorf("list shared services: %w", err)
	}
	var errs []error
	for _, c := range containers {
		if c.State != domain.StatusRunning {
			continue
		}
		if err := p.docker.StopContainer(ctx, c.ID); err != nil {
			p.logger.Warn("failed to stop shared service container", "container", c.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceStatus describes one catalogue shared service and its container.
type ServiceStatus struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	Container string `json:"container"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
}

// StatusAll reports the state of every shared service in the catalogue.
// Services without a container are reported with an empty state.
func (p *Provisioner) StatusAll(ctx context.Context) ([]ServiceStatus, error) {
	statuses := make([]ServiceStatus, 0)
	for _, key := range p.sharedKeys() {
		svc, _ := p.cfg.GetService(key)
		entry := ServiceStatus{
			Name:      key,
			Image:     svc.Image,
			Container: p.ContainerName(key),
		}
		status, err := p.docker.InspectContainer(ctx, entry.Container)
		switch {
		case err == nil:
			entry.State = status.State
			entry.Running = status.State == domain.StatusRunning
		case errors.Is(err, docker.ErrNotFound):
		default:
			return nil, fmt.Errorf("inspect shared service %s: %w", key, err)
		}
		statuses = append(statuses, entry)
	}
	return statuses, nil
}

func (p *Provisioner) sharedKeys() []string {
	keys := make([]string, 0, len(p.cfg.Services))
	for key, svc := range p.cfg.Services {
		if svc.Shared {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// DefaultPort maps well known service keys to their conventional ports.
func DefaultPort(key string) int {
	switch key {
	case "postgres", "postgresql":
		return 5432
	case "mysql", "mariadb":
		return 3306
	case "redis":
		return 6379
	case "mongo", "mongodb":
		return 27017
	case "kafka":
		return 9092
	default:
		return 0
	}
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}
