package scratch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Krakaw/scratchpad/internal/compose"
	"github.com/Krakaw/scratchpad/internal/docker"
	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/config"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

// Runtime is the slice of the container client the lifecycle manager needs.
type Runtime interface {
	ListScratchContainers(ctx context.Context, name string) ([]docker.ContainerStatus, error)
	EnsureNetwork(ctx context.Context) error
	TailLogs(ctx context.Context, id string, tail int) ([]string, error)
}

// Provisioner brings shared singleton services up before a scratch that
// depends on them is created.
type Provisioner interface {
	EnsureRunning(ctx context.Context, key string) (docker.ContainerStatus, error)
}

// Databases provisions and tears down per-scratch logical databases.
type Databases interface {
	CreateDatabase(ctx context.Context, key, scratch string) (string, error)
	DropDatabase(ctx context.Context, key, scratch string) error
	ServiceURL(key, scratch string) (string, error)
}

// Runner drives the compose subprocess against a scratch directory.
type Runner interface {
	Up(ctx context.Context, dir string) error
	Down(ctx context.Context, dir string) error
}

// Router regenerates and reloads proxy routing after the scratch set changes.
type Router interface {
	Regenerate(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Service is the lifecycle manager: it owns the releases directory and the
// create/start/stop/restart/delete state machine for scratches.
type Service struct {
	docker      Runtime
	provisioner Provisioner
	databases   Databases
	runner      Runner
	router      Router
	renderer    *Renderer
	cfg         config.Config
	logger      *slog.Logger
	locks       *keyedMutex
}

// New constructs the lifecycle manager.
func New(runtime Runtime, provisioner Provisioner, databases Databases, runner Runner, router Router, cfg config.Config, log *slog.Logger) *Service {
	return &Service{
		docker:      runtime,
		provisioner: provisioner,
		databases:   databases,
		runner:      runner,
		router:      router,
		renderer:    NewRenderer(cfg.Server.TemplatesDir),
		cfg:         cfg,
		logger:      logger.Component(log, "scratch"),
		locks:       newKeyedMutex(),
	}
}

// CreateOptions are the caller-supplied parameters for Create. Branch is
// required; everything else falls back to the profile or global defaults.
type CreateOptions struct {
	Branch   string
	Name     string
	Profile  string
	Template string
}

// Create builds a new scratch: directory tree, provisioned databases,
// rendered compose document, metadata record, and a running environment.
// Creation is not transactional past the directory write; on failure the
// partially written directory is removed so a retry starts clean.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*domain.Scratch, error) {
	name := opts.Name
	if name == "" {
		name = opts.Branch
	}
	name = domain.SanitizeName(name)
	if name == "" {
		return nil, fmt.Errorf("scratch name is empty after sanitizing: %w", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	dir := s.dir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("scratch %q already exists: %w", name, domain.ErrAlreadyExists)
	}

	services, template, env, err := s.resolveDeclaration(opts)
	if err != nil {
		return nil, err
	}

	if err := s.docker.EnsureNetwork(ctx); err != nil {
		return nil, fmt.Errorf("ensure network: %w", err)
	}

	for _, sub := range []string{"", "logs", "data"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}
	}

	scratch, err := s.build(ctx, name, opts.Branch, template, services, env, dir)
	if err != nil {
		// Creation is a one-way sequence; remove the partial directory
		// so the name is reusable.
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("failed to remove partial scratch directory", "scratch", name, "error", rmErr)
		}
		return nil, err
	}

	s.refreshRouting(ctx, name)
	s.logger.Info("scratch created", "scratch", name, "branch", opts.Branch, "services", services)
	return scratch, nil
}

func (s *Service) build(ctx context.Context, name, branch, template string, services []string, env map[string]string, dir string) (*domain.Scratch, error) {
	scratch := domain.NewScratch(name, branch, template)
	scratch.Services = services
	scratch.Env = env

	extraEnv := map[string]string{}
	for k, v := range env {
		extraEnv[k] = v
	}
	for _, key := range services {
		svc, ok := s.cfg.GetService(key)
		if !ok || !svc.Shared {
			continue
		}
		if _, err := s.provisioner.EnsureRunning(ctx, key); err != nil {
			return nil, fmt.Errorf("ensure shared service %s: %w", key, err)
		}
		if svc.AutoCreateDB {
			dbName, err := s.databases.CreateDatabase(ctx, key, name)
			if err != nil {
				return nil, fmt.Errorf("provision database on %s: %w", key, err)
			}
			scratch.Databases[key] = append(scratch.Databases[key], dbName)
			url, err := s.databases.ServiceURL(key, name)
			if err != nil {
				return nil, fmt.Errorf("build connection url for %s: %w", key, err)
			}
			extraEnv["DATABASE_URL"] = url
		}
		if key == "redis" {
			port := svc.InternalPort
			if port == 0 {
				port = 6379
			}
			extraEnv["REDIS_URL"] = fmt.Sprintf("redis://%s-redis:%d", s.cfg.Docker.LabelPrefix, port)
		}
	}

	rendered, err := s.renderer.Render(name, template, services, s.cfg, extraEnv)
	if err != nil {
		return nil, err
	}
	doc, err := compose.Load(ctx, rendered, name)
	if err != nil {
		return nil, err
	}
	doc.AddLabels(name, s.cfg.Docker.LabelPrefix)
	doc.AddNetwork(s.cfg.Docker.Network)
	if err := doc.Save(filepath.Join(dir, composeFile)); err != nil {
		return nil, err
	}

	if err := writeMetadata(dir, scratch); err != nil {
		return nil, err
	}
	if err := s.runner.Up(ctx, dir); err != nil {
		return nil, fmt.Errorf("start scratch %s: %w", name, err)
	}
	return scratch, nil
}

// resolveDeclaration merges the optional profile over the global scratch
// defaults and validates every declared service against the catalogue.
func (s *Service) resolveDeclaration(opts CreateOptions) ([]string, string, map[string]string, error) {
	services := s.cfg.Scratch.Services
	template := s.cfg.Scratch.Template
	env := s.cfg.Scratch.Env

	if opts.Profile != "" {
		profile, ok := s.cfg.GetProfile(opts.Profile)
		if !ok {
			return nil, "", nil, fmt.Errorf("profile %q is not defined: %w", opts.Profile, domain.ErrNotFound)
		}
		if len(profile.Services) > 0 {
			services = profile.Services
		}
		if profile.Template != "" {
			template = profile.Template
		}
		if len(profile.Env) > 0 {
			env = profile.Env
		}
	}
	if opts.Template != "" {
		template = opts.Template
	}
	if len(services) == 0 {
		return nil, "", nil, fmt.Errorf("no services declared for scratch: %w", domain.ErrInvalidInput)
	}
	for _, key := range services {
		if _, ok := s.cfg.GetService(key); !ok {
			return nil, "", nil, fmt.Errorf("service %q is not in the catalogue: %w", key, domain.ErrNotFound)
		}
	}
	copied := map[string]string{}
	for k, v := range env {
		copied[k] = v
	}
	return append([]string(nil), services...), template, copied, nil
}

// Start brings an existing scratch's containers up.
func (s *Service) Start(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()
	return s.start(ctx, name)
}

// Stop takes an existing scratch's containers down.
func (s *Service) Stop(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()
	return s.stop(ctx, name)
}

// Restart stops then starts a scratch. Not atomic: observers may see the
// scratch fully stopped between the two steps.
func (s *Service) Restart(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()
	if err := s.stop(ctx, name); err != nil {
		return err
	}
	return s.start(ctx, name)
}

func (s *Service) start(ctx context.Context, name string) error {
	dir, err := s.existingDir(name)
	if err != nil {
		return err
	}
	if err := s.runner.Up(ctx, dir); err != nil {
		return fmt.Errorf("start scratch %s: %w", name, err)
	}
	s.logger.Info("scratch started", "scratch", name)
	return nil
}

func (s *Service) stop(ctx context.Context, name string) error {
	dir, err := s.existingDir(name)
	if err != nil {
		return err
	}
	if err := s.runner.Down(ctx, dir); err != nil {
		return fmt.Errorf("stop scratch %s: %w", name, err)
	}
	s.logger.Info("scratch stopped", "scratch", name)
	return nil
}

// Delete tears a scratch down: databases are dropped best-effort, the
// environment is taken down, the directory tree is removed, and routing is
// refreshed. Cleanup failures along the way are logged, not fatal.
func (s *Service) Delete(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	dir, err := s.existingDir(name)
	if err != nil {
		return err
	}

	meta, err := readMetadata(dir)
	if err != nil {
		s.logger.Warn("metadata unreadable, skipping database cleanup", "scratch", name, "error", err)
	} else {
		for key := range meta.Databases {
			if err := s.databases.DropDatabase(ctx, key, name); err != nil {
				s.logger.Warn("failed to drop database", "scratch", name, "service", key, "error", err)
			}
		}
	}

	if err := s.runner.Down(ctx, dir); err != nil {
		s.logger.Warn("failed to stop scratch containers", "scratch", name, "error", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}

	s.refreshRouting(ctx, name)
	s.logger.Info("scratch deleted", "scratch", name)
	return nil
}

// List joins releases directories with live labeled container state. A
// directory with unreadable metadata degrades to defaults instead of failing
// the listing.
func (s *Service) List(ctx context.Context) ([]domain.ScratchStatus, error) {
	entries, err := os.ReadDir(s.cfg.Server.ReleasesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ScratchStatus{}, nil
		}
		return nil, fmt.Errorf("read releases directory: %w", err)
	}

	statuses := make([]domain.ScratchStatus, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		status := domain.NewScratchStatus(name, "")
		if meta, err := readMetadata(s.dir(name)); err == nil {
			status.Branch = meta.Branch
			status.CreatedAt = &meta.CreatedAt
			for _, dbs := range meta.Databases {
				status.Databases = append(status.Databases, dbs...)
			}
			sort.Strings(status.Databases)
		} else {
			s.logger.Warn("metadata unreadable, using defaults", "scratch", name, "error", err)
		}

		containers, err := s.docker.ListScratchContainers(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list containers for %s: %w", name, err)
		}
		for _, c := range containers {
			service := c.Labels[s.cfg.Docker.LabelPrefix+".service"]
			if service == "" {
				service = c.Name
			}
			status.Services[service] = c.State
		}
		status.CalculateStatus()
		status.URL = s.scratchURL(name)
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// Get returns the status projection for one scratch.
func (s *Service) Get(ctx context.Context, name string) (domain.ScratchStatus, error) {
	statuses, err := s.List(ctx)
	if err != nil {
		return domain.ScratchStatus{}, err
	}
	for _, status := range statuses {
		if status.Name == name {
			return status, nil
		}
	}
	return domain.ScratchStatus{}, fmt.Errorf("scratch %q: %w", name, domain.ErrNotFound)
}

// Logs tails the log output of one service container within a scratch.
func (s *Service) Logs(ctx context.Context, name, service string, tail int) ([]string, error) {
	if _, err := s.existingDir(name); err != nil {
		return nil, err
	}
	containers, err := s.docker.ListScratchContainers(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w", name, err)
	}
	for _, c := range containers {
		if c.Labels[s.cfg.Docker.LabelPrefix+".service"] == service || strings.HasSuffix(c.Name, "-"+service) {
			return s.docker.TailLogs(ctx, c.ID, tail)
		}
	}
	return nil, fmt.Errorf("service %q has no container in scratch %q: %w", service, name, domain.ErrNotFound)
}

func (s *Service) dir(name string) string {
	return filepath.Join(s.cfg.Server.ReleasesDir, name)
}

func (s *Service) existingDir(name string) (string, error) {
	dir := s.dir(name)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("scratch %q: %w", name, domain.ErrNotFound)
		}
		return "", fmt.Errorf("stat scratch directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("scratch %q: %w", name, domain.ErrNotFound)
	}
	return dir, nil
}

func (s *Service) scratchURL(name string) string {
	if !s.cfg.Proxy.Enabled {
		return ""
	}
	if s.cfg.Proxy.Style == config.RoutingPath {
		return fmt.Sprintf("http://%s/%s/", s.cfg.Proxy.Domain, name)
	}
	return fmt.Sprintf("http://%s.%s", name, s.cfg.Proxy.Domain)
}

// refreshRouting regenerates and reloads the proxy after a membership
// change. Routing failures never fail the lifecycle operation.
func (s *Service) refreshRouting(ctx context.Context, name string) {
	if !s.cfg.Proxy.Enabled {
		return
	}
	if err := s.router.Regenerate(ctx); err != nil {
		s.logger.Warn("failed to regenerate routing", "scratch", name, "error", err)
		return
	}
	if err := s.router.Reload(ctx); err != nil {
		s.logger.Warn("failed to reload proxy", "scratch", name, "error", err)
	}
}
