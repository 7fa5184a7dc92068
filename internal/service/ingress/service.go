package ingress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Krakaw/scratchpad/internal/docker"
	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/config"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

const defaultUpstreamPort = 3000

// Lister supplies the current scratch names for static-mode generation.
type Lister interface {
	Names() ([]string, error)
}

// DirLister lists scratch names straight from the releases directory, which
// keeps routing generation independent of the lifecycle manager.
type DirLister string

// Names returns the scratch directory names, sorted.
func (d DirLister) Names() ([]string, error) {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read releases directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Runtime is the slice of the container client used for in-container proxy
// reloads.
type Runtime interface {
	InspectContainer(ctx context.Context, id string) (docker.ContainerStatus, error)
	FindContainerByName(ctx context.Context, fragment string) (docker.ContainerStatus, error)
	ExecCommand(ctx context.Context, id string, cmd []string) (string, error)
}

// Service renders and reloads reverse-proxy routing for scratches.
type Service struct {
	docker   Runtime
	lister   Lister
	cfg      config.Config
	logger   *slog.Logger
	execHost func(ctx context.Context, command string) error
}

// New constructs the routing generator.
func New(runtime Runtime, lister Lister, cfg config.Config, log *slog.Logger) *Service {
	return &Service{
		docker:   runtime,
		lister:   lister,
		cfg:      cfg,
		logger:   logger.Component(log, "ingress"),
		execHost: runHostCommand,
	}
}

type renderContext struct {
	Domain      string
	DomainRegex string
	Ingress     string
	Port        int
	Scratches   []string
}

// Regenerate writes the proxy configuration for the current routing mode and
// style. It is a no-op when routing is disabled.
func (s *Service) Regenerate(ctx context.Context) error {
	if !s.cfg.Proxy.Enabled {
		return nil
	}
	if s.cfg.Proxy.IngressService == "" {
		return fmt.Errorf("proxy routing requires an ingress service: %w", domain.ErrInvalidInput)
	}

	data := renderContext{
		Domain:      s.cfg.Proxy.Domain,
		DomainRegex: strings.ReplaceAll(s.cfg.Proxy.Domain, ".", `\.`),
		Ingress:     s.cfg.Proxy.IngressService,
		Port:        s.upstreamPort(),
	}
	if s.cfg.Proxy.Mode == config.ModeStatic {
		names, err := s.lister.Names()
		if err != nil {
			return fmt.Errorf("list scratches for static routing: %w", err)
		}
		data.Scratches = names
	}

	rendered, err := s.render(data)
	if err != nil {
		return err
	}

	path := s.cfg.Proxy.ConfigPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create proxy config dir: %w", err)
	}
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		return fmt.Errorf("write proxy config: %w", err)
	}
	s.logger.Info("proxy config regenerated", "path", path, "mode", s.cfg.Proxy.Mode, "style", s.cfg.Proxy.Style)
	return nil
}

// GetConfig returns the currently rendered proxy configuration file.
func (s *Service) GetConfig() (string, error) {
	data, err := os.ReadFile(s.cfg.Proxy.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("proxy config not generated yet: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("read proxy config: %w", err)
	}
	return string(data), nil
}

func (s *Service) upstreamPort() int {
	svc, ok := s.cfg.GetService(s.cfg.Proxy.IngressService)
	if !ok {
		return defaultUpstreamPort
	}
	if svc.InternalPort > 0 {
		return svc.InternalPort
	}
	if svc.Port > 0 {
		return svc.Port
	}
	return defaultUpstreamPort
}

func (s *Service) render(data renderContext) ([]byte, error) {
	var source string
	switch {
	case s.cfg.Proxy.Mode == config.ModeStatic && s.cfg.Proxy.Style == config.RoutingPath:
		source = staticPathTemplate
	case s.cfg.Proxy.Mode == config.ModeStatic:
		source = staticSubdomainTemplate
	case s.cfg.Proxy.Style == config.RoutingPath:
		source = dynamicPathTemplate
	default:
		source = dynamicSubdomainTemplate
	}
	tmpl, err := template.New("nginx").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse proxy template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render proxy config: %w", err)
	}
	return buf.Bytes(), nil
}

// Dynamic templates resolve the upstream at request time through Docker's
// embedded DNS, so the file never changes as scratches come and go. An
// unresolvable upstream surfaces as a scratch-not-found response instead of
// a bare gateway error.
const dynamicSubdomainTemplate = `# Generated by scratchpad. Do not edit.
resolver 127.0.0.11 valid=10s ipv6=off;

server {
    listen 80;
    server_name ~^(?<scratch>[a-z0-9_-]+)\.{{ .DomainRegex }}$;

    location / {
        set $upstream http://$scratch-{{ .Ingress }}:{{ .Port }};
        proxy_pass $upstream;
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_intercept_errors on;
        error_page 502 504 = @scratch_not_found;
    }

    location @scratch_not_found {
        default_type application/json;
        return 404 '{"error":"scratch not found"}';
    }
}
`

const dynamicPathTemplate = `# Generated by scratchpad. Do not edit.
resolver 127.0.0.11 valid=10s ipv6=off;

server {
    listen 80;
    server_name {{ .Domain }};

    location ~ ^/(?<scratch>[a-z0-9_-]+)(?<rest>/.*)?$ {
        set $upstream http://$scratch-{{ .Ingress }}:{{ .Port }};
        proxy_pass $upstream$rest$is_args$args;
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_intercept_errors on;
        error_page 502 504 = @scratch_not_found;
    }

    location @scratch_not_found {
        default_type application/json;
        return 404 '{"error":"scratch not found"}';
    }
}
`

const staticSubdomainTemplate = `# Generated by scratchpad. Do not edit.
{{- range .Scratches }}
upstream scratch_{{ . }} {
    server {{ . }}-{{ $.Ingress }}:{{ $.Port }};
}

server {
    listen 80;
    server_name {{ . }}.{{ $.Domain }};

    location / {
        proxy_pass http://scratch_{{ . }};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    }
}
{{- end }}
`

const staticPathTemplate = `# Generated by scratchpad. Do not edit.
{{- range .Scratches }}
upstream scratch_{{ . }} {
    server {{ . }}-{{ $.Ingress }}:{{ $.Port }};
}
{{- end }}

server {
    listen 80;
    server_name {{ .Domain }};
{{- range .Scratches }}

    location /{{ . }}/ {
        proxy_pass http://scratch_{{ . }}/;
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    }
{{- end }}
}
`
