package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Routing styles for generated proxy configuration.
const (
	RoutingSubdomain = "subdomain"
	RoutingPath      = "path"
)

// Routing modes.
const (
	ModeDynamic = "dynamic"
	ModeStatic  = "static"
)

// Config holds the full runtime configuration for the scratchpad daemon.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Docker   DockerConfig             `yaml:"docker"`
	Proxy    ProxyConfig              `yaml:"proxy"`
	Services map[string]ServiceConfig `yaml:"services"`
	Scratch  ScratchDefaults          `yaml:"scratch"`
}

// ServerConfig configures the HTTP API and on-disk layout.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReleasesDir     string        `yaml:"releases_dir"`
	TemplatesDir    string        `yaml:"templates_dir"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DockerConfig configures access to the container runtime.
type DockerConfig struct {
	Host        string `yaml:"host"`
	Network     string `yaml:"network"`
	LabelPrefix string `yaml:"label_prefix"`
}

// ProxyConfig configures reverse-proxy routing for scratches.
type ProxyConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"`
	Style          string `yaml:"style"`
	Domain         string `yaml:"domain"`
	ConfigPath     string `yaml:"config_path"`
	ReloadCommand  string `yaml:"reload_command"`
	Container      string `yaml:"container"`
	IngressService string `yaml:"ingress_service"`
}

// ServiceConfig is one catalogue entry describing a deployable service.
type ServiceConfig struct {
	Image        string             `yaml:"image"`
	Shared       bool               `yaml:"shared"`
	Port         int                `yaml:"port"`
	InternalPort int                `yaml:"internal_port"`
	Env          map[string]string  `yaml:"env"`
	Volumes      []string           `yaml:"volumes"`
	Healthcheck  string             `yaml:"healthcheck"`
	AutoCreateDB bool               `yaml:"auto_create_db"`
	Connection   *ServiceConnection `yaml:"connection"`
}

// ServiceConnection carries explicit connection parameters for database
// provisioning, overriding catalogue env credentials.
type ServiceConnection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ScratchDefaults holds the defaults applied when creating a scratch.
type ScratchDefaults struct {
	Template string                    `yaml:"template"`
	Services []string                  `yaml:"services"`
	Env      map[string]string         `yaml:"env"`
	Profiles map[string]ScratchProfile `yaml:"profiles"`
}

// ScratchProfile is a named preset overriding the scratch defaults.
type ScratchProfile struct {
	Template string            `yaml:"template"`
	Services []string          `yaml:"services"`
	Env      map[string]string `yaml:"env"`
}

// Load constructs a Config from environment variables plus the service
// catalogue file named by SCRATCHPAD_CATALOGUE (when present).
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:            GetString("SCRATCHPAD_ADDR", ":3456"),
			ReleasesDir:     GetString("SCRATCHPAD_RELEASES_DIR", "./releases"),
			TemplatesDir:    GetString("SCRATCHPAD_TEMPLATES_DIR", "./templates"),
			PollInterval:    time.Duration(GetInt("SCRATCHPAD_POLL_SECONDS", 5)) * time.Second,
			CleanupInterval: time.Duration(GetInt("SCRATCHPAD_WS_CLEANUP_SECONDS", 60)) * time.Second,
		},
		Docker: DockerConfig{
			Host:        GetString("DOCKER_HOST", ""),
			Network:     GetString("SCRATCHPAD_NETWORK", "scratchpad-network"),
			LabelPrefix: GetString("SCRATCHPAD_LABEL_PREFIX", "scratchpad"),
		},
		Proxy: ProxyConfig{
			Enabled:        GetBool("SCRATCHPAD_PROXY_ENABLED", true),
			Mode:           GetString("SCRATCHPAD_PROXY_MODE", ModeDynamic),
			Style:          GetString("SCRATCHPAD_PROXY_STYLE", RoutingSubdomain),
			Domain:         GetString("SCRATCHPAD_PROXY_DOMAIN", "scratches.localhost"),
			ConfigPath:     GetString("SCRATCHPAD_PROXY_CONFIG_PATH", "./nginx/scratches.conf"),
			ReloadCommand:  GetString("SCRATCHPAD_PROXY_RELOAD_COMMAND", ""),
			Container:      GetString("SCRATCHPAD_PROXY_CONTAINER", ""),
			IngressService: GetString("SCRATCHPAD_INGRESS_SERVICE", ""),
		},
		Services: map[string]ServiceConfig{},
		Scratch:  ScratchDefaults{Template: "default"},
	}

	if path := GetString("SCRATCHPAD_CATALOGUE", ""); path != "" {
		if err := cfg.mergeCatalogue(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// catalogueFile mirrors Config for YAML parsing. Proxy.Enabled is a pointer
// so an omitted key is distinguishable from an explicit false.
type catalogueFile struct {
	Services map[string]ServiceConfig `yaml:"services"`
	Scratch  ScratchDefaults          `yaml:"scratch"`
	Docker   DockerConfig             `yaml:"docker"`
	Proxy    struct {
		Enabled        *bool  `yaml:"enabled"`
		Mode           string `yaml:"mode"`
		Style          string `yaml:"style"`
		Domain         string `yaml:"domain"`
		ConfigPath     string `yaml:"config_path"`
		ReloadCommand  string `yaml:"reload_command"`
		Container      string `yaml:"container"`
		IngressService string `yaml:"ingress_service"`
	} `yaml:"proxy"`
}

// mergeCatalogue reads the service catalogue and scratch defaults from a
// YAML file. Set fields override env defaults; unset fields keep them.
func (c *Config) mergeCatalogue(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalogue %s: %w", path, err)
	}
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	if len(file.Services) > 0 {
		c.Services = file.Services
	}
	if file.Scratch.Template != "" || len(file.Scratch.Services) > 0 || len(file.Scratch.Profiles) > 0 {
		c.Scratch = file.Scratch
		if c.Scratch.Template == "" {
			c.Scratch.Template = "default"
		}
	}
	if file.Proxy.Enabled != nil {
		c.Proxy.Enabled = *file.Proxy.Enabled
	}
	if file.Proxy.Mode != "" {
		c.Proxy.Mode = file.Proxy.Mode
	}
	if file.Proxy.Style != "" {
		c.Proxy.Style = file.Proxy.Style
	}
	if file.Proxy.Domain != "" {
		c.Proxy.Domain = file.Proxy.Domain
	}
	if file.Proxy.ConfigPath != "" {
		c.Proxy.ConfigPath = file.Proxy.ConfigPath
	}
	if file.Proxy.ReloadCommand != "" {
		c.Proxy.ReloadCommand = file.Proxy.ReloadCommand
	}
	if file.Proxy.Container != "" {
		c.Proxy.Container = file.Proxy.Container
	}
	if file.Proxy.IngressService != "" {
		c.Proxy.IngressService = file.Proxy.IngressService
	}
	if file.Docker.Network != "" {
		c.Docker.Network = file.Docker.Network
	}
	if file.Docker.LabelPrefix != "" {
		c.Docker.LabelPrefix = file.Docker.LabelPrefix
	}
	return nil
}

// GetService looks up a catalogue entry by key.
func (c Config) GetService(name string) (ServiceConfig, bool) {
	svc, ok := c.Services[name]
	return svc, ok
}

// GetProfile looks up a scratch profile by name.
func (c Config) GetProfile(name string) (ScratchProfile, bool) {
	p, ok := c.Scratch.Profiles[name]
	return p, ok
}
