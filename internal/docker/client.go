package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"

	"github.com/Krakaw/scratchpad/pkg/config"
)

// Client wraps the Docker SDK client with scratchpad-specific operations.
type Client struct {
	inner *client.Client
	cfg   config.DockerConfig
}

// New creates a new Docker client using environment defaults.
func New(cfg config.DockerConfig) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner, cfg: cfg}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Config returns the docker configuration in effect.
func (c *Client) Config() config.DockerConfig {
	return c.cfg
}

// ScratchLabel is the label key tying a container to its scratch.
func (c *Client) ScratchLabel() string {
	return c.cfg.LabelPrefix + ".scratch"
}

// ServiceLabel is the label key naming a container's catalogue service.
func (c *Client) ServiceLabel() string {
	return c.cfg.LabelPrefix + ".service"
}

// SharedServiceLabel is the label key marking a singleton service container.
func (c *Client) SharedServiceLabel() string {
	return c.cfg.LabelPrefix + ".shared-service"
}

// Inner exposes the underlying docker client for advanced operations.
func (c *Client) Inner() *client.Client {
	return c.inner
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
