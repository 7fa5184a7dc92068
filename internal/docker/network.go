package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
)

// EnsureNetwork creates the shared bridge network when it does not exist.
func (c *Client) EnsureNetwork(ctx context.Context) error {
	name := c.cfg.Network
	_, err := c.inner.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect network %s: %w", name, err)
	}
	_, err = c.inner.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	return nil
}

// ConnectToNetwork attaches a container to the shared network.
func (c *Client) ConnectToNetwork(ctx context.Context, containerID string) error {
	err := c.inner.NetworkConnect(ctx, c.cfg.Network, containerID, &network.EndpointSettings{})
	if err != nil {
		return fmt.Errorf("connect %s to network %s: %w", containerID, c.cfg.Network, err)
	}
	return nil
}

// DisconnectFromNetwork detaches a container from the shared network.
func (c *Client) DisconnectFromNetwork(ctx context.Context, containerID string, force bool) error {
	err := c.inner.NetworkDisconnect(ctx, c.cfg.Network, containerID, force)
	if err != nil {
		return fmt.Errorf("disconnect %s from network %s: %w", containerID, c.cfg.Network, err)
	}
	return nil
}
