package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Reload makes the proxy pick up the regenerated configuration. Resolution
// order: an explicit host command, then a reload signal inside the named
// proxy container, then a container discovered by name. Finding no proxy at
// all is only a warning.
func (s *Service) Reload(ctx context.Context) error {
	if !s.cfg.Proxy.Enabled {
		return nil
	}
	if cmd := s.cfg.Proxy.ReloadCommand; cmd != "" {
		if err := s.execHost(ctx, cmd); err != nil {
			return fmt.Errorf("proxy reload command: %w", err)
		}
		s.logger.Info("proxy reloaded", "via", "command")
		return nil
	}

	name := s.cfg.Proxy.Container
	if name == "" {
		container, err := s.docker.FindContainerByName(ctx, "nginx")
		if err != nil {
			s.logger.Warn("no proxy container found, skipping reload", "error", err)
			return nil
		}
		name = container.ID
	}
	if err := s.reloadInContainer(ctx, name); err != nil {
		return err
	}
	s.logger.Info("proxy reloaded", "via", "container", "container", name)
	return nil
}

func (s *Service) reloadInContainer(ctx context.Context, id string) error {
	if _, err := s.docker.ExecCommand(ctx, id, []string{"nginx", "-s", "reload"}); err == nil {
		return nil
	}
	// Signal path: validate the config first so a broken file never takes
	// the proxy down, then HUP the master process.
	if out, err := s.docker.ExecCommand(ctx, id, []string{"nginx", "-t"}); err != nil {
		return fmt.Errorf("proxy config test failed: %s: %w", strings.TrimSpace(out), err)
	}
	if _, err := s.docker.ExecCommand(ctx, id, []string{"kill", "-HUP", "1"}); err != nil {
		return fmt.Errorf("signal proxy process: %w", err)
	}
	return nil
}

func runHostCommand(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return nil
}
