package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const stopTimeoutSeconds = 10

// ContainerStatus is a summary of one container relevant to scratchpad.
type ContainerStatus struct {
	ID     string
	Name   string
	Image  string
	State  string
	Status string
	Labels map[string]string
}

func summaryToStatus(summary types.Container) ContainerStatus {
	name := ""
	if len(summary.Names) > 0 {
		name = strings.TrimPrefix(summary.Names[0], "/")
	}
	labels := summary.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return ContainerStatus{
		ID:     summary.ID,
		Name:   name,
		Image:  summary.Image,
		State:  summary.State,
		Status: summary.Status,
		Labels: labels,
	}
}

// PortMapping binds a host port to a container port.
type PortMapping struct {
	Host      int
	Container int
}

// CreateSpec describes a container to create for a shared service.
type CreateSpec struct {
	Name        string
	Image       string
	Env         []string
	Labels      map[string]string
	Ports       []PortMapping
	Volumes     []string
	Network     string
	Healthcheck string
}

// ListScratchContainers lists containers labeled as belonging to a scratch.
// When name is empty, containers of every scratch are returned.
func (c *Client) ListScratchContainers(ctx context.Context, name string) ([]ContainerStatus, error) {
	filter := c.ScratchLabel()
	if name != "" {
		filter = fmt.Sprintf("%s=%s", filter, name)
	}
	return c.listByLabel(ctx, filter)
}

// ListSharedServiceContainers lists singleton service containers.
func (c *Client) ListSharedServiceContainers(ctx context.Context) ([]ContainerStatus, error) {
	return c.listByLabel(ctx, c.SharedServiceLabel())
}

func (c *Client) listByLabel(ctx context.Context, label string) ([]ContainerStatus, error) {
	summaries, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	statuses := make([]ContainerStatus, 0, len(summaries))
	for _, summary := range summaries {
		statuses = append(statuses, summaryToStatus(summary))
	}
	return statuses, nil
}

// FindContainerByName returns the first container whose name contains the
// given fragment.
func (c *Client) FindContainerByName(ctx context.Context, fragment string) (ContainerStatus, error) {
	summaries, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", fragment)),
	})
	if err != nil {
		return ContainerStatus{}, fmt.Errorf("list containers: %w", err)
	}
	if len(summaries) == 0 {
		return ContainerStatus{}, ErrNotFound
	}
	return summaryToStatus(summaries[0]), nil
}

// InspectContainer returns the live state of a container by id or name.
func (c *Client) InspectContainer(ctx context.Context, id string) (ContainerStatus, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerStatus{}, ErrNotFound
		}
		return ContainerStatus{}, fmt.Errorf("inspect container: %w", err)
	}
	status := ContainerStatus{
		ID:     inspect.ID,
		Name:   strings.TrimPrefix(inspect.Name, "/"),
		Labels: map[string]string{},
	}
	if inspect.Config != nil {
		status.Image = inspect.Config.Image
		if inspect.Config.Labels != nil {
			status.Labels = inspect.Config.Labels
		}
	}
	if inspect.State != nil {
		status.State = inspect.State.Status
		status.Status = inspect.State.Status
	}
	return status, nil
}

// ContainerHealthy reports whether a container is healthy. Containers
// without a configured health check count as healthy once running.
func (c *Client) ContainerHealthy(ctx context.Context, id string) (bool, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.State == nil {
		return false, nil
	}
	if inspect.State.Health != nil {
		return inspect.State.Health.Status == types.Healthy, nil
	}
	return inspect.State.Running, nil
}

// CreateContainer creates and starts a container per spec, pulling the
// image first when it is missing locally.
func (c *Client) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}
	if err := c.PullImageIfMissing(ctx, spec.Image); err != nil {
		return "", err
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, mapping := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", mapping.Container))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", mapping.Host),
		}}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	if spec.Healthcheck != "" {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        []string{"CMD-SHELL", spec.Healthcheck},
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     3,
			StartPeriod: 5 * time.Second,
		}
	}

	hostCfg := &container.HostConfig{
		Binds:        spec.Volumes,
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	return created.ID, nil
}

// PullImageIfMissing pulls an image when it is not present locally.
func (c *Client) PullImageIfMissing(ctx context.Context, ref string) error {
	if _, _, err := c.inner.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	reader, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// Drain the progress stream so the pull completes.
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
	}
	return scanner.Err()
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// StopContainer stops a container with a graceful timeout.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	if err := c.inner.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// RemoveContainer removes a container and its anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// TailLogs fetches the last tail lines from a container's stdout and stderr.
func (c *Client) TailLogs(ctx context.Context, id string, tail int) ([]string, error) {
	reader, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, reader); err != nil {
		return nil, fmt.Errorf("demux logs: %w", err)
	}
	var lines []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// FollowLogs streams log lines from a container until the context is
// cancelled, invoking emit for each line.
func (c *Client) FollowLogs(ctx context.Context, id string, emit func(line string)) error {
	reader, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	pr, pw := newLinePipe(emit)
	defer pr.flush()
	_, err = stdcopy.StdCopy(pw, pw, reader)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("demux logs: %w", err)
	}
	return nil
}

// ExecCommand runs a command inside a running container and returns its
// combined output.
func (c *Client) ExecCommand(ctx context.Context, id string, cmd []string) (string, error) {
	exec, err := c.inner.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}
	resp, err := c.inner.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, resp.Reader); err != nil {
		return "", fmt.Errorf("exec output: %w", err)
	}
	inspect, err := c.inner.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return out.String(), fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return out.String(), fmt.Errorf("exec %q exited %d: %s", strings.Join(cmd, " "), inspect.ExitCode, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// linePipe splits a write stream into lines for the emit callback.
type linePipe struct {
	emit func(string)
	buf  bytes.Buffer
}

func newLinePipe(emit func(string)) (*linePipe, *linePipe) {
	p := &linePipe{emit: emit}
	return p, p
}

func (p *linePipe) Write(data []byte) (int, error) {
	p.buf.Write(data)
	for {
		idx := bytes.IndexByte(p.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(p.buf.Next(idx+1)), "\r\n")
		if line != "" {
			p.emit(line)
		}
	}
	return len(data), nil
}

func (p *linePipe) flush() {
	if rest := strings.TrimSpace(p.buf.String()); rest != "" {
		p.emit(rest)
	}
	p.buf.Reset()
}
