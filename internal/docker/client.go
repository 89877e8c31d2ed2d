// Package docker wraps the Docker SDK with the container and volume
// operations the agent lifecycle needs: inspect-with-mounts, create
// with a mixed bind/volume mount set, and named-volume management.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
)

// Mount types.
const (
	MountTypeBind   = "bind"
	MountTypeVolume = "volume"
)

// MountSpec is one container mount. Source is a host path for binds or
// a volume name for volumes.
type MountSpec struct {
	Type     string
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec holds everything needed to create a container.
type ContainerSpec struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	WorkingDir   string
	Labels       map[string]string
	Mounts       []MountSpec
	NetworkMode  string
	ExposedPorts nat.PortSet
	PortBindings nat.PortMap
	Memory       int64 // bytes
	CPUQuota     int64
	AutoRemove   bool
}

// ContainerDetail is the inspected state the lifecycle controller
// compares and preserves across recreation.
type ContainerDetail struct {
	ID           string
	Name         string
	Image        string
	Running      bool
	Cmd          []string
	Env          []string
	WorkingDir   string
	Labels       map[string]string
	Mounts       []MountSpec
	NetworkMode  string
	ExposedPorts nat.PortSet
	PortBindings nat.PortMap
	Memory       int64
	CPUQuota     int64
}

// Client wraps the Docker client.
type Client struct {
	cli    *client.Client
	logger *logger.Logger
}

// NewClient creates a new Docker client.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log.Info("Docker client created",
		zap.String("host", cfg.Host),
		zap.String("api_version", cfg.APIVersion),
	)
	return &Client{cli: cli, logger: log}, nil
}

// Close closes the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks if Docker is available.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// PullImage pulls an image if it is not already present locally.
func (c *Client) PullImage(ctx context.Context, imageName string) error {
	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}
	return nil
}

// EnsureVolume creates the named volume if it does not exist. Returns
// true when the volume was newly created, so the caller knows to fix
// its ownership.
func (c *Client) EnsureVolume(ctx context.Context, name string, labels map[string]string) (bool, error) {
	_, err := c.cli.VolumeInspect(ctx, name)
	if err == nil {
		return false, nil
	}
	if !client.IsErrNotFound(err) {
		return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
	}

	if _, err := c.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels}); err != nil {
		return false, fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	c.logger.Info("Volume created", zap.String("volume", name))
	return true, nil
}

// RunOneShot runs cmd in a throwaway container and waits for it to
// exit. Used for volume ownership fixes after creation.
func (c *Client) RunOneShot(ctx context.Context, imageName string, cmd []string, mounts []MountSpec) error {
	resp, err := c.cli.ContainerCreate(ctx,
		&container.Config{Image: imageName, Cmd: cmd},
		&container.HostConfig{Mounts: toDockerMounts(mounts)},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create helper container: %w", err)
	}
	defer func() {
		_ = c.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start helper container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error waiting for helper container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("helper container exited with code %d", status.StatusCode)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// CreateContainer creates a container from spec and returns its id.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	c.logger.Info("Creating container",
		zap.String("name", spec.Name),
		zap.String("image", spec.Image),
		zap.Int("mounts", len(spec.Mounts)),
	)

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		ExposedPorts: spec.ExposedPorts,
	}
	hostCfg := &container.HostConfig{
		Mounts:       toDockerMounts(spec.Mounts),
		NetworkMode:  container.NetworkMode(spec.NetworkMode),
		PortBindings: spec.PortBindings,
		AutoRemove:   spec.AutoRemove,
		Resources: container.Resources{
			Memory:   spec.Memory,
			CPUQuota: spec.CPUQuota,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	c.logger.Info("Container started", zap.String("container_id", containerID))
	return nil
}

// StopContainer stops a container within the grace period.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	timeoutSeconds := int(timeout.Seconds())
	err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds})
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	c.logger.Info("Container stopped", zap.String("container_id", containerID))
	return nil
}

// RemoveContainer removes a container. Volumes survive removal; shared
// folders must outlive any single container.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	c.logger.Info("Container removed", zap.String("container_id", containerID))
	return nil
}

// InspectContainer returns the detail the lifecycle controller works
// with, or nil if the container does not exist.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (*ContainerDetail, error) {
	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	detail := &ContainerDetail{
		ID:      inspect.ID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		Running: inspect.State != nil && inspect.State.Running,
	}
	if inspect.Config != nil {
		detail.Image = inspect.Config.Image
		detail.Cmd = inspect.Config.Cmd
		detail.Env = inspect.Config.Env
		detail.WorkingDir = inspect.Config.WorkingDir
		detail.Labels = inspect.Config.Labels
		detail.ExposedPorts = inspect.Config.ExposedPorts
	}
	if inspect.HostConfig != nil {
		detail.NetworkMode = string(inspect.HostConfig.NetworkMode)
		detail.PortBindings = inspect.HostConfig.PortBindings
		detail.Memory = inspect.HostConfig.Memory
		detail.CPUQuota = inspect.HostConfig.CPUQuota
	}
	for _, m := range inspect.Mounts {
		spec := MountSpec{
			Target:   m.Destination,
			ReadOnly: !m.RW,
		}
		switch m.Type {
		case mount.TypeVolume:
			spec.Type = MountTypeVolume
			spec.Source = m.Name
		default:
			spec.Type = MountTypeBind
			spec.Source = m.Source
		}
		detail.Mounts = append(detail.Mounts, spec)
	}
	return detail, nil
}

func toDockerMounts(specs []MountSpec) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(specs))
	for _, m := range specs {
		mnt := mount.Mount{
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
		if m.Type == MountTypeVolume {
			mnt.Type = mount.TypeVolume
		} else {
			mnt.Type = mount.TypeBind
		}
		mounts = append(mounts, mnt)
	}
	return mounts
}
