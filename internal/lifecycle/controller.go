package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/agent"
	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/docker"
)

// ContainerAPI is the slice of the Docker client the controller uses.
type ContainerAPI interface {
	InspectContainer(ctx context.Context, containerID string) (*docker.ContainerDetail, error)
	CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	EnsureVolume(ctx context.Context, name string, labels map[string]string) (bool, error)
	PullImage(ctx context.Context, image string) error
	RunOneShot(ctx context.Context, image string, cmd []string, mounts []docker.MountSpec) error
}

// Controller starts agent containers, recreating them when their
// shared-folder mounts no longer match the declared configuration.
type Controller struct {
	docker ContainerAPI
	agents agent.Repository
	cfg    config.DockerConfig
	log    *logger.Logger
}

// NewController creates a lifecycle controller.
func NewController(dockerClient ContainerAPI, agents agent.Repository, cfg config.DockerConfig, log *logger.Logger) *Controller {
	return &Controller{
		docker: dockerClient,
		agents: agents,
		cfg:    cfg,
		log:    log.WithFields(zap.String("component", "lifecycle")),
	}
}

// Start brings the agent's container up with the shared-folder mounts
// its configuration declares. A container whose shared mounts already
// match is started as-is; otherwise it is recreated with everything
// but the shared mounts preserved.
func (c *Controller) Start(ctx context.Context, agentName string) error {
	a, err := c.agents.GetAgent(ctx, agentName)
	if err != nil {
		return err
	}
	if a.ContainerID == "" {
		return fmt.Errorf("%w: %s", agent.ErrNoContainer, agentName)
	}

	detail, err := c.docker.InspectContainer(ctx, a.ContainerID)
	if err != nil {
		return err
	}
	if detail == nil {
		return fmt.Errorf("%w: %s (container %s vanished)", agent.ErrNoContainer, agentName, a.ContainerID)
	}

	expected, err := c.expectedSharedMounts(ctx, a)
	if err != nil {
		return err
	}

	actualShared, otherMounts := SplitMounts(detail.Mounts)
	if MountSetsEqual(actualShared, expected) {
		if detail.Running {
			c.log.Debug("Container already running with expected mounts",
				zap.String("agent", agentName),
				zap.String("container_id", detail.ID),
			)
			return nil
		}
		return c.docker.StartContainer(ctx, detail.ID)
	}

	c.log.Info("Shared-folder mounts drifted, recreating container",
		zap.String("agent", agentName),
		zap.String("container_id", detail.ID),
		zap.Int("actual_shared", len(actualShared)),
		zap.Int("expected_shared", len(expected)),
	)
	return c.recreate(ctx, a, detail, append(otherMounts, expected...))
}

// expectedSharedMounts derives the expected shared-mount set and makes
// sure every referenced volume exists, fixing ownership of newly
// created ones.
func (c *Controller) expectedSharedMounts(ctx context.Context, a *agent.Agent) ([]docker.MountSpec, error) {
	cfg, err := c.agents.GetSharedFolderConfig(ctx, a.Name)
	if err != nil {
		return nil, err
	}

	var exposingPeers []string
	if cfg.ConsumeEnabled {
		peers, err := c.agents.ListPermittedPeers(ctx, a.Name)
		if err != nil {
			return nil, err
		}
		for _, peer := range peers {
			peerCfg, err := c.agents.GetSharedFolderConfig(ctx, peer)
			if err != nil {
				return nil, err
			}
			if peerCfg.ExposeEnabled {
				exposingPeers = append(exposingPeers, peer)
			}
		}
	}

	mounts := ExpectedSharedMounts(a.Name, cfg, exposingPeers)
	for _, m := range mounts {
		if err := c.ensureVolume(ctx, m.Source); err != nil {
			return nil, err
		}
	}
	return mounts, nil
}

func (c *Controller) ensureVolume(ctx context.Context, name string) error {
	created, err := c.docker.EnsureVolume(ctx, name, map[string]string{"agentplane.volume": "shared-folder"})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	// Fresh volumes are root-owned; the agent runtime runs as uid 1000.
	if err := c.docker.PullImage(ctx, c.cfg.HelperImage); err != nil {
		return fmt.Errorf("failed to pull helper image %s: %w", c.cfg.HelperImage, err)
	}
	err = c.docker.RunOneShot(ctx, c.cfg.HelperImage,
		[]string{"chown", "1000:1000", "/shared"},
		[]docker.MountSpec{{Type: docker.MountTypeVolume, Source: name, Target: "/shared"}})
	if err != nil {
		return fmt.Errorf("failed to fix ownership of volume %s: %w", name, err)
	}
	return nil
}

// recreate replaces the container, carrying over everything except the
// shared-folder mounts.
func (c *Controller) recreate(ctx context.Context, a *agent.Agent, old *docker.ContainerDetail, mounts []docker.MountSpec) error {
	if old.Running {
		if err := c.docker.StopContainer(ctx, old.ID, c.cfg.StopGraceDuration()); err != nil {
			return err
		}
	}
	if err := c.docker.RemoveContainer(ctx, old.ID, false); err != nil {
		return err
	}

	newID, err := c.docker.CreateContainer(ctx, docker.ContainerSpec{
		Name:         old.Name,
		Image:        old.Image,
		Cmd:          old.Cmd,
		Env:          old.Env,
		WorkingDir:   old.WorkingDir,
		Labels:       old.Labels,
		Mounts:       mounts,
		NetworkMode:  old.NetworkMode,
		ExposedPorts: old.ExposedPorts,
		PortBindings: old.PortBindings,
		Memory:       old.Memory,
		CPUQuota:     old.CPUQuota,
	})
	if err != nil {
		return err
	}
	if err := c.docker.StartContainer(ctx, newID); err != nil {
		return err
	}
	if err := c.agents.SetContainer(ctx, a.Name, newID); err != nil {
		return err
	}

	c.log.Info("Container recreated with converged mounts",
		zap.String("agent", a.Name),
		zap.String("old_container_id", old.ID),
		zap.String("container_id", newID),
	)
	return nil
}

// Stop stops the agent's container if it has one.
func (c *Controller) Stop(ctx context.Context, agentName string) error {
	a, err := c.agents.GetAgent(ctx, agentName)
	if err != nil {
		return err
	}
	if a.ContainerID == "" {
		return nil
	}
	return c.docker.StopContainer(ctx, a.ContainerID, c.cfg.StopGraceDuration())
}
