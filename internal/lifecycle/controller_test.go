package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/agent"
	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/docker"
)

type fakeContainer struct {
	detail  docker.ContainerDetail
	started bool
	removed bool
}

// fakeDocker implements ContainerAPI in memory.
type fakeDocker struct {
	containers map[string]*fakeContainer
	volumes    map[string]bool
	chowned    []string
	pulled     []string
	nextID     int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: make(map[string]*fakeContainer),
		volumes:    make(map[string]bool),
	}
}

func (d *fakeDocker) addContainer(id string, detail docker.ContainerDetail) {
	detail.ID = id
	d.containers[id] = &fakeContainer{detail: detail, started: detail.Running}
}

func (d *fakeDocker) InspectContainer(ctx context.Context, id string) (*docker.ContainerDetail, error) {
	ctr, ok := d.containers[id]
	if !ok || ctr.removed {
		return nil, nil
	}
	cp := ctr.detail
	cp.Running = ctr.started
	return &cp, nil
}

func (d *fakeDocker) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	d.nextID++
	id := fmt.Sprintf("ctr-%d", d.nextID)
	d.containers[id] = &fakeContainer{detail: docker.ContainerDetail{
		ID:           id,
		Name:         spec.Name,
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		Mounts:       spec.Mounts,
		NetworkMode:  spec.NetworkMode,
		ExposedPorts: spec.ExposedPorts,
		PortBindings: spec.PortBindings,
		Memory:       spec.Memory,
		CPUQuota:     spec.CPUQuota,
	}}
	return id, nil
}

func (d *fakeDocker) StartContainer(ctx context.Context, id string) error {
	ctr, ok := d.containers[id]
	if !ok || ctr.removed {
		return fmt.Errorf("no such container: %s", id)
	}
	ctr.started = true
	return nil
}

func (d *fakeDocker) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	ctr, ok := d.containers[id]
	if !ok || ctr.removed {
		return fmt.Errorf("no such container: %s", id)
	}
	ctr.started = false
	return nil
}

func (d *fakeDocker) RemoveContainer(ctx context.Context, id string, force bool) error {
	ctr, ok := d.containers[id]
	if !ok || ctr.removed {
		return fmt.Errorf("no such container: %s", id)
	}
	if ctr.started && !force {
		return fmt.Errorf("container %s is running", id)
	}
	ctr.removed = true
	return nil
}

func (d *fakeDocker) EnsureVolume(ctx context.Context, name string, labels map[string]string) (bool, error) {
	if d.volumes[name] {
		return false, nil
	}
	d.volumes[name] = true
	return true, nil
}

func (d *fakeDocker) PullImage(ctx context.Context, image string) error {
	d.pulled = append(d.pulled, image)
	return nil
}

func (d *fakeDocker) RunOneShot(ctx context.Context, image string, cmd []string, mounts []docker.MountSpec) error {
	for _, m := range mounts {
		d.chowned = append(d.chowned, m.Source)
	}
	return nil
}

var workspaceMount = docker.MountSpec{
	Type:   docker.MountTypeBind,
	Source: "/srv/workspaces/alpha",
	Target: "/workspace",
}

func newControllerFixture(t *testing.T) (*Controller, *fakeDocker, *agent.MemoryRepository) {
	t.Helper()
	dockerAPI := newFakeDocker()
	agents := agent.NewMemoryRepository()
	cfg := config.DockerConfig{HelperImage: "busybox:stable", StopGrace: 10}
	ctrl := NewController(dockerAPI, agents, cfg, logger.Default())
	return ctrl, dockerAPI, agents
}

func registerAgent(t *testing.T, agents *agent.MemoryRepository, name, containerID string) *agent.Agent {
	t.Helper()
	a := &agent.Agent{Name: name, ContainerID: containerID}
	require.NoError(t, agents.CreateAgent(context.Background(), a))
	return a
}

func TestStartWithMatchingMountsStartsExisting(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name:   "agent-alpha",
		Image:  "agent-runtime:1",
		Mounts: []docker.MountSpec{workspaceMount},
	})

	require.NoError(t, ctrl.Start(ctx, "alpha"))

	assert.True(t, dockerAPI.containers["ctr-a"].started)
	assert.False(t, dockerAPI.containers["ctr-a"].removed)
}

func TestStartRunningContainerWithMatchingMountsIsNoop(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name:    "agent-alpha",
		Running: true,
		Mounts:  []docker.MountSpec{workspaceMount},
	})

	require.NoError(t, ctrl.Start(ctx, "alpha"))
	assert.False(t, dockerAPI.containers["ctr-a"].removed)
}

func TestStartRecreatesOnMountDrift(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name:    "agent-alpha",
		Image:   "agent-runtime:1",
		Running: true,
		Env:     []string{"AGENT_NAME=alpha"},
		Labels:  map[string]string{"agentplane.agent": "alpha"},
		Mounts:  []docker.MountSpec{workspaceMount},
	})

	// Alpha now exposes and consumes; beta exposes and has granted alpha access.
	require.NoError(t, agents.UpsertSharedFolderConfig(ctx, &agent.SharedFolderConfig{
		AgentName: "alpha", ExposeEnabled: true, ConsumeEnabled: true,
	}))
	registerAgent(t, agents, "beta", "")
	require.NoError(t, agents.UpsertSharedFolderConfig(ctx, &agent.SharedFolderConfig{
		AgentName: "beta", ExposeEnabled: true,
	}))
	require.NoError(t, agents.GrantPermission(ctx, "alpha", "beta"))

	require.NoError(t, ctrl.Start(ctx, "alpha"))

	assert.True(t, dockerAPI.containers["ctr-a"].removed)

	a, err := agents.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	require.NotEqual(t, "ctr-a", a.ContainerID)

	recreated := dockerAPI.containers[a.ContainerID]
	require.NotNil(t, recreated)
	assert.True(t, recreated.started)
	assert.Equal(t, "agent-runtime:1", recreated.detail.Image)
	assert.Equal(t, []string{"AGENT_NAME=alpha"}, recreated.detail.Env)
	assert.Equal(t, "alpha", recreated.detail.Labels["agentplane.agent"])

	wantMounts := []docker.MountSpec{
		workspaceMount,
		{Type: docker.MountTypeVolume, Source: "agent-alpha-shared", Target: "/shared-out"},
		{Type: docker.MountTypeVolume, Source: "agent-beta-shared", Target: "/shared-in/beta", ReadOnly: true},
	}
	assert.True(t, MountSetsEqual(wantMounts, recreated.detail.Mounts),
		"recreated mounts %v", recreated.detail.Mounts)
}

func TestStartRecreatesWhenStaleSharedMountRemains(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	// Container still carries an expose mount after expose was turned off.
	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name: "agent-alpha",
		Mounts: []docker.MountSpec{
			workspaceMount,
			{Type: docker.MountTypeVolume, Source: "agent-alpha-shared", Target: "/shared-out"},
		},
	})

	require.NoError(t, ctrl.Start(ctx, "alpha"))

	a, err := agents.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	recreated := dockerAPI.containers[a.ContainerID]
	require.NotNil(t, recreated)
	assert.True(t, MountSetsEqual([]docker.MountSpec{workspaceMount}, recreated.detail.Mounts))
}

func TestStartChownsNewlyCreatedVolumes(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name:   "agent-alpha",
		Mounts: []docker.MountSpec{workspaceMount},
	})
	require.NoError(t, agents.UpsertSharedFolderConfig(ctx, &agent.SharedFolderConfig{
		AgentName: "alpha", ExposeEnabled: true,
	}))

	require.NoError(t, ctrl.Start(ctx, "alpha"))
	assert.Equal(t, []string{"agent-alpha-shared"}, dockerAPI.chowned)
	assert.Equal(t, []string{"busybox:stable"}, dockerAPI.pulled)

	// Second start finds the volume in place and leaves it alone.
	a, err := agents.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx, a.Name))
	assert.Equal(t, []string{"agent-alpha-shared"}, dockerAPI.chowned)
	assert.Equal(t, []string{"busybox:stable"}, dockerAPI.pulled)
}

func TestStartSkipsNonExposingOrUnpermittedPeers(t *testing.T) {
	ctrl, dockerAPI, agents := newControllerFixture(t)
	ctx := context.Background()

	registerAgent(t, agents, "alpha", "ctr-a")
	dockerAPI.addContainer("ctr-a", docker.ContainerDetail{
		Name:   "agent-alpha",
		Mounts: []docker.MountSpec{workspaceMount},
	})
	require.NoError(t, agents.UpsertSharedFolderConfig(ctx, &agent.SharedFolderConfig{
		AgentName: "alpha", ConsumeEnabled: true,
	}))

	// beta is permitted but does not expose; gamma exposes but is not permitted.
	registerAgent(t, agents, "beta", "")
	require.NoError(t, agents.GrantPermission(ctx, "alpha", "beta"))
	registerAgent(t, agents, "gamma", "")
	require.NoError(t, agents.UpsertSharedFolderConfig(ctx, &agent.SharedFolderConfig{
		AgentName: "gamma", ExposeEnabled: true,
	}))

	require.NoError(t, ctrl.Start(ctx, "alpha"))

	// No consumable peers: the existing container matches and is reused.
	assert.False(t, dockerAPI.containers["ctr-a"].removed)
	assert.True(t, dockerAPI.containers["ctr-a"].started)
}

func TestStartWithoutContainerFails(t *testing.T) {
	ctrl, _, agents := newControllerFixture(t)

	registerAgent(t, agents, "alpha", "")
	err := ctrl.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, agent.ErrNoContainer)
}

func TestStartUnknownAgentFails(t *testing.T) {
	ctrl, _, _ := newControllerFixture(t)

	err := ctrl.Start(context.Background(), "ghost")
	require.ErrorIs(t, err, agent.ErrNotFound)
}

func TestExpectedSharedMountsShape(t *testing.T) {
	mounts := ExpectedSharedMounts("alpha",
		&agent.SharedFolderConfig{AgentName: "alpha", ExposeEnabled: true, ConsumeEnabled: true},
		[]string{"beta", "gamma"})

	want := []docker.MountSpec{
		{Type: docker.MountTypeVolume, Source: "agent-alpha-shared", Target: "/shared-out"},
		{Type: docker.MountTypeVolume, Source: "agent-beta-shared", Target: "/shared-in/beta", ReadOnly: true},
		{Type: docker.MountTypeVolume, Source: "agent-gamma-shared", Target: "/shared-in/gamma", ReadOnly: true},
	}
	assert.Equal(t, want, mounts)
}

func TestMountSetsEqualIgnoresOrder(t *testing.T) {
	a := []docker.MountSpec{
		{Source: "v1", Target: "/shared-out"},
		{Source: "v2", Target: "/shared-in/beta", ReadOnly: true},
	}
	b := []docker.MountSpec{
		{Source: "v2", Target: "/shared-in/beta", ReadOnly: true},
		{Source: "v1", Target: "/shared-out"},
	}
	assert.True(t, MountSetsEqual(a, b))

	// Mode is part of identity.
	c := []docker.MountSpec{
		{Source: "v1", Target: "/shared-out"},
		{Source: "v2", Target: "/shared-in/beta"},
	}
	assert.False(t, MountSetsEqual(a, c))
}
