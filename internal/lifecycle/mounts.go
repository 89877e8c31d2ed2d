// Package lifecycle converges agent containers with their declared
// shared-folder configuration. Mounts are a creation-time property in
// Docker, so convergence happens by recreating the container when the
// shared-mount set has drifted.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/agentplane/agentplane/internal/agent"
	"github.com/agentplane/agentplane/internal/docker"
)

// Shared-folder mount targets inside the agent container.
const (
	SharedOutTarget = "/shared-out"
	SharedInPrefix  = "/shared-in/"
)

// SharedVolumeName returns the name of the volume an agent exposes.
func SharedVolumeName(agentName string) string {
	return fmt.Sprintf("agent-%s-shared", agentName)
}

// IsSharedMount reports whether a mount belongs to the shared-folder
// convention. Everything else (workspace bind included) is preserved
// verbatim across recreation.
func IsSharedMount(m docker.MountSpec) bool {
	return m.Target == SharedOutTarget || strings.HasPrefix(m.Target, SharedInPrefix)
}

// ExpectedSharedMounts derives the shared-mount set for an agent from
// its shared-folder config and the exposing peers it may consume from.
func ExpectedSharedMounts(agentName string, cfg *agent.SharedFolderConfig, exposingPeers []string) []docker.MountSpec {
	var mounts []docker.MountSpec
	if cfg.ExposeEnabled {
		mounts = append(mounts, docker.MountSpec{
			Type:   docker.MountTypeVolume,
			Source: SharedVolumeName(agentName),
			Target: SharedOutTarget,
		})
	}
	if cfg.ConsumeEnabled {
		for _, peer := range exposingPeers {
			mounts = append(mounts, docker.MountSpec{
				Type:     docker.MountTypeVolume,
				Source:   SharedVolumeName(peer),
				Target:   SharedInPrefix + peer,
				ReadOnly: true,
			})
		}
	}
	return mounts
}

type mountKey struct {
	source   string
	target   string
	readOnly bool
}

// MountSetsEqual compares two mount slices as sets on the
// (source, target, mode) triple.
func MountSetsEqual(a, b []docker.MountSpec) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[mountKey]int, len(a))
	for _, m := range a {
		seen[mountKey{m.Source, m.Target, m.ReadOnly}]++
	}
	for _, m := range b {
		k := mountKey{m.Source, m.Target, m.ReadOnly}
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

// SplitMounts partitions a container's mounts into shared-folder
// mounts and everything else.
func SplitMounts(mounts []docker.MountSpec) (shared, other []docker.MountSpec) {
	for _, m := range mounts {
		if IsSharedMount(m) {
			shared = append(shared, m)
		} else {
			other = append(other, m)
		}
	}
	return shared, other
}
