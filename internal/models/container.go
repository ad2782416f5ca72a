// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import (
	"time"
)

// ContainerState is the lifecycle state of a container.
type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
	StateRemoving   ContainerState = "removing"
)

// validTransitions encodes the container state machine:
// created -> running -> (paused <-> running) -> exited -> removed,
// with running -> dead on fatal runtime error and exited -> restarting
// under a restart policy.
var validTransitions = map[ContainerState][]ContainerState{
	StateCreated:    {StateRunning, StateRemoving},
	StateRunning:    {StatePaused, StateExited, StateDead, StateRestarting},
	StatePaused:     {StateRunning, StateExited},
	StateRestarting: {StateRunning, StateExited, StateDead},
	StateExited:     {StateRunning, StateRestarting, StateRemoving},
	StateDead:       {StateRemoving},
	StateRemoving:   {},
}

// CanTransition reports whether moving from s to next is a legal state
// machine step.
func (s ContainerState) CanTransition(next ContainerState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsRunning reports whether the state counts as running for ps filtering
// and task accounting.
func (s ContainerState) IsRunning() bool {
	return s == StateRunning || s == StatePaused || s == StateRestarting
}

// RestartCondition selects when a restart policy fires.
type RestartCondition string

const (
	RestartNo            RestartCondition = "no"
	RestartOnFailure     RestartCondition = "on-failure"
	RestartAlways        RestartCondition = "always"
	RestartUnlessStopped RestartCondition = "unless-stopped"
)

// RestartPolicy governs exited->running transitions.
type RestartPolicy struct {
	Condition  RestartCondition `json:"condition"`
	MaxRetries int              `json:"max_retries,omitempty"` // on-failure only, 0 = unbounded
}

// ShouldRestart decides whether a container with this policy restarts after
// exiting with exitCode, having already attempted restartCount restarts.
// explicitStop is the persisted explicitly-stopped marker consulted by
// unless-stopped.
func (p RestartPolicy) ShouldRestart(exitCode int, restartCount int, explicitStop bool) bool {
	switch p.Condition {
	case RestartAlways:
		return true
	case RestartUnlessStopped:
		return !explicitStop
	case RestartOnFailure:
		if exitCode == 0 {
			return false
		}
		return p.MaxRetries == 0 || restartCount < p.MaxRetries
	default:
		return false
	}
}

// Resources holds the enforced resource limits for a container.
type Resources struct {
	NanoCPUs          int64  `json:"nano_cpus,omitempty"`
	MemoryBytes       int64  `json:"memory_bytes,omitempty"`
	MemorySwapBytes   int64  `json:"memory_swap_bytes,omitempty"`
	PidsLimit         int64  `json:"pids_limit,omitempty"`
	BlkioWeight       uint16 `json:"blkio_weight,omitempty"`
	IOMaxBandwidth    int64  `json:"io_max_bandwidth,omitempty"` // bytes/sec, windows-style throttle
	IOMaxIOps         int64  `json:"io_max_iops,omitempty"`
	ShmSizeBytes      int64  `json:"shm_size_bytes,omitempty"`
	CPUShares         int64  `json:"cpu_shares,omitempty"`
	CpusetCpus        string `json:"cpuset_cpus,omitempty"`
	OomKillDisable    bool   `json:"oom_kill_disable,omitempty"`
	OomScoreAdj       int    `json:"oom_score_adj,omitempty"`
	StorageSize       int64  `json:"storage_size,omitempty"` // per-container writable layer quota
	Ulimits           []Ulimit `json:"ulimits,omitempty"`
}

// Ulimit is a single rlimit override.
type Ulimit struct {
	Name string `json:"name"`
	Soft int64  `json:"soft"`
	Hard int64  `json:"hard"`
}

// MountType selects the backing mechanism for a container mount.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// Mount describes one filesystem mount into a container.
type Mount struct {
	Type     MountType `json:"type"`
	Source   string    `json:"source,omitempty"` // host path or volume name; empty = anonymous volume
	Target   string    `json:"target"`
	ReadOnly bool      `json:"read_only,omitempty"`
	// VolumeName resolves the actual volume backing a volume mount; for
	// anonymous volumes it is the generated name.
	VolumeName string `json:"volume_name,omitempty"`
	Anonymous  bool   `json:"anonymous,omitempty"`
}

// NetworkAttachment records one endpoint of a container on a network.
type NetworkAttachment struct {
	NetworkID   string `json:"network_id"`
	NetworkName string `json:"network_name"`
	EndpointID  string `json:"endpoint_id"`
	MacAddress  string `json:"mac_address"`
	IPv4Address string `json:"ipv4_address,omitempty"`
	IPv6Address string `json:"ipv6_address,omitempty"`
}

// HostConfig carries the runtime configuration resolved at create time.
type HostConfig struct {
	RestartPolicy RestartPolicy     `json:"restart_policy"`
	Resources     Resources         `json:"resources"`
	Privileged    bool              `json:"privileged,omitempty"`
	UsernsMode    string            `json:"userns_mode,omitempty"` // "" or "host"
	ReadonlyRootfs bool             `json:"readonly_rootfs,omitempty"`
	CapAdd        []string          `json:"cap_add,omitempty"`
	CapDrop       []string          `json:"cap_drop,omitempty"`
	StopSignal    string            `json:"stop_signal,omitempty"`  // default SIGTERM
	StopTimeout   *int              `json:"stop_timeout,omitempty"` // seconds, default 10
	AutoRemove    bool              `json:"auto_remove,omitempty"`
	LogOpts       map[string]string `json:"log_opts,omitempty"`
}

// Container is a mutable instance bound to one image.
type Container struct {
	ID      string         `json:"id" db:"id"`
	Name    string         `json:"name" db:"name"`
	ImageID string         `json:"image_id" db:"image_id"`
	Image   string         `json:"image" db:"image"` // reference used at create time
	Command []string       `json:"command" db:"command"`
	State   ContainerState `json:"state" db:"state"`

	ExitCode     int  `json:"exit_code" db:"exit_code"`
	RestartCount int  `json:"restart_count" db:"restart_count"`
	// ExplicitStop marks a container stopped by explicit request; consulted
	// by unless-stopped across daemon restarts.
	ExplicitStop bool `json:"explicit_stop" db:"explicit_stop"`

	HostConfig HostConfig          `json:"host_config" db:"host_config"`
	Mounts     []Mount             `json:"mounts,omitempty" db:"mounts"`
	Networks   []NetworkAttachment `json:"networks,omitempty" db:"networks"`
	Labels     map[string]string   `json:"labels,omitempty" db:"labels"`
	Env        []string            `json:"env,omitempty" db:"env"`

	// LayerID is the writable layer allocated by the storage driver.
	LayerID string `json:"layer_id" db:"layer_id"`

	// ServiceID/TaskID are set when the container backs a swarm task.
	ServiceID string `json:"service_id,omitempty" db:"service_id"`
	TaskID    string `json:"task_id,omitempty" db:"task_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// ShortID returns the truncated display ID.
func (c *Container) ShortID() string {
	return TruncateID(c.ID)
}

// StopTimeoutOrDefault returns the configured stop grace period.
func (c *Container) StopTimeoutOrDefault(def time.Duration) time.Duration {
	if c.HostConfig.StopTimeout != nil {
		return time.Duration(*c.HostConfig.StopTimeout) * time.Second
	}
	return def
}

// StopSignalOrDefault returns the configured stop signal or SIGTERM.
func (c *Container) StopSignalOrDefault() string {
	if c.HostConfig.StopSignal != "" {
		return c.HostConfig.StopSignal
	}
	return "SIGTERM"
}
