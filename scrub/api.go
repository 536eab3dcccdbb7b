// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package scrub re-verifies the checksums of a pool's local targets in the
// background and escalates a target for drain once it has seen too much
// corruption.
//
// A Manager binds one scrubber to each activated target. Each scrubber is a
// sched.Request running repeated passes over the pool. A pass hands a
// ScrubContext to the PoolScanner, which walks the containers and calls
// back into the ScrubContext to take each container's ContainerScrubState,
// to report checksums verified and corruption found, and to be paced.
//
// When a target's lifetime corruption count reaches Config.EvictThreshold a
// CorruptionMessage is published on the incast.Channel so the pool's leader
// drains the target.
package scrub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/sched"
	"github.com/NVIDIA/csumscrub/telemetry"
)

// Yielder is the set of scheduling hooks a scrubber paces itself with.
// *sched.Request satisfies it.
type Yielder interface {
	Context() context.Context
	Yield()
	Sleep(msec uint64)
	Throttle(units int)
	Exiting() bool
}

// ContainerHandle is an open reference to a container.
type ContainerHandle interface {
	ContainerID() uuid.UUID
	ScrubState() *ContainerScrubState
}

// ContainerResolver opens and releases containers on behalf of a scrubber.
type ContainerResolver interface {
	LookupContainer(poolID uuid.UUID, contID uuid.UUID) (handle ContainerHandle, err error)
	ReleaseContainer(handle ContainerHandle)
	IsStopping(handle ContainerHandle) (stopping bool)
}

// RankResolver reports the rank of this node.
type RankResolver interface {
	CurrentRank() (rank uint32)
}

// PoolScanner performs one pass over the local shard of a pool, calling
// back into sc for each container and each verified unit. A returned error
// is fatal to the scrubber.
type PoolScanner interface {
	ScanPool(ctx context.Context, sc *ScrubContext) (err error)
}

// Status of a scrubber's current pass
type Status int32

const (
	StatusNotRunning Status = iota
	StatusRunning
)

func (status Status) String() string {
	if StatusRunning == status {
		return "RUNNING"
	}
	return "NOT_RUNNING"
}

// Deps are the collaborators a Manager hands to each scrubber it starts.
type Deps struct {
	Scheduler  *sched.Scheduler
	Registry   *telemetry.Registry
	Scanner    PoolScanner
	Containers ContainerResolver
	Ranks      RankResolver
	Channel    incast.Channel

	// TracerProvider receives one span per pass. If nil, the global
	// provider is used.
	TracerProvider trace.TracerProvider
}

// Manager starts and stops scrubbers as targets activate and deactivate.
type Manager struct {
	sync.Mutex
	deps    Deps
	handles map[string]*Handle // Key == telemetry.TargetPath()
}

// Handle refers to a started scrubber.
type Handle struct {
	sync.Mutex
	manager *Manager
	sc      *ScrubContext
	request *sched.Request
	path    string
	stopped bool
	done    chan struct{}
	errList []string
}

func NewManager(deps Deps) (manager *Manager) {
	manager = &Manager{
		deps:    deps,
		handles: make(map[string]*Handle),
	}
	return
}

// Start begins scrubbing target of poolID as configured by confMap.
//
// If scrubbing is disabled nothing is created and a nil Handle is returned
// along with a nil error. A malformed configuration is returned as a
// blunder.InvalidConfigError and nothing is started.
func (manager *Manager) Start(poolID uuid.UUID, target uint32, confMap conf.ConfMap) (handle *Handle, err error) {
	handle, err = manager.start(poolID, target, confMap)
	return
}

// Stop asks the scrubber to exit, waits for it to do so, and then releases
// its ScrubContext and metrics. Stopping a nil or already stopped Handle
// is a no-op.
func (manager *Manager) Stop(handle *Handle) {
	manager.stop(handle)
}

// StopAll stops every scrubber the Manager has started.
func (manager *Manager) StopAll() {
	manager.stopAll()
}

// Handles returns the Handles of all running scrubbers.
func (manager *Manager) Handles() (handles []*Handle) {
	handles = manager.fetchHandles()
	return
}

// Active reports whether the scrubber's loop has yet to exit.
func (handle *Handle) Active() (active bool) {
	select {
	case <-handle.done:
		active = false
	default:
		active = true
	}
	return
}

// Done is closed once the scrubber's loop has exited.
func (handle *Handle) Done() <-chan struct{} {
	return handle.done
}

// Error returns the reasons, if any, the scrubber's loop exited early.
func (handle *Handle) Error() (err []string) {
	handle.Lock()
	err = append([]string(nil), handle.errList...)
	handle.Unlock()
	return
}

// Info summarizes the scrubber's progress.
func (handle *Handle) Info() (info []string) {
	info = handle.sc.info()
	return
}

// ScrubContext returns the scrubber's context.
func (handle *Handle) ScrubContext() *ScrubContext {
	return handle.sc
}
