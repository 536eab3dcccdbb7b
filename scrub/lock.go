// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrub

import (
	"sync"

	"github.com/NVIDIA/csumscrub/blunder"
)

// ContainerScrubState orders scrubbing of a container against its teardown.
//
// It belongs to the container's own open/close lifecycle. The scrubber only
// toggles its flags. Once stopping has been announced no new scrub may
// begin, and RequestStopAndWait() does not return until any scrub that was
// already underway has called EndScrub().
type ContainerScrubState struct {
	sync.Mutex
	cond      *sync.Cond
	scrubbing bool
	stopping  bool
}

func NewContainerScrubState() (state *ContainerScrubState) {
	state = &ContainerScrubState{}
	state.cond = sync.NewCond(&state.Mutex)
	return
}

// TryBeginScrub marks the container as being scrubbed. It fails with
// ContainerStoppingError if a stop has been requested.
func (state *ContainerScrubState) TryBeginScrub() (err error) {
	state.Lock()
	defer state.Unlock()

	if state.stopping {
		err = blunder.NewError(blunder.ContainerStoppingError, "container is stopping")
		return
	}
	if state.scrubbing {
		err = blunder.NewError(blunder.AlreadyStartedError, "container is already being scrubbed")
		return
	}

	state.scrubbing = true

	err = nil
	return
}

func (state *ContainerScrubState) EndScrub() {
	state.Lock()
	state.scrubbing = false
	state.cond.Broadcast()
	state.Unlock()
}

// RequestStopAndWait announces the container is stopping and then waits
// out any scrub in progress.
func (state *ContainerScrubState) RequestStopAndWait() {
	state.Lock()
	state.stopping = true
	for state.scrubbing {
		state.cond.Wait()
	}
	state.Unlock()
}

func (state *ContainerScrubState) IsStopping() (stopping bool) {
	state.Lock()
	stopping = state.stopping
	state.Unlock()
	return
}

func (state *ContainerScrubState) IsScrubbing() (scrubbing bool) {
	state.Lock()
	scrubbing = state.scrubbing
	state.Unlock()
	return
}
