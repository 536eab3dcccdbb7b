// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package membership tracks the state of pool targets and ranks and performs
// the state transitions requested by the scrubber's escalation path.
//
// Two Store implementations are provided: MemStore keeps the pool map in
// process, and EtcdStore keeps it in etcd so that every engine shares it.
package membership

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type TargetState int

const (
	StateUnknown TargetState = iota
	StateUp
	StateUpIn
	StateDown
	StateDownOut
	StateDrain
	StateNew
)

// TargetAddr identifies one target of one rank.
type TargetAddr struct {
	Rank   uint32
	Target uint32
}

// Transition records one applied state change.
type Transition struct {
	PoolID uuid.UUID
	Addr   TargetAddr
	From   TargetState
	To     TargetState
}

// Store is the pool map as seen by the scrubber.
type Store interface {
	// Ranks returns the pool's ranks in ascending order, restricted to those
	// that are UP or UPIN if upOnly is set.
	Ranks(ctx context.Context, poolID uuid.UUID, upOnly bool) (ranks []uint32, err error)
	TargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr) (state TargetState, err error)
	// UpdateTargetState moves every addr to state. svcRanks are the ranks
	// through which the update is to be applied and may not be empty.
	// Requests that would not change anything succeed without effect.
	UpdateTargetState(ctx context.Context, poolID uuid.UUID, svcRanks []uint32, addrs []TargetAddr, state TargetState) (err error)
}

func (state TargetState) String() string {
	switch state {
	case StateUp:
		return "UP"
	case StateUpIn:
		return "UPIN"
	case StateDown:
		return "DOWN"
	case StateDownOut:
		return "DOWNOUT"
	case StateDrain:
		return "DRAIN"
	case StateNew:
		return "NEW"
	default:
		return fmt.Sprintf("TargetState(%d)", int(state))
	}
}

// ParseTargetState is the inverse of TargetState.String().
func ParseTargetState(stateString string) (state TargetState, err error) {
	for state = StateUp; state <= StateNew; state++ {
		if state.String() == stateString {
			err = nil
			return
		}
	}

	state = StateUnknown
	err = fmt.Errorf("unknown target state \"%s\"", stateString)

	return
}

// IsUp reports whether a rank or target in state is serving I/O.
func (state TargetState) IsUp() bool {
	return (StateUp == state) || (StateUpIn == state)
}

func (addr TargetAddr) String() string {
	return fmt.Sprintf("rank %d target %d", addr.Rank, addr.Target)
}
