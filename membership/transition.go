// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
)

// checkTransition decides what moving a target from current to requested
// means. A drain of a target that is already draining, or has already been
// drained out, is a no-op.
func checkTransition(poolID uuid.UUID, addr TargetAddr, current TargetState, requested TargetState) (noop bool, err error) {
	if current == requested {
		noop = true
		err = nil
		return
	}

	switch requested {
	case StateDrain:
		switch current {
		case StateUp, StateUpIn:
			noop = false
			err = nil
		case StateDown, StateDownOut:
			noop = true
			err = nil
		default:
			err = blunder.NewError(blunder.TryAgainError, "pool %s %s is %s and cannot be drained", poolID, addr, current)
		}
	case StateUnknown:
		err = blunder.NewError(blunder.InvalidConfigError, "pool %s %s cannot be moved to %s", poolID, addr, requested)
	default:
		noop = false
		err = nil
	}

	return
}

func checkServiceRanks(poolID uuid.UUID, svcRanks []uint32) (err error) {
	if 0 == len(svcRanks) {
		err = blunder.NewError(blunder.NotFoundError, "pool %s has no service ranks to apply the update through", poolID)
	} else {
		err = nil
	}
	return
}
