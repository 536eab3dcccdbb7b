// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"context"

	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

// Drainer turns a corrupt-target report into a DRAIN of that target.
type Drainer struct {
	store Store
}

func NewDrainer(store Store) (drainer *Drainer) {
	drainer = &Drainer{store: store}
	return
}

// Drain resolves the pool's UP ranks and requests a DRAIN of (rank, target)
// through them. Draining a target that is already draining or drained
// succeeds without effect.
func (drainer *Drainer) Drain(ctx context.Context, poolID uuid.UUID, rank uint32, target uint32) (err error) {
	var (
		addr     = TargetAddr{Rank: rank, Target: target}
		svcRanks []uint32
	)

	svcRanks, err = drainer.store.Ranks(ctx, poolID, true)
	if nil != err {
		logger.ErrorfWithError(err, "couldn't get UP ranks of pool %s", poolID)
		return
	}
	if 0 == len(svcRanks) {
		err = blunder.NewError(blunder.NotFoundError, "pool %s has no UP ranks", poolID)
		logger.ErrorfWithError(err, "couldn't drain pool %s %s", poolID, addr)
		return
	}

	err = drainer.store.UpdateTargetState(ctx, poolID, svcRanks, []TargetAddr{addr}, StateDrain)
	if nil != err {
		logger.ErrorfWithError(err, "pool %s %s update to %s failed", poolID, addr, StateDrain)
	}

	return
}
