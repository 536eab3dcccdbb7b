// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package memscan

import (
	"context"

	"github.com/creachadair/cityhash"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/scrub"
)

// ScanPool verifies every record of every container in the pool. A
// container that cannot be begun (stopping, or gone since the walk started)
// is skipped. A missing pool is fatal.
//
// The scan stops early, between containers, once the scrubber is exiting.
func (scanner *Scanner) ScanPool(ctx context.Context, sc *scrub.ScrubContext) (err error) {
	var (
		contIDs []uuid.UUID
		handle  scrub.ContainerHandle
	)

	contIDs, err = scanner.store.ContainerIDs(sc.PoolID())
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	for _, contID := range contIDs {
		if sc.Exiting() || (nil != ctx.Err()) {
			logger.Tracef("scan of pool %s target %d ending early", sc.PoolID(), sc.Target())
			break
		}

		handle, err = sc.BeginContainer(contID)
		if nil != err {
			continue
		}

		for _, record := range scanner.store.snapshotRecords(handle) {
			if cityhash.Hash64(record.value) != record.csum {
				sc.RecordCorruption(contID)
			}
			sc.RecordChecksum()
		}

		sc.EndContainer(handle)
	}

	err = nil
	return
}
