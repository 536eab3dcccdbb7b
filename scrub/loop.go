// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrub

import (
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/utils"
)

const tracerName = "github.com/NVIDIA/csumscrub/scrub"

// run is the scrubber's unit of execution. It performs passes until asked
// to exit or until a pass fails, sleeping PassInterval between passes.
func (sc *ScrubContext) run() (err error) {
	var (
		passInterval = utils.DurationToMsecs(sc.config.PassInterval)
	)

	logger.Infof("scrubber for pool %s target %d running (%s, %d credits per pass, threshold %d)",
		sc.poolID, sc.target, sc.config.Schedule, sc.config.CreditsPerPass, sc.config.EvictThreshold)

	for !sc.yielder.Exiting() {
		err = sc.Pass()
		if nil != err {
			logger.ErrorfWithError(err, "scrubber for pool %s target %d stopping after failed pass", sc.poolID, sc.target)
			return
		}

		if 0 < passInterval {
			sc.yielder.Sleep(passInterval)
		} else {
			sc.yielder.Yield()
		}
	}

	logger.Infof("scrubber for pool %s target %d exiting after %d passes", sc.poolID, sc.target, sc.Passes())

	err = nil
	return
}

// Pass performs a single scan of the pool. The end of the pass is recorded
// even if the scan fails.
func (sc *ScrubContext) Pass() (err error) {
	ctx, span := sc.tracer.Start(sc.yielder.Context(), "scrub.pass",
		trace.WithAttributes(
			attribute.String("pool", sc.poolID.String()),
			attribute.Int64("target", int64(sc.target)),
		),
	)
	defer span.End()

	atomic.StoreInt32(&sc.status, int32(StatusRunning))
	sc.creditsLeft = sc.config.CreditsPerPass
	sc.metrics.PassStarted(time.Now())

	err = sc.deps.Scanner.ScanPool(ctx, sc)

	sc.metrics.PassEnded(time.Now())
	atomic.AddUint64(&sc.passes, 1)
	atomic.StoreInt32(&sc.status, int32(StatusNotRunning))

	span.SetAttributes(
		attribute.Int64("csums", int64(sc.metrics.CsumCalcs())),
		attribute.Int64("corruption", int64(sc.metrics.Corruption())),
	)

	if nil != err {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	// Covers an escalation that failed to deliver earlier
	sc.maybeEscalate()

	return
}
