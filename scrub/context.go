// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/telemetry"
	"github.com/NVIDIA/csumscrub/utils"
)

// Escalation is published on a context of its own, not the scrubber's, so
// that a stop request does not cut short a delivery already underway.
const escalationTimeout = 10 * time.Second

// ScrubContext is the state of one target's scrubber. Apart from the
// accessors noted below, it is used only by the scrubber's own loop and by
// the PoolScanner that loop calls.
type ScrubContext struct {
	poolID      uuid.UUID
	target      uint32
	config      Config
	yielder     Yielder
	deps        Deps
	metrics     *telemetry.ScrubMetrics
	tracer      trace.Tracer
	status      int32 // Status; atomic
	passes      uint64
	creditsLeft uint32
	escalated   uint32 // atomic
}

// NewScrubContext assembles a ScrubContext. Manager.Start is the usual
// caller; PoolScanner tests may call it directly.
func NewScrubContext(poolID uuid.UUID, target uint32, config Config, yielder Yielder, deps Deps, metrics *telemetry.ScrubMetrics) (sc *ScrubContext) {
	sc = &ScrubContext{
		poolID:      poolID,
		target:      target,
		config:      config,
		yielder:     yielder,
		deps:        deps,
		metrics:     metrics,
		status:      int32(StatusNotRunning),
		creditsLeft: config.CreditsPerPass,
	}

	if nil == deps.TracerProvider {
		sc.tracer = otel.Tracer(tracerName)
	} else {
		sc.tracer = deps.TracerProvider.Tracer(tracerName)
	}
	return
}

func (sc *ScrubContext) PoolID() uuid.UUID {
	return sc.poolID
}

func (sc *ScrubContext) Target() uint32 {
	return sc.target
}

func (sc *ScrubContext) Config() Config {
	return sc.config
}

func (sc *ScrubContext) Metrics() *telemetry.ScrubMetrics {
	return sc.metrics
}

// Status may be called from any goroutine.
func (sc *ScrubContext) Status() Status {
	return Status(atomic.LoadInt32(&sc.status))
}

// Passes may be called from any goroutine.
func (sc *ScrubContext) Passes() uint64 {
	return atomic.LoadUint64(&sc.passes)
}

// Exiting reports whether the scrubber has been asked to stop.
func (sc *ScrubContext) Exiting() bool {
	return sc.yielder.Exiting()
}

func (sc *ScrubContext) Yield() {
	sc.yielder.Yield()
}

// BeginContainer opens contID and marks it as being scrubbed. A container
// that is stopping is refused with blunder.ContainerStoppingError and is
// expected to be skipped for the rest of the pass.
func (sc *ScrubContext) BeginContainer(contID uuid.UUID) (handle ContainerHandle, err error) {
	handle, err = sc.deps.Containers.LookupContainer(sc.poolID, contID)
	if nil != err {
		return
	}

	if sc.deps.Containers.IsStopping(handle) {
		sc.deps.Containers.ReleaseContainer(handle)
		handle = nil
		err = blunder.NewError(blunder.ContainerStoppingError, "container %s is stopping", contID)
		logger.Tracef("scrubber for pool %s target %d skipping container %s: stopping", sc.poolID, sc.target, contID)
		return
	}

	err = handle.ScrubState().TryBeginScrub()
	if nil != err {
		sc.deps.Containers.ReleaseContainer(handle)
		handle = nil
		logger.TracefWithError(err, "scrubber for pool %s target %d skipping container %s", sc.poolID, sc.target, contID)
		return
	}

	return
}

// EndContainer undoes a successful BeginContainer and then yields.
func (sc *ScrubContext) EndContainer(handle ContainerHandle) {
	handle.ScrubState().EndScrub()
	sc.deps.Containers.ReleaseContainer(handle)
	sc.yielder.Yield()
}

// RecordChecksum accounts for one verified unit. It spends one credit and,
// once the pass's credits are gone, paces the scrubber according to its
// Schedule before replenishing them.
func (sc *ScrubContext) RecordChecksum() {
	sc.metrics.IncCsumCalcs()
	sc.yielder.Throttle(1)

	if 0 < sc.creditsLeft {
		sc.creditsLeft--
	}
	if 0 < sc.creditsLeft {
		return
	}

	switch sc.config.Schedule {
	case ScheduleTimed:
		sc.metrics.SetSleep(utils.DurationToMsecs(sc.config.CreditSleep))
		sc.yielder.Sleep(utils.DurationToMsecs(sc.config.CreditSleep))
	default:
		sc.metrics.SetSleep(0)
		sc.yielder.Yield()
	}

	sc.creditsLeft = sc.config.CreditsPerPass
}

// RecordCorruption accounts for one checksum mismatch and, if this pushes
// the target over its threshold, escalates it. Scanning is expected to
// carry on past the corrupt unit.
func (sc *ScrubContext) RecordCorruption(contID uuid.UUID) {
	totalCorruption := sc.metrics.IncCorruption()

	logger.Warnf("scrubber for pool %s target %d found corruption in container %s (%d of %d)",
		sc.poolID, sc.target, contID, totalCorruption, sc.config.EvictThreshold)

	sc.maybeEscalate()
}

// maybeEscalate publishes a CorruptionMessage once the lifetime corruption
// count has reached the threshold. After one successful publish the target
// is not escalated again this activation. A failed publish is retried at
// the next evaluation.
func (sc *ScrubContext) maybeEscalate() {
	var (
		err error
		msg incast.CorruptionMessage
	)

	if 0 != atomic.LoadUint32(&sc.escalated) {
		return
	}
	if uint64(sc.config.EvictThreshold) > sc.metrics.TotalCorruption() {
		return
	}

	msg = incast.CorruptionMessage{
		Pool:   sc.poolID,
		Rank:   sc.deps.Ranks.CurrentRank(),
		Target: sc.target,
	}

	ctx, cancel := context.WithTimeout(context.Background(), escalationTimeout)
	err = sc.deps.Channel.Publish(ctx, msg)
	cancel()

	if nil != err {
		logger.ErrorfWithError(err, "unable to escalate %s for drain", msg)
		return
	}

	atomic.StoreUint32(&sc.escalated, 1)
	sc.deps.Registry.IncCorruptTargets()

	logger.Infof("escalated %s for drain after %d corruption events", msg, sc.metrics.TotalCorruption())
}

// Escalated reports whether this target has been escalated for drain.
func (sc *ScrubContext) Escalated() bool {
	return 0 != atomic.LoadUint32(&sc.escalated)
}

func (sc *ScrubContext) info() (info []string) {
	snapshot := sc.metrics.Snapshot()

	info = []string{
		fmt.Sprintf("%s status %s after %d passes", snapshot.Path, sc.Status(), sc.Passes()),
		fmt.Sprintf("checksums current %d prev %d total %d", snapshot.CsumCalcs, snapshot.LastCsumCalcs, snapshot.TotalCsumCalcs),
		fmt.Sprintf("corruption current %d total %d threshold %d", snapshot.Corruption, snapshot.TotalCorruption, sc.config.EvictThreshold),
	}

	return
}
