// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry holds the scrubbing metrics registry.
//
// Each (pool, target) pair registers a ScrubMetrics under the namespace
//
//   pool/<pool-uuid>/scrubber/tgt_<target>/
//
// whose fields are written only by that target's scrubber and may be read
// concurrently by anyone. A single node-wide counter, events/corrupt_target,
// counts targets escalated for drain.
//
// A Registry may also be exposed to Prometheus via Collector().
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Metric names relative to a target's namespace
const (
	MetricStarted           = "started"
	MetricEnded             = "ended"
	MetricLastDuration      = "last_duration"
	MetricSleep             = "sleep"
	MetricCsumCalcs         = "csums/current"
	MetricLastCsumCalcs     = "csums/prev"
	MetricTotalCsumCalcs    = "csums/total"
	MetricCorruption        = "corruption/current"
	MetricTotalCorruption   = "corruption/total"
	MetricEventsCorruptTgts = "events/corrupt_target"
)

// ScrubMetrics are the per-target counters and gauges. All fields are
// accessed atomically through the methods below.
type ScrubMetrics struct {
	poolID          uuid.UUID
	target          uint32
	started         int64 // UnixNano
	ended           int64 // UnixNano
	lastDuration    int64 // time.Duration
	sleepMsecs      uint64
	csumCalcs       uint64
	lastCsumCalcs   uint64
	totalCsumCalcs  uint64
	corruption      uint64
	totalCorruption uint64
}

// ScrubSnapshot is a point-in-time copy of a ScrubMetrics.
type ScrubSnapshot struct {
	Path            string        `json:"path" yaml:"path"`
	PoolID          string        `json:"pool" yaml:"pool"`
	Target          uint32        `json:"target" yaml:"target"`
	Started         time.Time     `json:"started" yaml:"started"`
	Ended           time.Time     `json:"ended" yaml:"ended"`
	LastDuration    time.Duration `json:"last_duration" yaml:"last_duration"`
	SleepMsecs      uint64        `json:"sleep_ms" yaml:"sleep_ms"`
	CsumCalcs       uint64        `json:"csums_current" yaml:"csums_current"`
	LastCsumCalcs   uint64        `json:"csums_prev" yaml:"csums_prev"`
	TotalCsumCalcs  uint64        `json:"csums_total" yaml:"csums_total"`
	Corruption      uint64        `json:"corruption_current" yaml:"corruption_current"`
	TotalCorruption uint64        `json:"corruption_total" yaml:"corruption_total"`
}

// RegistrySnapshot is what the status endpoints render.
type RegistrySnapshot struct {
	CorruptTargets uint64          `json:"corrupt_targets" yaml:"corrupt_targets"`
	Targets        []ScrubSnapshot `json:"targets" yaml:"targets"`
}

type Registry struct {
	sync.Mutex
	metrics        map[string]*ScrubMetrics // Key == TargetPath()
	corruptTargets uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() (registry *Registry) {
	registry = &Registry{
		metrics: make(map[string]*ScrubMetrics),
	}
	return
}

// TargetPath returns the namespace for (poolID, target).
func TargetPath(poolID uuid.UUID, target uint32) (path string) {
	path = targetPath(poolID, target)
	return
}

// Register creates and registers the ScrubMetrics for (poolID, target). It
// fails with blunder.AlreadyStartedError if they are already registered.
func (registry *Registry) Register(poolID uuid.UUID, target uint32) (metrics *ScrubMetrics, err error) {
	metrics, err = registry.register(poolID, target)
	return
}

// UnRegister removes the ScrubMetrics for (poolID, target), if any.
func (registry *Registry) UnRegister(poolID uuid.UUID, target uint32) {
	registry.unRegister(poolID, target)
}

func (registry *Registry) IsRegistered(poolID uuid.UUID, target uint32) (registered bool) {
	_, registered = registry.Lookup(poolID, target)
	return
}

func (registry *Registry) Lookup(poolID uuid.UUID, target uint32) (metrics *ScrubMetrics, ok bool) {
	registry.Lock()
	metrics, ok = registry.metrics[targetPath(poolID, target)]
	registry.Unlock()
	return
}

// IncCorruptTargets bumps events/corrupt_target.
func (registry *Registry) IncCorruptTargets() {
	atomic.AddUint64(&registry.corruptTargets, 1)
}

func (registry *Registry) CorruptTargets() uint64 {
	return atomic.LoadUint64(&registry.corruptTargets)
}

// Snapshot returns a copy of every registered ScrubMetrics ordered by path.
func (registry *Registry) Snapshot() (snapshot RegistrySnapshot) {
	snapshot = registry.snapshot()
	return
}

// SprintStats renders every metric as a sorted "<path> <value>" line.
func (registry *Registry) SprintStats() (stats string) {
	stats = registry.sprintStats()
	return
}

func (metrics *ScrubMetrics) PoolID() uuid.UUID {
	return metrics.poolID
}

func (metrics *ScrubMetrics) Target() uint32 {
	return metrics.target
}

// PassStarted records the start of a pass and zeroes the current pass counters.
func (metrics *ScrubMetrics) PassStarted(now time.Time) {
	atomic.StoreInt64(&metrics.started, now.UnixNano())
	atomic.StoreUint64(&metrics.csumCalcs, 0)
	atomic.StoreUint64(&metrics.corruption, 0)
}

// PassEnded records the end of a pass, its duration, and rolls the current
// pass checksum count into the previous and lifetime counts.
func (metrics *ScrubMetrics) PassEnded(now time.Time) {
	var (
		csumCalcs = atomic.LoadUint64(&metrics.csumCalcs)
		started   = atomic.LoadInt64(&metrics.started)
	)

	atomic.StoreInt64(&metrics.ended, now.UnixNano())
	atomic.StoreInt64(&metrics.lastDuration, now.UnixNano()-started)
	atomic.StoreUint64(&metrics.lastCsumCalcs, csumCalcs)
	atomic.AddUint64(&metrics.totalCsumCalcs, csumCalcs)
}

func (metrics *ScrubMetrics) SetSleep(msecs uint64) {
	atomic.StoreUint64(&metrics.sleepMsecs, msecs)
}

func (metrics *ScrubMetrics) IncCsumCalcs() {
	atomic.AddUint64(&metrics.csumCalcs, 1)
}

// IncCorruption counts a corruption event against both the current pass and
// the lifetime counters, returning the new lifetime count.
func (metrics *ScrubMetrics) IncCorruption() (totalCorruption uint64) {
	atomic.AddUint64(&metrics.corruption, 1)
	totalCorruption = atomic.AddUint64(&metrics.totalCorruption, 1)
	return
}

func (metrics *ScrubMetrics) CsumCalcs() uint64 {
	return atomic.LoadUint64(&metrics.csumCalcs)
}

func (metrics *ScrubMetrics) TotalCsumCalcs() uint64 {
	return atomic.LoadUint64(&metrics.totalCsumCalcs)
}

func (metrics *ScrubMetrics) Corruption() uint64 {
	return atomic.LoadUint64(&metrics.corruption)
}

func (metrics *ScrubMetrics) TotalCorruption() uint64 {
	return atomic.LoadUint64(&metrics.totalCorruption)
}

func (metrics *ScrubMetrics) Ended() time.Time {
	return unixNanoToTime(atomic.LoadInt64(&metrics.ended))
}

// Snapshot returns a point-in-time copy of metrics.
func (metrics *ScrubMetrics) Snapshot() (snapshot ScrubSnapshot) {
	snapshot = metrics.snapshot()
	return
}
