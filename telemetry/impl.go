// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/sortedmap"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

func targetPath(poolID uuid.UUID, target uint32) string {
	return fmt.Sprintf("pool/%s/scrubber/tgt_%d", poolID, target)
}

func unixNanoToTime(unixNano int64) time.Time {
	if 0 == unixNano {
		return time.Time{}
	}
	return time.Unix(0, unixNano)
}

func (registry *Registry) register(poolID uuid.UUID, target uint32) (metrics *ScrubMetrics, err error) {
	var (
		ok   bool
		path = targetPath(poolID, target)
	)

	registry.Lock()
	defer registry.Unlock()

	_, ok = registry.metrics[path]
	if ok {
		err = blunder.NewError(blunder.AlreadyStartedError, "metrics for %s already registered", path)
		return
	}

	metrics = &ScrubMetrics{
		poolID: poolID,
		target: target,
	}

	registry.metrics[path] = metrics

	logger.Tracef("registered %s", path)

	err = nil
	return
}

func (registry *Registry) unRegister(poolID uuid.UUID, target uint32) {
	path := targetPath(poolID, target)

	registry.Lock()
	delete(registry.metrics, path)
	registry.Unlock()

	logger.Tracef("unregistered %s", path)
}

func (registry *Registry) sortedMetrics() (metricsList []*ScrubMetrics) {
	registry.Lock()
	metricsList = make([]*ScrubMetrics, 0, len(registry.metrics))
	for _, metrics := range registry.metrics {
		metricsList = append(metricsList, metrics)
	}
	registry.Unlock()

	sort.Slice(metricsList, func(i, j int) bool {
		return targetPath(metricsList[i].poolID, metricsList[i].target) < targetPath(metricsList[j].poolID, metricsList[j].target)
	})

	return
}

func (registry *Registry) snapshot() (snapshot RegistrySnapshot) {
	snapshot.CorruptTargets = registry.CorruptTargets()

	metricsList := registry.sortedMetrics()

	snapshot.Targets = make([]ScrubSnapshot, 0, len(metricsList))
	for _, metrics := range metricsList {
		snapshot.Targets = append(snapshot.Targets, metrics.snapshot())
	}

	return
}

func (metrics *ScrubMetrics) snapshot() (snapshot ScrubSnapshot) {
	snapshot = ScrubSnapshot{
		Path:            targetPath(metrics.poolID, metrics.target),
		PoolID:          metrics.poolID.String(),
		Target:          metrics.target,
		Started:         unixNanoToTime(atomic.LoadInt64(&metrics.started)),
		Ended:           unixNanoToTime(atomic.LoadInt64(&metrics.ended)),
		LastDuration:    time.Duration(atomic.LoadInt64(&metrics.lastDuration)),
		SleepMsecs:      atomic.LoadUint64(&metrics.sleepMsecs),
		CsumCalcs:       atomic.LoadUint64(&metrics.csumCalcs),
		LastCsumCalcs:   atomic.LoadUint64(&metrics.lastCsumCalcs),
		TotalCsumCalcs:  atomic.LoadUint64(&metrics.totalCsumCalcs),
		Corruption:      atomic.LoadUint64(&metrics.corruption),
		TotalCorruption: atomic.LoadUint64(&metrics.totalCorruption),
	}
	return
}

func (registry *Registry) sprintStats() (stats string) {
	var (
		builder   strings.Builder
		err       error
		key       sortedmap.Key
		numLines  int
		ok        bool
		statsLLRB sortedmap.LLRBTree
		value     sortedmap.Value
	)

	statsLLRB = sortedmap.NewLLRBTree(sortedmap.CompareString, nil)

	put := func(statKey string, statValue interface{}) {
		ok, err = statsLLRB.Put(statKey, fmt.Sprintf("%v", statValue))
		if nil != err {
			logger.Fatalf("statsLLRB.Put(%v) failed: %v", statKey, err)
		}
		if !ok {
			logger.Fatalf("statsLLRB.Put(%v) returned ok == false", statKey)
		}
	}

	for _, metrics := range registry.sortedMetrics() {
		snapshot := metrics.snapshot()
		prefix := snapshot.Path + "/"

		put(prefix+MetricStarted, atomic.LoadInt64(&metrics.started))
		put(prefix+MetricEnded, atomic.LoadInt64(&metrics.ended))
		put(prefix+MetricLastDuration, snapshot.LastDuration.Milliseconds())
		put(prefix+MetricSleep, snapshot.SleepMsecs)
		put(prefix+MetricCsumCalcs, snapshot.CsumCalcs)
		put(prefix+MetricLastCsumCalcs, snapshot.LastCsumCalcs)
		put(prefix+MetricTotalCsumCalcs, snapshot.TotalCsumCalcs)
		put(prefix+MetricCorruption, snapshot.Corruption)
		put(prefix+MetricTotalCorruption, snapshot.TotalCorruption)
	}

	put(MetricEventsCorruptTgts, registry.CorruptTargets())

	numLines, err = statsLLRB.Len()
	if nil != err {
		logger.Fatalf("statsLLRB.Len() failed: %v", err)
	}

	for i := 0; i < numLines; i++ {
		key, value, ok, err = statsLLRB.GetByIndex(i)
		if (nil != err) || !ok {
			logger.Fatalf("statsLLRB.GetByIndex(%v) failed: ok == %v err == %v", i, ok, err)
		}
		builder.WriteString(key.(string))
		builder.WriteString(" ")
		builder.WriteString(value.(string))
		builder.WriteString("\n")
	}

	stats = builder.String()

	return
}
