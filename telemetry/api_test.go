// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/csumscrub/blunder"
)

var testPoolID = uuid.MustParse("0e3c6f4a-9d41-4a8e-b7f5-2a1c3d4e5f60")

func TestRegister(t *testing.T) {
	registry := NewRegistry()

	assert.False(t, registry.IsRegistered(testPoolID, 3))

	metrics, err := registry.Register(testPoolID, 3)
	require.NoError(t, err)
	assert.Equal(t, testPoolID, metrics.PoolID())
	assert.Equal(t, uint32(3), metrics.Target())
	assert.True(t, registry.IsRegistered(testPoolID, 3))

	_, err = registry.Register(testPoolID, 3)
	assert.True(t, blunder.Is(err, blunder.AlreadyStartedError))

	looked, ok := registry.Lookup(testPoolID, 3)
	require.True(t, ok)
	assert.Same(t, metrics, looked)

	registry.UnRegister(testPoolID, 3)
	assert.False(t, registry.IsRegistered(testPoolID, 3))

	// UnRegister of something never registered is harmless
	registry.UnRegister(testPoolID, 4)

	assert.Equal(t, "pool/0e3c6f4a-9d41-4a8e-b7f5-2a1c3d4e5f60/scrubber/tgt_3", TargetPath(testPoolID, 3))
}

func TestPassCounters(t *testing.T) {
	registry := NewRegistry()

	metrics, err := registry.Register(testPoolID, 0)
	require.NoError(t, err)

	start := time.Now()

	metrics.PassStarted(start)
	for i := 0; i < 5; i++ {
		metrics.IncCsumCalcs()
	}
	assert.Equal(t, uint64(1), metrics.IncCorruption())
	assert.Equal(t, uint64(2), metrics.IncCorruption())
	metrics.SetSleep(25)
	metrics.PassEnded(start.Add(1500 * time.Millisecond))

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(5), snapshot.CsumCalcs)
	assert.Equal(t, uint64(5), snapshot.LastCsumCalcs)
	assert.Equal(t, uint64(5), snapshot.TotalCsumCalcs)
	assert.Equal(t, uint64(2), snapshot.Corruption)
	assert.Equal(t, uint64(2), snapshot.TotalCorruption)
	assert.Equal(t, uint64(25), snapshot.SleepMsecs)
	assert.Equal(t, 1500*time.Millisecond, snapshot.LastDuration)
	assert.False(t, metrics.Ended().IsZero())

	// Current pass counters reset, lifetime counters do not
	metrics.PassStarted(start.Add(2 * time.Second))
	assert.Equal(t, uint64(0), metrics.CsumCalcs())
	assert.Equal(t, uint64(0), metrics.Corruption())
	assert.Equal(t, uint64(5), metrics.TotalCsumCalcs())
	assert.Equal(t, uint64(2), metrics.TotalCorruption())
	metrics.IncCsumCalcs()
	metrics.PassEnded(start.Add(3 * time.Second))
	assert.Equal(t, uint64(6), metrics.TotalCsumCalcs())
	assert.Equal(t, uint64(1), metrics.Snapshot().LastCsumCalcs)
}

func TestSprintStatsAndSnapshot(t *testing.T) {
	registry := NewRegistry()

	metricsB, err := registry.Register(testPoolID, 1)
	require.NoError(t, err)
	_, err = registry.Register(testPoolID, 0)
	require.NoError(t, err)

	metricsB.IncCorruption()
	registry.IncCorruptTargets()

	stats := registry.SprintStats()
	lines := strings.Split(strings.TrimSuffix(stats, "\n"), "\n")
	assert.Len(t, lines, 2*9+1)
	assert.Equal(t, "events/corrupt_target 1", lines[0])
	assert.Contains(t, stats, TargetPath(testPoolID, 1)+"/corruption/total 1\n")
	assert.Contains(t, stats, TargetPath(testPoolID, 0)+"/started 0\n")

	snapshot := registry.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CorruptTargets)
	require.Len(t, snapshot.Targets, 2)
	assert.Equal(t, uint32(0), snapshot.Targets[0].Target)
	assert.Equal(t, uint32(1), snapshot.Targets[1].Target)
	assert.Equal(t, uint64(1), snapshot.Targets[1].TotalCorruption)
}

func TestCollector(t *testing.T) {
	registry := NewRegistry()

	metrics, err := registry.Register(testPoolID, 2)
	require.NoError(t, err)
	metrics.IncCorruption()
	metrics.IncCorruption()

	collector := registry.Collector()

	promRegistry := prometheus.NewPedanticRegistry()
	require.NoError(t, promRegistry.Register(collector))

	assert.Equal(t, 10, testutil.CollectAndCount(collector))

	expected := `
# HELP scrubber_corruption_total Total number of silent data corruptions detected
# TYPE scrubber_corruption_total counter
scrubber_corruption_total{pool="0e3c6f4a-9d41-4a8e-b7f5-2a1c3d4e5f60",target="2"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "scrubber_corruption_total"))

	registry.UnRegister(testPoolID, 2)
	assert.Equal(t, 1, testutil.CollectAndCount(collector))
}
