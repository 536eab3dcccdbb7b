// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package memscan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/scrub"
	"github.com/NVIDIA/csumscrub/sched"
	"github.com/NVIDIA/csumscrub/telemetry"
)

type testRank uint32

func (rank testRank) CurrentRank() uint32 {
	return uint32(rank)
}

type recordingChannel struct {
	sync.Mutex
	msgs []incast.CorruptionMessage
}

func (channel *recordingChannel) Publish(ctx context.Context, msg incast.CorruptionMessage) (err error) {
	channel.Lock()
	channel.msgs = append(channel.msgs, msg)
	channel.Unlock()
	return
}

func populate(t *testing.T, store *Store, poolID uuid.UUID, containers int, records int) (contIDs []uuid.UUID) {
	require.NoError(t, store.CreatePool(poolID))

	for i := 0; i < containers; i++ {
		contID := uuid.New()
		require.NoError(t, store.CreateContainer(poolID, contID))
		for j := 0; j < records; j++ {
			require.NoError(t, store.Put(poolID, contID, fmt.Sprintf("key-%d", j), []byte(fmt.Sprintf("value %d of %s", j, contID))))
		}
	}

	contIDs, err := store.ContainerIDs(poolID)
	require.NoError(t, err)

	return
}

func newScrubContext(t *testing.T, store *Store, poolID uuid.UUID, channel incast.Channel) (sc *scrub.ScrubContext, request *sched.Request) {
	var (
		registry  = telemetry.NewRegistry()
		scheduler = sched.New(0)
	)

	metrics, err := registry.Register(poolID, 0)
	require.NoError(t, err)

	config := scrub.DefaultConfig()
	config.EvictThreshold = 3

	request = scheduler.Attach(sched.KindScrub, poolID)
	sc = scrub.NewScrubContext(poolID, 0, config, request, scrub.Deps{
		Scheduler:  scheduler,
		Registry:   registry,
		Scanner:    NewScanner(store),
		Containers: store,
		Ranks:      testRank(1),
		Channel:    channel,
	}, metrics)

	return
}

func TestStore(t *testing.T) {
	store := NewStore()
	poolID := uuid.New()

	contIDs := populate(t, store, poolID, 5, 2)
	require.Len(t, contIDs, 5)
	for i := 1; i < len(contIDs); i++ {
		assert.True(t, lessUUID(contIDs[i-1], contIDs[i]))
	}

	assert.True(t, blunder.Is(store.CreatePool(poolID), blunder.AlreadyStartedError))
	assert.True(t, blunder.Is(store.CreateContainer(poolID, contIDs[0]), blunder.AlreadyStartedError))
	assert.True(t, blunder.Is(store.CreateContainer(uuid.New(), uuid.New()), blunder.NotFoundError))

	// Overwrite keeps one record per key
	require.NoError(t, store.Put(poolID, contIDs[0], "key-0", []byte("replaced")))
	count, err := store.RecordCount(poolID, contIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.True(t, blunder.Is(store.InjectCorruption(poolID, contIDs[0], "missing"), blunder.NotFoundError))

	handle, err := store.LookupContainer(poolID, contIDs[1])
	require.NoError(t, err)
	assert.Equal(t, contIDs[1], handle.ContainerID())
	assert.False(t, store.IsStopping(handle))
	store.ReleaseContainer(handle)

	require.NoError(t, store.Destroy(poolID, contIDs[1]))
	_, err = store.LookupContainer(poolID, contIDs[1])
	assert.True(t, blunder.Is(err, blunder.NotFoundError))
	assert.True(t, store.IsStopping(handle))

	contIDs, err = store.ContainerIDs(poolID)
	require.NoError(t, err)
	assert.Len(t, contIDs, 4)
}

func TestScanPool(t *testing.T) {
	store := NewStore()
	poolID := uuid.New()
	contIDs := populate(t, store, poolID, 3, 4)

	channel := &recordingChannel{}
	sc, request := newScrubContext(t, store, poolID, channel)
	defer request.Put()

	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(12), sc.Metrics().CsumCalcs())
	assert.Equal(t, uint64(0), sc.Metrics().Corruption())

	require.NoError(t, store.InjectCorruption(poolID, contIDs[0], "key-1"))
	require.NoError(t, store.InjectCorruption(poolID, contIDs[2], "key-3"))

	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(12), sc.Metrics().CsumCalcs())
	assert.Equal(t, uint64(2), sc.Metrics().Corruption())
	assert.Empty(t, channel.msgs)

	// Third event crosses the threshold
	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(4), sc.Metrics().TotalCorruption())
	require.Len(t, channel.msgs, 1)
	assert.Equal(t, incast.CorruptionMessage{Pool: poolID, Rank: 1, Target: 0}, channel.msgs[0])

	// A repaired record verifies again
	require.NoError(t, store.Put(poolID, contIDs[0], "key-1", []byte("fresh")))
	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(1), sc.Metrics().Corruption())
}

func TestScanMissingPool(t *testing.T) {
	store := NewStore()
	poolID := uuid.New()

	sc, request := newScrubContext(t, store, poolID, &recordingChannel{})
	defer request.Put()

	err := sc.Pass()
	assert.True(t, blunder.Is(err, blunder.IOError))
	assert.False(t, sc.Metrics().Ended().IsZero())
}

func TestDestroyWaitsForScrub(t *testing.T) {
	store := NewStore()
	poolID := uuid.New()
	contIDs := populate(t, store, poolID, 2, 1)

	sc, request := newScrubContext(t, store, poolID, &recordingChannel{})
	defer request.Put()

	handle, err := sc.BeginContainer(contIDs[0])
	require.NoError(t, err)

	destroyed := make(chan error, 1)
	go func() {
		destroyed <- store.Destroy(poolID, contIDs[0])
	}()

	assert.Eventually(t, handle.ScrubState().IsStopping, time.Second, time.Millisecond)

	select {
	case <-destroyed:
		t.Fatalf("container destroyed while being scrubbed")
	case <-time.After(50 * time.Millisecond):
	}

	// Still present until the scrub ends
	count, err := store.RecordCount(poolID, contIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sc.EndContainer(handle)

	select {
	case err = <-destroyed:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("destroy did not complete")
	}

	// Next pass skips nothing it should not and finds only the survivor
	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(1), sc.Metrics().CsumCalcs())
}

func TestScanStopsWhenExiting(t *testing.T) {
	store := NewStore()
	poolID := uuid.New()
	populate(t, store, poolID, 3, 2)

	sc, request := newScrubContext(t, store, poolID, &recordingChannel{})

	request.Wait(true)
	require.NoError(t, sc.Pass())
	assert.Equal(t, uint64(0), sc.Metrics().CsumCalcs())

	request.Put()
}
