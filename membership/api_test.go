// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/csumscrub/blunder"
)

func TestTargetStateStrings(t *testing.T) {
	for state := StateUp; state <= StateNew; state++ {
		parsed, err := ParseTargetState(state.String())
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}

	_, err := ParseTargetState("SIDEWAYS")
	assert.Error(t, err)

	assert.True(t, StateUp.IsUp())
	assert.True(t, StateUpIn.IsUp())
	assert.False(t, StateDrain.IsUp())
	assert.Equal(t, "rank 2 target 5", TargetAddr{Rank: 2, Target: 5}.String())
}

func TestCheckTransition(t *testing.T) {
	poolID := uuid.New()
	addr := TargetAddr{Rank: 1, Target: 0}

	testCases := []struct {
		from    TargetState
		to      TargetState
		noop    bool
		wantErr bool
	}{
		{StateUp, StateDrain, false, false},
		{StateUpIn, StateDrain, false, false},
		{StateDrain, StateDrain, true, false},
		{StateDown, StateDrain, true, false},
		{StateDownOut, StateDrain, true, false},
		{StateNew, StateDrain, false, true},
		{StateDrain, StateDownOut, false, false},
		{StateUp, StateUnknown, false, true},
	}

	for _, testCase := range testCases {
		noop, err := checkTransition(poolID, addr, testCase.from, testCase.to)
		if testCase.wantErr {
			assert.Error(t, err, "%s => %s", testCase.from, testCase.to)
			continue
		}
		require.NoError(t, err, "%s => %s", testCase.from, testCase.to)
		assert.Equal(t, testCase.noop, noop, "%s => %s", testCase.from, testCase.to)
	}
}

func setupMemStore(t *testing.T, poolID uuid.UUID) (store *MemStore) {
	store = NewMemStore()

	require.NoError(t, store.SetRankState(poolID, 2, StateUp))
	require.NoError(t, store.SetRankState(poolID, 0, StateUpIn))
	require.NoError(t, store.SetRankState(poolID, 1, StateDown))

	for rank := uint32(0); rank < 3; rank++ {
		for target := uint32(0); target < 2; target++ {
			require.NoError(t, store.SetTargetState(poolID, TargetAddr{Rank: rank, Target: target}, StateUpIn))
		}
	}

	return
}

func TestMemStore(t *testing.T) {
	var (
		ctx    = context.Background()
		poolID = uuid.New()
		store  = setupMemStore(t, poolID)
	)

	ranks, err := store.Ranks(ctx, poolID, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, ranks)

	ranks, err = store.Ranks(ctx, poolID, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, ranks)

	_, err = store.Ranks(ctx, uuid.New(), true)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	addr := TargetAddr{Rank: 2, Target: 1}

	err = store.UpdateTargetState(ctx, poolID, nil, []TargetAddr{addr}, StateDrain)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	err = store.UpdateTargetState(ctx, poolID, ranks, []TargetAddr{addr}, StateDrain)
	require.NoError(t, err)

	state, err := store.TargetState(ctx, poolID, addr)
	require.NoError(t, err)
	assert.Equal(t, StateDrain, state)

	// A second drain is a no-op
	err = store.UpdateTargetState(ctx, poolID, ranks, []TargetAddr{addr}, StateDrain)
	require.NoError(t, err)

	transitions := store.Transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, Transition{PoolID: poolID, Addr: addr, From: StateUpIn, To: StateDrain}, transitions[0])

	_, err = store.TargetState(ctx, poolID, TargetAddr{Rank: 9, Target: 9})
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	err = store.UpdateTargetState(ctx, poolID, ranks, []TargetAddr{{Rank: 9, Target: 9}}, StateDrain)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))
}

func TestDrainer(t *testing.T) {
	var (
		ctx    = context.Background()
		poolID = uuid.New()
		store  = setupMemStore(t, poolID)
	)

	drainer := NewDrainer(store)

	require.NoError(t, drainer.Drain(ctx, poolID, 0, 1))
	require.NoError(t, drainer.Drain(ctx, poolID, 0, 1))

	state, err := store.TargetState(ctx, poolID, TargetAddr{Rank: 0, Target: 1})
	require.NoError(t, err)
	assert.Equal(t, StateDrain, state)
	assert.Len(t, store.Transitions(), 1)

	// No UP ranks left to apply the update through
	require.NoError(t, store.SetRankState(poolID, 0, StateDown))
	require.NoError(t, store.SetRankState(poolID, 2, StateDownOut))
	err = drainer.Drain(ctx, poolID, 2, 0)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	err = drainer.Drain(ctx, uuid.New(), 0, 0)
	assert.Error(t, err)
}
