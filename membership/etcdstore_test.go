// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/clientv3"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/etcdtest"
)

func TestEtcdStore(t *testing.T) {
	var (
		ctx    = context.Background()
		poolID = uuid.New()
	)

	tc := etcdtest.NewTC(t, 1)
	defer tc.Destroy(t)

	store := NewEtcdStore(tc.Client(0), "membership/", 5*time.Second)

	_, err := store.Ranks(ctx, poolID, false)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	require.NoError(t, store.SetRankState(ctx, poolID, 10, StateUp))
	require.NoError(t, store.SetRankState(ctx, poolID, 2, StateDown))
	require.NoError(t, store.SetRankState(ctx, poolID, 3, StateUpIn))

	ranks, err := store.Ranks(ctx, poolID, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 10}, ranks)

	ranks, err = store.Ranks(ctx, poolID, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 10}, ranks)

	addr := TargetAddr{Rank: 3, Target: 4}
	require.NoError(t, store.SetTargetState(ctx, poolID, addr, StateUpIn))

	drainer := NewDrainer(store)

	// Concurrent duplicate drains all succeed and leave one DRAIN behind
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = drainer.Drain(ctx, poolID, addr.Rank, addr.Target)
		}(i)
	}
	wg.Wait()

	for _, err = range errs {
		assert.NoError(t, err)
	}

	state, err := store.TargetState(ctx, poolID, addr)
	require.NoError(t, err)
	assert.Equal(t, StateDrain, state)

	_, err = store.TargetState(ctx, poolID, TargetAddr{Rank: 3, Target: 5})
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	require.NoError(t, store.SetTargetState(ctx, poolID, TargetAddr{Rank: 10, Target: 0}, StateNew))
	err = drainer.Drain(ctx, poolID, 10, 0)
	assert.True(t, blunder.Is(err, blunder.TryAgainError))

	// Keys are confined to the store's prefix
	getResponse, err := tc.Client(0).Get(ctx, "membership/"+poolID.String()+"/target/", clientv3.WithPrefix())
	require.NoError(t, err)
	assert.Len(t, getResponse.Kvs, 2)
}
