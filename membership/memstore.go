// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"context"
	"sync"

	"github.com/NVIDIA/sortedmap"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

type memPoolStruct struct {
	rankTree   sortedmap.LLRBTree // Key == uint32 rank;                  Value == TargetState
	targetTree sortedmap.LLRBTree // Key == uint64 rank<<32 | target; Value == TargetState
}

// MemStore is an in-process Store.
type MemStore struct {
	sync.Mutex
	pools       map[uuid.UUID]*memPoolStruct
	transitions []Transition
}

func NewMemStore() (store *MemStore) {
	store = &MemStore{
		pools: make(map[uuid.UUID]*memPoolStruct),
	}
	return
}

func targetKey(addr TargetAddr) uint64 {
	return (uint64(addr.Rank) << 32) | uint64(addr.Target)
}

func (store *MemStore) fetchPoolWhileLocked(poolID uuid.UUID, create bool) (pool *memPoolStruct, err error) {
	var (
		ok bool
	)

	pool, ok = store.pools[poolID]
	if !ok {
		if !create {
			err = blunder.NewError(blunder.NotFoundError, "pool %s not found", poolID)
			return
		}
		pool = &memPoolStruct{
			rankTree:   sortedmap.NewLLRBTree(sortedmap.CompareUint32, nil),
			targetTree: sortedmap.NewLLRBTree(sortedmap.CompareUint64, nil),
		}
		store.pools[poolID] = pool
	}

	err = nil
	return
}

func putOrPatch(tree sortedmap.LLRBTree, key sortedmap.Key, value sortedmap.Value) (err error) {
	var (
		ok bool
	)

	ok, err = tree.PatchByKey(key, value)
	if (nil == err) && !ok {
		_, err = tree.Put(key, value)
	}

	return
}

// SetRankState sets the state of rank in poolID, creating either as needed.
func (store *MemStore) SetRankState(poolID uuid.UUID, rank uint32, state TargetState) (err error) {
	var (
		pool *memPoolStruct
	)

	store.Lock()
	defer store.Unlock()

	pool, _ = store.fetchPoolWhileLocked(poolID, true)

	err = putOrPatch(pool.rankTree, rank, state)

	return
}

// SetTargetState sets the state of addr in poolID without transition checks,
// creating either as needed.
func (store *MemStore) SetTargetState(poolID uuid.UUID, addr TargetAddr, state TargetState) (err error) {
	var (
		pool *memPoolStruct
	)

	store.Lock()
	defer store.Unlock()

	pool, _ = store.fetchPoolWhileLocked(poolID, true)

	err = putOrPatch(pool.targetTree, targetKey(addr), state)

	return
}

// Transitions returns every state change applied via UpdateTargetState.
func (store *MemStore) Transitions() (transitions []Transition) {
	store.Lock()
	transitions = make([]Transition, len(store.transitions))
	copy(transitions, store.transitions)
	store.Unlock()
	return
}

func (store *MemStore) Ranks(ctx context.Context, poolID uuid.UUID, upOnly bool) (ranks []uint32, err error) {
	var (
		key      sortedmap.Key
		numRanks int
		ok       bool
		pool     *memPoolStruct
		value    sortedmap.Value
	)

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPoolWhileLocked(poolID, false)
	if nil != err {
		return
	}

	numRanks, err = pool.rankTree.Len()
	if nil != err {
		return
	}

	ranks = make([]uint32, 0, numRanks)

	for i := 0; i < numRanks; i++ {
		key, value, ok, err = pool.rankTree.GetByIndex(i)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IOError, "pool %s rankTree.GetByIndex(%d) returned !ok", poolID, i)
			return
		}
		if !upOnly || value.(TargetState).IsUp() {
			ranks = append(ranks, key.(uint32))
		}
	}

	err = nil
	return
}

func (store *MemStore) TargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr) (state TargetState, err error) {
	var (
		ok    bool
		pool  *memPoolStruct
		value sortedmap.Value
	)

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPoolWhileLocked(poolID, false)
	if nil != err {
		return
	}

	value, ok, err = pool.targetTree.GetByKey(targetKey(addr))
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "pool %s %s not found", poolID, addr)
		return
	}

	state = value.(TargetState)

	return
}

func (store *MemStore) UpdateTargetState(ctx context.Context, poolID uuid.UUID, svcRanks []uint32, addrs []TargetAddr, state TargetState) (err error) {
	var (
		current TargetState
		noop    bool
		ok      bool
		pool    *memPoolStruct
		value   sortedmap.Value
	)

	err = checkServiceRanks(poolID, svcRanks)
	if nil != err {
		return
	}

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPoolWhileLocked(poolID, false)
	if nil != err {
		return
	}

	for _, addr := range addrs {
		value, ok, err = pool.targetTree.GetByKey(targetKey(addr))
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.NotFoundError, "pool %s %s not found", poolID, addr)
			return
		}

		current = value.(TargetState)

		noop, err = checkTransition(poolID, addr, current, state)
		if nil != err {
			return
		}
		if noop {
			logger.Tracef("pool %s %s already %s; %s request ignored", poolID, addr, current, state)
			continue
		}

		_, err = pool.targetTree.PatchByKey(targetKey(addr), state)
		if nil != err {
			return
		}

		store.transitions = append(store.transitions, Transition{PoolID: poolID, Addr: addr, From: current, To: state})

		logger.Infof("pool %s %s moved from %s to %s", poolID, addr, current, state)
	}

	err = nil
	return
}
