// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/clientv3/namespace"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

// Keys (relative to the EtcdStore's prefix) look like:
//
//   <pool-uuid>/rank/<rank>             => TargetState.String()
//   <pool-uuid>/target/<rank>/<target>  => TargetState.String()
//
// with rank and target zero-padded so keys sort numerically.

const etcdStoreUpdateRetryLimit = 8

// EtcdStore is a Store kept in etcd under a key prefix.
type EtcdStore struct {
	kv      clientv3.KV
	timeout time.Duration
}

// NewEtcdStore returns an EtcdStore whose keys all live under prefix.
func NewEtcdStore(cli *clientv3.Client, prefix string, timeout time.Duration) (store *EtcdStore) {
	store = &EtcdStore{
		kv:      namespace.NewKV(cli.KV, prefix),
		timeout: timeout,
	}
	return
}

func rankKeyPrefix(poolID uuid.UUID) string {
	return fmt.Sprintf("%s/rank/", poolID)
}

func rankKey(poolID uuid.UUID, rank uint32) string {
	return fmt.Sprintf("%s%010d", rankKeyPrefix(poolID), rank)
}

func targetStateKey(poolID uuid.UUID, addr TargetAddr) string {
	return fmt.Sprintf("%s/target/%010d/%010d", poolID, addr.Rank, addr.Target)
}

func (store *EtcdStore) SetRankState(ctx context.Context, poolID uuid.UUID, rank uint32, state TargetState) (err error) {
	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	_, err = store.kv.Put(ctx, rankKey(poolID, rank), state.String())
	cancel()
	return
}

// SetTargetState sets the state of addr without transition checks.
func (store *EtcdStore) SetTargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr, state TargetState) (err error) {
	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	_, err = store.kv.Put(ctx, targetStateKey(poolID, addr), state.String())
	cancel()
	return
}

func (store *EtcdStore) Ranks(ctx context.Context, poolID uuid.UUID, upOnly bool) (ranks []uint32, err error) {
	var (
		getResponse *clientv3.GetResponse
		prefix      = rankKeyPrefix(poolID)
		rank        uint64
		state       TargetState
	)

	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	getResponse, err = store.kv.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	cancel()
	if nil != err {
		err = blunder.AddError(err, blunder.TryAgainError)
		return
	}

	if 0 == len(getResponse.Kvs) {
		err = blunder.NewError(blunder.NotFoundError, "pool %s not found", poolID)
		return
	}

	ranks = make([]uint32, 0, len(getResponse.Kvs))

	for _, kv := range getResponse.Kvs {
		rank, err = strconv.ParseUint(strings.TrimPrefix(string(kv.Key), prefix), 10, 32)
		if nil != err {
			err = blunder.NewError(blunder.IOError, "malformed rank key \"%s\": %v", string(kv.Key), err)
			return
		}
		state, err = ParseTargetState(string(kv.Value))
		if nil != err {
			err = blunder.AddError(err, blunder.IOError)
			return
		}
		if !upOnly || state.IsUp() {
			ranks = append(ranks, uint32(rank))
		}
	}

	err = nil
	return
}

func (store *EtcdStore) fetchTargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr) (state TargetState, modRevision int64, err error) {
	var (
		getResponse *clientv3.GetResponse
	)

	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	getResponse, err = store.kv.Get(ctx, targetStateKey(poolID, addr))
	cancel()
	if nil != err {
		err = blunder.AddError(err, blunder.TryAgainError)
		return
	}

	if 0 == len(getResponse.Kvs) {
		err = blunder.NewError(blunder.NotFoundError, "pool %s %s not found", poolID, addr)
		return
	}

	state, err = ParseTargetState(string(getResponse.Kvs[0].Value))
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	modRevision = getResponse.Kvs[0].ModRevision

	return
}

func (store *EtcdStore) TargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr) (state TargetState, err error) {
	state, _, err = store.fetchTargetState(ctx, poolID, addr)
	return
}

// UpdateTargetState applies each transition in its own transaction guarded by
// the key's ModRevision, re-reading and re-checking on conflict.
func (store *EtcdStore) UpdateTargetState(ctx context.Context, poolID uuid.UUID, svcRanks []uint32, addrs []TargetAddr, state TargetState) (err error) {
	err = checkServiceRanks(poolID, svcRanks)
	if nil != err {
		return
	}

	for _, addr := range addrs {
		err = store.updateOneTargetState(ctx, poolID, addr, state)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

func (store *EtcdStore) updateOneTargetState(ctx context.Context, poolID uuid.UUID, addr TargetAddr, state TargetState) (err error) {
	var (
		current     TargetState
		key         = targetStateKey(poolID, addr)
		modRevision int64
		noop        bool
		txnResponse *clientv3.TxnResponse
	)

	for attempt := 0; attempt < etcdStoreUpdateRetryLimit; attempt++ {
		current, modRevision, err = store.fetchTargetState(ctx, poolID, addr)
		if nil != err {
			return
		}

		noop, err = checkTransition(poolID, addr, current, state)
		if nil != err {
			return
		}
		if noop {
			logger.Tracef("pool %s %s already %s; %s request ignored", poolID, addr, current, state)
			return
		}

		txnCtx, cancel := context.WithTimeout(ctx, store.timeout)
		txnResponse, err = store.kv.Txn(txnCtx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
			Then(clientv3.OpPut(key, state.String())).
			Commit()
		cancel() // NOTE: Difficult memory leak if you do not do this!
		if nil != err {
			err = blunder.AddError(err, blunder.TryAgainError)
			return
		}

		if txnResponse.Succeeded {
			logger.Infof("pool %s %s moved from %s to %s", poolID, addr, current, state)
			return
		}

		logger.Tracef("pool %s %s changed underneath %s request; retrying", poolID, addr, state)
	}

	err = blunder.NewError(blunder.TryAgainError, "pool %s %s update to %s kept conflicting", poolID, addr, state)

	return
}
