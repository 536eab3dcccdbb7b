// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package incast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/mvcc/mvccpb"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

// EtcdKeyPrefix is where EtcdChannel leaves CorruptionMessages. Each key is
//
//   scrub/corrupt/<pool-uuid>/<rank>/<target>
//
// so repeated reports for the same target collapse onto a single key.
const EtcdKeyPrefix = "scrub/corrupt/"

func etcdMsgKey(msg CorruptionMessage) string {
	return fmt.Sprintf("%s%s/%d/%d", EtcdKeyPrefix, msg.Pool, msg.Rank, msg.Target)
}

// EtcdChannel publishes by putting the packed CorruptionMessage into etcd.
type EtcdChannel struct {
	cli     *clientv3.Client
	timeout time.Duration
}

func NewEtcdChannel(cli *clientv3.Client, timeout time.Duration) (channel *EtcdChannel) {
	channel = &EtcdChannel{
		cli:     cli,
		timeout: timeout,
	}
	return
}

func (channel *EtcdChannel) Publish(ctx context.Context, msg CorruptionMessage) (err error) {
	var (
		msgBuf []byte
	)

	msgBuf, err = msg.Pack()
	if nil != err {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, channel.timeout)
	_, err = channel.cli.Put(ctx, etcdMsgKey(msg), string(msgBuf))
	cancel()
	if nil != err {
		err = blunder.AddError(err, blunder.ChannelDeliveryError)
	}

	return
}

// DefaultEtcdRedeliverInterval is how often an EtcdWatcher retries the
// CorruptionMessages whose drains have not yet succeeded.
const DefaultEtcdRedeliverInterval = 5 * time.Second

// EtcdWatcher runs at the leader. It delivers every CorruptionMessage found
// under EtcdKeyPrefix (first those already present, then those that arrive)
// and removes each key once its drain has succeeded. Keys still present are
// delivered again every redeliverInterval.
type EtcdWatcher struct {
	cli               *clientv3.Client
	receiver          *Receiver
	redeliverInterval time.Duration
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
}

func NewEtcdWatcher(cli *clientv3.Client, receiver *Receiver, redeliverInterval time.Duration) (watcher *EtcdWatcher, err error) {
	var (
		getResponse *clientv3.GetResponse
	)

	if 0 >= redeliverInterval {
		err = blunder.NewError(blunder.InvalidConfigError, "redeliverInterval must be positive (was %v)", redeliverInterval)
		return
	}

	watcher = &EtcdWatcher{
		cli:               cli,
		receiver:          receiver,
		redeliverInterval: redeliverInterval,
	}

	watcher.ctx, watcher.cancel = context.WithCancel(context.Background())

	getResponse, err = cli.Get(watcher.ctx, EtcdKeyPrefix, clientv3.WithPrefix())
	if nil != err {
		watcher.cancel()
		watcher = nil
		err = blunder.AddError(err, blunder.TryAgainError)
		return
	}

	watcher.wg.Add(1)
	go watcher.watch(getResponse)

	return
}

func (watcher *EtcdWatcher) Close() {
	watcher.cancel()
	watcher.wg.Wait()
}

func (watcher *EtcdWatcher) watch(getResponse *clientv3.GetResponse) {
	var (
		ticker    *time.Ticker
		watchChan clientv3.WatchChan
	)

	defer watcher.wg.Done()

	for _, kv := range getResponse.Kvs {
		watcher.deliver(kv)
	}

	watchChan = watcher.cli.Watch(watcher.ctx, EtcdKeyPrefix, clientv3.WithPrefix(), clientv3.WithRev(getResponse.Header.Revision+1))

	ticker = time.NewTicker(watcher.redeliverInterval)
	defer ticker.Stop()

	for {
		select {
		case watchResponse, ok := <-watchChan:
			if !ok {
				return
			}
			if nil != watchResponse.Err() {
				logger.ErrorfWithError(watchResponse.Err(), "corruption watch failed")
				continue
			}
			for _, event := range watchResponse.Events {
				if mvccpb.PUT == event.Type {
					watcher.deliver(event.Kv)
				}
			}
		case <-ticker.C:
			watcher.redeliver()
		case <-watcher.ctx.Done():
			return
		}
	}
}

// redeliver retries every key left behind by a failed drain.
func (watcher *EtcdWatcher) redeliver() {
	getResponse, err := watcher.cli.Get(watcher.ctx, EtcdKeyPrefix, clientv3.WithPrefix())
	if nil != err {
		if nil == watcher.ctx.Err() {
			logger.WarnfWithError(err, "unable to list corruption keys for redelivery")
		}
		return
	}

	for _, kv := range getResponse.Kvs {
		if nil != watcher.ctx.Err() {
			return
		}
		watcher.deliver(kv)
	}
}

func (watcher *EtcdWatcher) deliver(kv *mvccpb.KeyValue) {
	var (
		err error
		msg CorruptionMessage
	)

	msg, err = UnpackCorruptionMessage(kv.Value)
	if nil != err {
		logger.WarnfWithError(err, "discarding corruption key %s", string(kv.Key))
		_, _ = watcher.cli.Delete(watcher.ctx, string(kv.Key))
		return
	}

	err = watcher.receiver.Deliver(watcher.ctx, msg)
	if nil != err {
		// Left in place for redeliver()
		return
	}

	// Only remove the key if nobody has re-reported since we read it
	_, err = watcher.cli.Txn(watcher.ctx).
		If(clientv3.Compare(clientv3.ModRevision(string(kv.Key)), "=", kv.ModRevision)).
		Then(clientv3.OpDelete(string(kv.Key))).
		Commit()
	if nil != err && nil == watcher.ctx.Err() {
		logger.WarnfWithError(err, "unable to remove corruption key %s", string(kv.Key))
	}
}
