// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package incast

import (
	"context"
	"fmt"
	"net"
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

type drainRecord struct {
	poolID uuid.UUID
	rank   uint32
	target uint32
}

type recordingDrainer struct {
	sync.Mutex
	drains  []drainRecord
	failErr error
	drained chan struct{}
}

func newRecordingDrainer() *recordingDrainer {
	return &recordingDrainer{drained: make(chan struct{}, 16)}
}

func (drainer *recordingDrainer) Drain(ctx context.Context, poolID uuid.UUID, rank uint32, target uint32) (err error) {
	drainer.Lock()
	drainer.drains = append(drainer.drains, drainRecord{poolID, rank, target})
	err = drainer.failErr
	drainer.Unlock()
	select {
	case drainer.drained <- struct{}{}:
	default:
	}
	return
}

func (drainer *recordingDrainer) waitForDrain(t *testing.T) {
	select {
	case <-drainer.drained:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for a drain")
	}
}

func TestCorruptionMessage(t *testing.T) {
	msg := CorruptionMessage{Pool: uuid.New(), Rank: 7, Target: 3}

	msgBuf, err := msg.Pack()
	require.NoError(t, err)
	require.Len(t, msgBuf, CorruptionMessageSize)

	unpacked, err := UnpackCorruptionMessage(msgBuf)
	require.NoError(t, err)
	assert.Equal(t, msg, unpacked)

	_, err = UnpackCorruptionMessage(msgBuf[:CorruptionMessageSize-1])
	assert.True(t, blunder.Is(err, blunder.CorruptMessageError))

	assert.Equal(t, fmt.Sprintf("pool %s rank 7 target 3", msg.Pool), msg.String())
}

func TestLocalChannel(t *testing.T) {
	drainer := newRecordingDrainer()
	receiver := NewReceiver(drainer)
	channel := NewLocalChannel(receiver)

	msg := CorruptionMessage{Pool: uuid.New(), Rank: 1, Target: 2}
	require.NoError(t, channel.Publish(context.Background(), msg))

	drainer.failErr = blunder.NewError(blunder.NotFoundError, "no UP ranks")
	err := channel.Publish(context.Background(), msg)
	assert.True(t, blunder.Is(err, blunder.NotFoundError))

	assert.Equal(t, ReceiverStats{Received: 2, Drained: 1, Failed: 1}, receiver.Stats())
	assert.Equal(t, []drainRecord{{msg.Pool, 1, 2}, {msg.Pool, 1, 2}}, drainer.drains)
}

func TestUDPChannel(t *testing.T) {
	drainer := newRecordingDrainer()
	receiver := NewReceiver(drainer)

	listener, err := NewUDPListener("127.0.0.1:0", receiver)
	require.NoError(t, err)
	defer listener.Close()

	channel, err := NewUDPChannel(listener.Addr().String())
	require.NoError(t, err)
	defer channel.Close()

	msg := CorruptionMessage{Pool: uuid.New(), Rank: 4, Target: 9}
	require.NoError(t, channel.Publish(context.Background(), msg))
	drainer.waitForDrain(t)

	drainer.Lock()
	assert.Equal(t, []drainRecord{{msg.Pool, 4, 9}}, drainer.drains)
	drainer.Unlock()

	// A damaged packet is counted and dropped
	raw, err := net.DialUDP("udp", nil, listener.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write(make([]byte, udpPacketSize))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return 1 == listener.Dropped() }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), receiver.Stats().Received)
}

func TestDecodeUDPPacket(t *testing.T) {
	_, err := decodeUDPPacket(make([]byte, 3))
	assert.True(t, blunder.Is(err, blunder.CorruptMessageError))

	_, err = decodeUDPPacket(make([]byte, udpPacketSize))
	assert.True(t, blunder.Is(err, blunder.CorruptMessageError))
}

func TestEtcdChannel(t *testing.T) {
	var (
		ctx = context.Background()
	)

	tc := etcdtest.NewTC(t, 1)
	defer tc.Destroy(t)

	cli := tc.Client(0)
	channel := NewEtcdChannel(cli, 5*time.Second)

	// Reported before the leader is watching
	early := CorruptionMessage{Pool: uuid.New(), Rank: 0, Target: 1}
	require.NoError(t, channel.Publish(ctx, early))

	drainer := newRecordingDrainer()
	watcher, err := NewEtcdWatcher(cli, NewReceiver(drainer), DefaultEtcdRedeliverInterval)
	require.NoError(t, err)
	defer watcher.Close()

	drainer.waitForDrain(t)

	late := CorruptionMessage{Pool: early.Pool, Rank: 2, Target: 5}
	require.NoError(t, channel.Publish(ctx, late))
	drainer.waitForDrain(t)

	drainer.Lock()
	assert.Equal(t, []drainRecord{{early.Pool, 0, 1}, {early.Pool, 2, 5}}, drainer.drains)
	drainer.Unlock()

	assert.Eventually(t, func() bool {
		getResponse, err := cli.Get(ctx, EtcdKeyPrefix, clientv3.WithPrefix())
		return nil == err && 0 == len(getResponse.Kvs)
	}, 10*time.Second, 10*time.Millisecond)
}

func TestEtcdWatcherRedelivers(t *testing.T) {
	var (
		ctx = context.Background()
	)

	tc := etcdtest.NewTC(t, 1)
	defer tc.Destroy(t)

	cli := tc.Client(0)

	_, err := NewEtcdWatcher(cli, NewReceiver(newRecordingDrainer()), 0)
	assert.True(t, blunder.Is(err, blunder.InvalidConfigError))

	drainer := newRecordingDrainer()
	drainer.failErr = blunder.NewError(blunder.TryAgainError, "txn conflict")

	receiver := NewReceiver(drainer)
	watcher, err := NewEtcdWatcher(cli, receiver, 50*time.Millisecond)
	require.NoError(t, err)
	defer watcher.Close()

	msg := CorruptionMessage{Pool: uuid.New(), Rank: 1, Target: 4}
	require.NoError(t, NewEtcdChannel(cli, 5*time.Second).Publish(ctx, msg))

	// Failed drains leave the key behind and are retried
	assert.Eventually(t, func() bool {
		return 2 <= receiver.Stats().Failed
	}, 10*time.Second, 10*time.Millisecond)

	getResponse, err := cli.Get(ctx, EtcdKeyPrefix, clientv3.WithPrefix())
	require.NoError(t, err)
	assert.Len(t, getResponse.Kvs, 1)

	drainer.Lock()
	drainer.failErr = nil
	drainer.Unlock()

	assert.Eventually(t, func() bool {
		return 1 == receiver.Stats().Drained
	}, 10*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		getResponse, err := cli.Get(ctx, EtcdKeyPrefix, clientv3.WithPrefix())
		return nil == err && 0 == len(getResponse.Kvs)
	}, 10*time.Second, 10*time.Millisecond)

	drainer.Lock()
	for _, drain := range drainer.drains {
		assert.Equal(t, drainRecord{msg.Pool, 1, 4}, drain)
	}
	drainer.Unlock()
}
