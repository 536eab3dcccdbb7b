// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package incast carries corruption escalations from a scrubbing target to
// the pool's leader.
//
// Delivery is best effort: a Channel makes one attempt to push a
// CorruptionMessage toward the leader and does not wait for it to be
// acted upon. Messages may be duplicated or reordered, so the Receiver
// at the leader relies on the drain being idempotent.
//
// Three Channels are provided:
//
//   LocalChannel  the leader is this process
//   UDPChannel    one datagram straight to the leader's UDPListener
//   EtcdChannel   a key under a per-pool prefix that the leader's EtcdWatcher consumes
package incast

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/logger"
)

// Channel publishes CorruptionMessages toward the pool's leader.
type Channel interface {
	Publish(ctx context.Context, msg CorruptionMessage) (err error)
}

// Drainer is what a Receiver hands each CorruptionMessage to.
type Drainer interface {
	Drain(ctx context.Context, poolID uuid.UUID, rank uint32, target uint32) (err error)
}

// ReceiverStats counts what a Receiver has seen.
type ReceiverStats struct {
	Received uint64 `json:"received" yaml:"received"`
	Drained  uint64 `json:"drained" yaml:"drained"`
	Failed   uint64 `json:"failed" yaml:"failed"`
}

// Receiver runs at the leader and turns CorruptionMessages into drains.
type Receiver struct {
	drainer  Drainer
	received uint64
	drained  uint64
	failed   uint64
}

func NewReceiver(drainer Drainer) (receiver *Receiver) {
	receiver = &Receiver{drainer: drainer}
	return
}

// Deliver requests a drain of the target named by msg.
func (receiver *Receiver) Deliver(ctx context.Context, msg CorruptionMessage) (err error) {
	atomic.AddUint64(&receiver.received, 1)

	logger.Infof("received corruption report for %s; requesting drain", msg)

	err = receiver.drainer.Drain(ctx, msg.Pool, msg.Rank, msg.Target)
	if nil != err {
		atomic.AddUint64(&receiver.failed, 1)
		logger.ErrorfWithError(err, "drain of %s failed", msg)
		return
	}

	atomic.AddUint64(&receiver.drained, 1)

	return
}

func (receiver *Receiver) Stats() (stats ReceiverStats) {
	stats = ReceiverStats{
		Received: atomic.LoadUint64(&receiver.received),
		Drained:  atomic.LoadUint64(&receiver.drained),
		Failed:   atomic.LoadUint64(&receiver.failed),
	}
	return
}

// LocalChannel delivers straight to a Receiver in this process.
type LocalChannel struct {
	receiver *Receiver
}

func NewLocalChannel(receiver *Receiver) (channel *LocalChannel) {
	channel = &LocalChannel{receiver: receiver}
	return
}

func (channel *LocalChannel) Publish(ctx context.Context, msg CorruptionMessage) (err error) {
	err = channel.receiver.Deliver(ctx, msg)
	return
}
