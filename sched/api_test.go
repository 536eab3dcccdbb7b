// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLifecycle(t *testing.T) {
	var (
		iterations uint64
		poolID     = uuid.New()
		scheduler  = New(0)
		started    = make(chan struct{})
	)

	request := scheduler.Attach(KindScrub, poolID)
	assert.Equal(t, KindScrub, request.Kind())
	assert.Equal(t, poolID, request.PoolID())
	assert.False(t, request.Exiting())

	request.Go(func(request *Request) {
		close(started)
		for !request.Exiting() {
			atomic.AddUint64(&iterations, 1)
			request.Yield()
			request.Sleep(1)
		}
	})

	<-started

	stats := scheduler.Stats()
	assert.Equal(t, RequestStats{Attached: 1, Running: 1}, stats[KindScrub])

	request.Wait(true)
	assert.True(t, request.Exiting())
	assert.NotZero(t, atomic.LoadUint64(&iterations))

	request.Put()
	assert.Empty(t, scheduler.Stats())

	// Put is idempotent
	request.Put()
	assert.Empty(t, scheduler.Stats())

	assert.Panics(t, func() { request.Go(func(*Request) {}) })
}

func TestSleepInterruptedByExit(t *testing.T) {
	var (
		scheduler = New(0)
		done      = make(chan time.Duration)
	)

	request := scheduler.Attach(KindScrub, uuid.New())
	request.Go(func(request *Request) {
		start := time.Now()
		request.Sleep(60 * 1000)
		done <- time.Since(start)
	})

	time.Sleep(10 * time.Millisecond)
	go request.Wait(true)

	select {
	case elapsed := <-done:
		assert.Less(t, int64(elapsed), int64(10*time.Second))
	case <-time.After(10 * time.Second):
		require.FailNow(t, "Sleep() did not return after Wait(true)")
	}

	request.Wait(false)
	request.Put()
}

func TestWaitWithoutAbortJoins(t *testing.T) {
	var (
		finished  uint32
		scheduler = New(0)
	)

	request := scheduler.Attach(KindScrub, uuid.New())
	request.Go(func(request *Request) {
		request.Sleep(20)
		atomic.StoreUint32(&finished, 1)
	})

	request.Wait(false)
	assert.Equal(t, uint32(1), atomic.LoadUint32(&finished))
	assert.False(t, request.Exiting())
	request.Put()
	assert.True(t, request.Exiting())
}

func TestThrottle(t *testing.T) {
	scheduler := New(100)

	request := scheduler.Attach(KindScrub, uuid.New())
	defer request.Put()

	start := time.Now()
	// The first burst is free, the next 50 units cost roughly half a second
	request.Throttle(100)
	request.Throttle(50)
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(400*time.Millisecond))

	// Charges larger than the burst are split rather than rejected
	request.Wait(true)
	start = time.Now()
	request.Throttle(1000)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))

	unthrottled := New(0).Attach(KindScrub, uuid.New())
	start = time.Now()
	unthrottled.Throttle(1 << 20)
	assert.Less(t, int64(time.Since(start)), int64(100*time.Millisecond))
	unthrottled.Put()
}

func TestThrottleWithUnboundedRate(t *testing.T) {
	scheduler := New(1 << 63)
	assert.Equal(t, math.MaxInt32, scheduler.limiter.Burst())

	request := scheduler.Attach(KindScrub, uuid.New())
	defer request.Put()

	throttled := make(chan struct{})
	go func() {
		request.Throttle(1)
		close(throttled)
	}()

	select {
	case <-throttled:
	case <-time.After(2 * time.Second):
		request.Wait(true)
		t.Fatalf("Throttle(1) did not return at an effectively unlimited rate")
	}
}
