// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/utils"
)

func newScheduler(unitsPerSecond uint64) (scheduler *Scheduler) {
	scheduler = &Scheduler{
		requests: make(map[*Request]struct{}),
	}

	if 0 != unitsPerSecond {
		burst := unitsPerSecond
		if math.MaxInt32 < burst {
			burst = math.MaxInt32
		}
		scheduler.limiter = rate.NewLimiter(rate.Limit(unitsPerSecond), int(burst))
	}

	return
}

func (scheduler *Scheduler) attach(kind string, poolID uuid.UUID) (request *Request) {
	request = &Request{
		scheduler: scheduler,
		kind:      kind,
		poolID:    poolID,
		attached:  true,
	}

	request.ctx, request.cancel = context.WithCancel(context.Background())

	scheduler.Lock()
	scheduler.requests[request] = struct{}{}
	scheduler.Unlock()

	logger.Tracef("attached %s request for pool %s", kind, poolID)

	return
}

func (scheduler *Scheduler) stats() (stats map[string]RequestStats) {
	stats = make(map[string]RequestStats)

	scheduler.Lock()
	for request := range scheduler.requests {
		requestStats := stats[request.kind]
		requestStats.Attached++
		if request.started && (nil == request.ctx.Err()) {
			requestStats.Running++
		}
		stats[request.kind] = requestStats
	}
	scheduler.Unlock()

	return
}

func (request *Request) goFn(fn func(request *Request)) {
	request.scheduler.Lock()
	if request.started {
		request.scheduler.Unlock()
		panic(fmt.Errorf("sched.Request.Go() called twice for %s request on pool %s", request.kind, request.poolID))
	}
	request.started = true
	request.scheduler.Unlock()

	request.wg.Add(1)

	go func() {
		defer request.wg.Done()
		fn(request)
	}()
}

func (request *Request) yield() {
	runtime.Gosched()
}

func (request *Request) sleep(msec uint64) {
	var (
		timer *time.Timer
	)

	if 0 == msec {
		request.yield()
		return
	}

	timer = time.NewTimer(utils.MsecsToDuration(msec))

	select {
	case <-timer.C:
	case <-request.ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
	}
}

func (request *Request) throttle(units int) {
	var (
		err     error
		limiter = request.scheduler.limiter
	)

	if (nil == limiter) || (0 >= units) {
		return
	}

	// A single charge may not exceed the burst
	for units > limiter.Burst() {
		err = limiter.WaitN(request.ctx, limiter.Burst())
		if nil != err {
			return
		}
		units -= limiter.Burst()
	}

	_ = limiter.WaitN(request.ctx, units)
}

func (request *Request) wait(abort bool) {
	if abort {
		request.cancel()
	}

	request.wg.Wait()
}

func (request *Request) put() {
	request.cancel()

	request.scheduler.Lock()
	if request.attached {
		delete(request.scheduler.requests, request)
		request.attached = false
	}
	request.scheduler.Unlock()

	logger.Tracef("released %s request for pool %s", request.kind, request.poolID)
}
