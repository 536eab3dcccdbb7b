// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package sched provides the cooperative scheduling hooks used by background
// work such as scrubbing.
//
// A Request is registered against a Scheduler for a (kind, pool) pair, and its
// unit of execution is launched with Go(). The running function is expected to
// call Yield() and Sleep() at its suspension points and to poll Exiting() at
// its own boundaries. Wait(true) asks it to exit and joins it.
//
// A Scheduler may carry a node-wide rate limit, expressed in units of work per
// second, that Throttle() charges against.
package sched

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// KindScrub is the request kind of a target's scrubber.
const KindScrub = "scrub"

type Scheduler struct {
	sync.Mutex
	limiter  *rate.Limiter
	requests map[*Request]struct{}
}

type Request struct {
	scheduler *Scheduler
	kind      string
	poolID    uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	attached  bool
}

// RequestStats reports requests attached per kind along with how many of
// them currently have a running unit of execution.
type RequestStats struct {
	Attached uint64
	Running  uint64
}

// New returns a Scheduler. A unitsPerSecond of zero disables throttling.
func New(unitsPerSecond uint64) (scheduler *Scheduler) {
	scheduler = newScheduler(unitsPerSecond)
	return
}

// Attach registers a new Request of kind for poolID.
func (scheduler *Scheduler) Attach(kind string, poolID uuid.UUID) (request *Request) {
	request = scheduler.attach(kind, poolID)
	return
}

// Stats reports the Requests currently attached, keyed by kind.
func (scheduler *Scheduler) Stats() (stats map[string]RequestStats) {
	stats = scheduler.stats()
	return
}

// Go launches fn as the Request's unit of execution. It may only be called once.
func (request *Request) Go(fn func(request *Request)) {
	request.goFn(fn)
}

// Kind returns the kind the Request was attached with.
func (request *Request) Kind() string {
	return request.kind
}

// PoolID returns the pool the Request was attached for.
func (request *Request) PoolID() uuid.UUID {
	return request.poolID
}

// Context returns a context that is canceled once the Request is exiting.
func (request *Request) Context() context.Context {
	return request.ctx
}

// Yield gives up the processor to other runnable work.
func (request *Request) Yield() {
	request.yield()
}

// Sleep suspends the caller for msec milliseconds or until the Request is
// asked to exit, whichever comes first.
func (request *Request) Sleep(msec uint64) {
	request.sleep(msec)
}

// Throttle charges units of work against the node-wide limit, blocking until
// they are available or the Request is asked to exit.
func (request *Request) Throttle(units int) {
	request.throttle(units)
}

// Exiting reports whether the Request has been asked to exit.
func (request *Request) Exiting() bool {
	return nil != request.ctx.Err()
}

// Wait joins the Request's unit of execution, first asking it to exit if abort is set.
func (request *Request) Wait(abort bool) {
	request.wait(abort)
}

// Put releases the Request's registration. The unit of execution, if any,
// must already have been joined.
func (request *Request) Put() {
	request.put()
}
