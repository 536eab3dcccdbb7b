// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrub

import (
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/sched"
	"github.com/NVIDIA/csumscrub/telemetry"
)

func (manager *Manager) start(poolID uuid.UUID, target uint32, confMap conf.ConfMap) (handle *Handle, err error) {
	var (
		config  Config
		metrics *telemetry.ScrubMetrics
		path    = telemetry.TargetPath(poolID, target)
	)

	config, err = ConfigFromConfMap(confMap)
	if nil != err {
		logger.ErrorfWithError(err, "not scrubbing pool %s target %d", poolID, target)
		return
	}

	if config.Disabled {
		logger.Infof("scrubbing disabled for pool %s target %d", poolID, target)
		handle = nil
		err = nil
		return
	}

	manager.Lock()
	defer manager.Unlock()

	_, ok := manager.handles[path]
	if ok {
		err = blunder.NewError(blunder.AlreadyStartedError, "scrubber for pool %s target %d already started", poolID, target)
		return
	}

	metrics, err = manager.deps.Registry.Register(poolID, target)
	if nil != err {
		return
	}

	handle = &Handle{
		manager: manager,
		request: manager.deps.Scheduler.Attach(sched.KindScrub, poolID),
		path:    path,
		done:    make(chan struct{}),
	}

	handle.sc = NewScrubContext(poolID, target, config, handle.request, manager.deps, metrics)

	manager.handles[path] = handle

	handle.request.Go(func(request *sched.Request) {
		runErr := handle.sc.run()
		if nil != runErr {
			handle.Lock()
			handle.errList = append(handle.errList, runErr.Error())
			handle.Unlock()
		}
		close(handle.done)
	})

	return
}

func (manager *Manager) stop(handle *Handle) {
	if nil == handle {
		return
	}

	handle.Lock()
	if handle.stopped {
		handle.Unlock()
		return
	}
	handle.stopped = true
	handle.Unlock()

	handle.request.Wait(true)
	handle.request.Put()

	manager.Lock()
	delete(manager.handles, handle.path)
	manager.Unlock()

	manager.deps.Registry.UnRegister(handle.sc.poolID, handle.sc.target)

	logger.Infof("scrubber for pool %s target %d stopped", handle.sc.poolID, handle.sc.target)
}

func (manager *Manager) fetchHandles() (handles []*Handle) {
	manager.Lock()
	handles = make([]*Handle, 0, len(manager.handles))
	for _, handle := range manager.handles {
		handles = append(handles, handle)
	}
	manager.Unlock()
	return
}

func (manager *Manager) stopAll() {
	for _, handle := range manager.fetchHandles() {
		manager.stop(handle)
	}
}
