// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/logger"
)

func start(confMap conf.ConfMap) (err error) {
	err = logger.Up(confMap)
	if nil != err {
		return
	}

	err = initializeGlobals(confMap)
	if nil != err {
		goto Fail
	}

	err = startTracing()
	if nil != err {
		goto Fail
	}

	err = startMembership()
	if nil != err {
		goto Fail
	}

	err = startEscalation()
	if nil != err {
		goto Fail
	}

	err = startTargets()
	if nil != err {
		goto Fail
	}

	err = startHTTPServer()
	if nil != err {
		goto Fail
	}

	logger.Infof("scrubd UP with %d targets of pool %s", globals.config.Targets, globals.config.PoolUUID)

	return

Fail:
	logger.ErrorfWithError(err, "scrubd failed to start")
	_ = stopTargets()
	_ = stopEscalation()
	_ = stopMembership()
	_ = stopTracing()
	_ = uninitializeGlobals()
	_ = logger.Down()
	return
}

func stop() (err error) {
	err = stopHTTPServer()
	if nil != err {
		return
	}

	err = stopTargets()
	if nil != err {
		return
	}

	err = stopEscalation()
	if nil != err {
		return
	}

	err = stopMembership()
	if nil != err {
		return
	}

	err = stopTracing()
	if nil != err {
		return
	}

	logger.Infof("scrubd DOWN")

	err = uninitializeGlobals()
	if nil != err {
		return
	}

	err = logger.Down()

	return
}

func signal() (err error) {
	logger.Infof("received SIGHUP; reopening log")

	err = logger.SignaledStart(globals.confMap)

	return
}
