// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/csumscrub/conf"
)

func testNestedFunc() {
	Tracef("nested trace %d", 3)
}

func TestAPI(t *testing.T) {
	var (
		confMap   conf.ConfMap
		err       error
		logTarget LogTarget
	)

	confMap, err = conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
	})
	require.NoError(t, err)

	err = Up(confMap)
	require.NoError(t, err)

	logTarget.Init(10)
	AddLogTarget(&logTarget)

	Infof("hello %s", "there")
	assert.True(t, logTarget.Contains("hello there"))
	assert.True(t, logTarget.Contains("function=TestAPI"))
	assert.True(t, logTarget.Contains("package=logger"))

	Warnf("%v: %v", "IAmTheCaller", "this is the warning")
	assert.True(t, logTarget.Contains("level=warning"))

	ErrorfWithError(fmt.Errorf("this is the error"), "we had an error!")
	assert.True(t, logTarget.Contains("error=\"this is the error\""))

	testNestedFunc()
	assert.True(t, logTarget.Contains("nested trace 3"))
	assert.True(t, logTarget.Contains("function=testNestedFunc"))
	assert.Equal(t, 4, logTarget.LogBuf.TotalEntries)

	err = Down()
	require.NoError(t, err)
}

func TestTraceGating(t *testing.T) {
	var (
		confMap   conf.ConfMap
		err       error
		logTarget LogTarget
	)

	confMap, err = conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=none",
	})
	require.NoError(t, err)

	err = Up(confMap)
	require.NoError(t, err)

	logTarget.Init(4)
	AddLogTarget(&logTarget)

	Tracef("should not appear")
	assert.Equal(t, 0, logTarget.LogBuf.TotalEntries)
	assert.False(t, TraceEnabled("logger"))

	Infof("one")
	Infof("two")
	Infof("three")
	Infof("four")
	Infof("five")
	assert.Equal(t, 5, logTarget.LogBuf.TotalEntries)
	assert.Contains(t, logTarget.LogBuf.LogEntries[0], "five")
	assert.False(t, logTarget.Contains("msg=one"))

	err = Down()
	require.NoError(t, err)
}
