// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/conf"
)

const (
	testIPAddr          = "127.0.0.1"
	testHTTPServerPort  = 15351
	testUDPPort         = 32401
	testRank            = 1
	testTargets         = 2
	testContainers      = 2
	testRecordsPerShard = 4
)

type testGlobalsStruct struct {
	poolID        uuid.UUID
	confMap       conf.ConfMap
	httpServerURL string
}

var testGlobals *testGlobalsStruct

// testConfMap returns a single-node leader configuration with any
// overrides applied on top.
func testConfMap(t *testing.T, poolID uuid.UUID, overrides ...string) (confMap conf.ConfMap) {
	var (
		confStrings []string
		err         error
	)

	confStrings = []string{
		"Engine.Rank=" + fmt.Sprintf("%d", testRank),
		"Engine.PoolUUID=" + poolID.String(),
		"Engine.Targets=" + fmt.Sprintf("%d", testTargets),
		"Engine.Containers=" + fmt.Sprintf("%d", testContainers),
		"Engine.RecordsPerContainer=" + fmt.Sprintf("%d", testRecordsPerShard),
		"Engine.IsLeader=true",
		"Engine.EscalationChannel=local",
		"Engine.MembershipStore=memory",

		"HTTPServer.IPAddr=" + testIPAddr,
		"HTTPServer.TCPPort=" + fmt.Sprintf("%d", testHTTPServerPort),

		"Scrubber.EvictThreshold=1",
		"Scrubber.PassInterval=10ms",

		"Logging.LogFilePath=",
		"Logging.LogToConsole=false",
	}

	confMap, err = conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings(confStrings) failed: %v", err)
	}

	err = confMap.UpdateFromStrings(overrides)
	if nil != err {
		t.Fatalf("confMap.UpdateFromStrings(overrides) failed: %v", err)
	}

	return
}

func testSetup(t *testing.T, overrides ...string) {
	var (
		err error
	)

	testGlobals = &testGlobalsStruct{
		poolID:        uuid.New(),
		httpServerURL: fmt.Sprintf("http://%s:%d", testIPAddr, testHTTPServerPort),
	}

	testGlobals.confMap = testConfMap(t, testGlobals.poolID, overrides...)

	err = Start(testGlobals.confMap)
	if nil != err {
		t.Fatalf("Start(testGlobals.confMap) failed: %v", err)
	}
}

func testTeardown(t *testing.T) {
	var (
		err error
	)

	err = Stop()
	if nil != err {
		t.Fatalf("Stop() failed: %v", err)
	}

	testGlobals = nil
}

func testHTTPGet(t *testing.T, path string) (statusCode int, contentType string, body []byte) {
	var (
		err          error
		httpResponse *http.Response
	)

	httpResponse, err = http.Get(testGlobals.httpServerURL + path)
	if nil != err {
		t.Fatalf("http.Get(%s) failed: %v", path, err)
	}

	body, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		t.Fatalf("ioutil.ReadAll() failed: %v", err)
	}
	err = httpResponse.Body.Close()
	if nil != err {
		t.Fatalf("httpResponse.Body.Close() failed: %v", err)
	}

	statusCode = httpResponse.StatusCode
	contentType = httpResponse.Header.Get("Content-Type")

	return
}
