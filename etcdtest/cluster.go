// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package etcdtest launches in-process etcd clusters for the tests of
// packages that keep state in etcd.
package etcdtest

import (
	"os"
	"testing"

	"go.etcd.io/etcd/clientv3"
	ei "go.etcd.io/etcd/integration"
)

// TestCluster wraps etcd's notion of a cluster being tested.
type TestCluster struct {
	Clus *ei.ClusterV3
	SWD  string // Starting working directory
}

// NewTC creates and launches a test cluster of size members.
//
// When running the unit tests in a container we are unable to bind the
// Unix domain sockets etcd uses on some mounted file systems, so the
// cluster is started from /tmp.
func NewTC(t *testing.T, size int) (tc *TestCluster) {
	swd, err := os.Getwd()
	if nil != err {
		t.Fatalf("os.Getwd() failed: %v", err)
	}

	err = os.Chdir(os.TempDir())
	if nil != err {
		t.Fatalf("os.Chdir(%s) failed: %v", os.TempDir(), err)
	}

	tc = &TestCluster{
		Clus: ei.NewClusterV3(t, &ei.ClusterConfig{Size: size}),
		SWD:  swd,
	}

	return
}

// Client returns the client connected to member id
func (tc *TestCluster) Client(id int) (cli *clientv3.Client) {
	return tc.Clus.Client(id)
}

// Endpoints returns the endpoints used by the client of member id
func (tc *TestCluster) Endpoints(id int) []string {
	return tc.Clus.Client(id).Endpoints()
}

// Destroy stops and destroys the test cluster
func (tc *TestCluster) Destroy(t *testing.T) {
	tc.Clus.Terminate(t)

	err := os.Chdir(tc.SWD)
	if nil != err {
		t.Fatalf("os.Chdir(%s) failed: %v", tc.SWD, err)
	}
}
