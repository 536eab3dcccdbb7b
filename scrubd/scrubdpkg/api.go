// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package scrubdpkg is the checksum scrubbing daemon of a storage node.
//
// It activates each of the node's local targets, starting a scrubber for
// each, and wires their corruption escalations to the pool's leader. When
// configured as the leader it also receives escalations and drains the
// targets they name.
//
// Configuration is a conf.ConfMap with these sections:
//
//   [Engine]
//   Rank:                0
//   PoolUUID:            2c2b7f1e-2f4e-4d1d-9a8b-5f0f5d1c0e11
//   Targets:             4
//   Containers:          8
//   RecordsPerContainer: 64
//   IsLeader:            true
//   EscalationChannel:   local                # One of local, udp, or etcd
//   UDPLeaderAddr:       127.0.0.1:32400      # Required if EscalationChannel == udp
//   UDPListenAddr:       127.0.0.1:32400      # Required if EscalationChannel == udp && IsLeader
//   MembershipStore:     memory               # One of memory or etcd
//
//   [Etcd]                                     # Required if etcd is used for either of the above
//   Endpoints:           127.0.0.1:2379
//   DialTimeout:         5s
//   OpTimeout:           5s
//   KeyPrefix:           csumscrub/
//   RedeliverInterval:   5s                   # Optional; leader retries failed drains this often
//
//   [HTTPServer]
//   IPAddr:              127.0.0.1
//   TCPPort:             15350
//
//   [Tracing]                                  # Optional
//   Exporter:            stdout               # One of none (default) or stdout
//   OutputPath:          /tmp/scrubd.trace    # Defaults to os.Stdout
//
//   [Scrubber]                                 # See scrub.ConfigFromConfMap()
//   [Logging]                                  # See logger.Up()
//
package scrubdpkg

import (
	"github.com/NVIDIA/csumscrub/conf"
)

// Start is called to start serving
//
func Start(confMap conf.ConfMap) (err error) {
	err = start(confMap)
	return
}

// Stop is called to stop serving
//
func Stop() (err error) {
	err = stop()
	return
}

// Signal is called to interrupt the server for performing operations such as log rotation
//
func Signal() (err error) {
	err = signal()
	return
}
