// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/etcd/clientv3"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/membership"
	"github.com/NVIDIA/csumscrub/memscan"
	"github.com/NVIDIA/csumscrub/scrub"
)

func startMembership() (err error) {
	var (
		ctx      = context.Background()
		memStore *membership.MemStore
	)

	if (membershipStoreEtcd == globals.config.MembershipStore) || (escalationChannelEtcd == globals.config.EscalationChannel) {
		globals.etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   globals.config.EtcdEndpoints,
			DialTimeout: globals.config.EtcdDialTimeout,
		})
		if nil != err {
			err = blunder.AddError(err, blunder.TryAgainError)
			return
		}
	}

	switch globals.config.MembershipStore {
	case membershipStoreMemory:
		memStore = membership.NewMemStore()
		err = memStore.SetRankState(globals.config.PoolUUID, globals.config.Rank, membership.StateUpIn)
		if nil != err {
			return
		}
		for target := uint32(0); target < globals.config.Targets; target++ {
			err = memStore.SetTargetState(globals.config.PoolUUID, membership.TargetAddr{Rank: globals.config.Rank, Target: target}, membership.StateUpIn)
			if nil != err {
				return
			}
		}
		globals.memberStore = memStore
	case membershipStoreEtcd:
		etcdStore := membership.NewEtcdStore(globals.etcdClient, globals.config.EtcdKeyPrefix, globals.config.EtcdOpTimeout)
		// This rank joins the pool along with its targets
		err = etcdStore.SetRankState(ctx, globals.config.PoolUUID, globals.config.Rank, membership.StateUpIn)
		if nil != err {
			return
		}
		for target := uint32(0); target < globals.config.Targets; target++ {
			err = etcdStore.SetTargetState(ctx, globals.config.PoolUUID, membership.TargetAddr{Rank: globals.config.Rank, Target: target}, membership.StateUpIn)
			if nil != err {
				return
			}
		}
		globals.memberStore = etcdStore
	}

	return
}

func stopMembership() (err error) {
	if nil != globals.etcdClient {
		err = globals.etcdClient.Close()
	}
	return
}

func startEscalation() (err error) {
	if globals.config.IsLeader {
		globals.receiver = incast.NewReceiver(membership.NewDrainer(globals.memberStore))
	}

	switch globals.config.EscalationChannel {
	case escalationChannelLocal:
		globals.channel = incast.NewLocalChannel(globals.receiver)
	case escalationChannelUDP:
		if globals.config.IsLeader {
			globals.udpListener, err = incast.NewUDPListener(globals.config.UDPListenAddr, globals.receiver)
			if nil != err {
				return
			}
		}
		globals.udpChannel, err = incast.NewUDPChannel(globals.config.UDPLeaderAddr)
		if nil != err {
			return
		}
		globals.channel = globals.udpChannel
	case escalationChannelEtcd:
		if globals.config.IsLeader {
			globals.etcdWatcher, err = incast.NewEtcdWatcher(globals.etcdClient, globals.receiver, globals.config.EtcdRedeliverInterval)
			if nil != err {
				return
			}
		}
		globals.channel = incast.NewEtcdChannel(globals.etcdClient, globals.config.EtcdOpTimeout)
	}

	return
}

func stopEscalation() (err error) {
	if nil != globals.udpChannel {
		err = globals.udpChannel.Close()
		if nil != err {
			return
		}
	}
	if nil != globals.udpListener {
		err = globals.udpListener.Close()
		if nil != err {
			return
		}
	}
	if nil != globals.etcdWatcher {
		globals.etcdWatcher.Close()
	}

	err = nil
	return
}

// containerUUID names the containers of a target's shard reproducibly so
// that restarts see the same ones.
func containerUUID(target uint32, container uint32) uuid.UUID {
	return uuid.NewSHA1(globals.config.PoolUUID, []byte(fmt.Sprintf("tgt_%d/cont_%d", target, container)))
}

func populateShard(target uint32) (store *memscan.Store, err error) {
	var (
		contID uuid.UUID
	)

	store = memscan.NewStore()

	err = store.CreatePool(globals.config.PoolUUID)
	if nil != err {
		return
	}

	for container := uint32(0); container < globals.config.Containers; container++ {
		contID = containerUUID(target, container)
		err = store.CreateContainer(globals.config.PoolUUID, contID)
		if nil != err {
			return
		}
		for record := uint32(0); record < globals.config.RecordsPerContainer; record++ {
			err = store.Put(globals.config.PoolUUID, contID, fmt.Sprintf("akey_%d", record), []byte(fmt.Sprintf("%s record %d", contID, record)))
			if nil != err {
				return
			}
		}
	}

	return
}

// startTargets activates each local target, which starts its scrubber.
func startTargets() (err error) {
	var (
		tgt *targetStruct
	)

	for target := uint32(0); target < globals.config.Targets; target++ {
		tgt, err = activateTarget(target)
		if nil != err {
			return
		}

		globals.Lock()
		globals.targets = append(globals.targets, tgt)
		globals.Unlock()
	}

	return
}

func activateTarget(target uint32) (tgt *targetStruct, err error) {
	var (
		store *memscan.Store
	)

	store, err = populateShard(target)
	if nil != err {
		return
	}

	tgt = &targetStruct{
		target: target,
		store:  store,
		manager: scrub.NewManager(scrub.Deps{
			Scheduler:  globals.scheduler,
			Registry:   globals.registry,
			Scanner:    memscan.NewScanner(store),
			Containers: store,
			Ranks:      rankStruct(globals.config.Rank),
			Channel:    globals.channel,

			TracerProvider: globals.tracerProvider,
		}),
	}

	tgt.handle, err = tgt.manager.Start(globals.config.PoolUUID, target, globals.confMap)
	if nil != err {
		return
	}

	logger.Infof("activated pool %s target %d", globals.config.PoolUUID, target)

	return
}

// stopTargets deactivates every target, stopping their scrubbers in parallel.
func stopTargets() (err error) {
	var (
		group   errgroup.Group
		targets []*targetStruct
	)

	globals.Lock()
	targets = globals.targets
	globals.targets = nil
	globals.Unlock()

	for _, tgt := range targets {
		tgt := tgt
		group.Go(func() error {
			tgt.manager.Stop(tgt.handle)
			if (nil != tgt.handle) && (0 < len(tgt.handle.Error())) {
				logger.Warnf("pool %s target %d scrubber had exited early: %v", globals.config.PoolUUID, tgt.target, tgt.handle.Error())
			}
			return nil
		})
	}

	err = group.Wait()

	return
}
