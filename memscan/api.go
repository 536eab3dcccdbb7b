// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package memscan is an in-memory local pool store together with the
// scrub.PoolScanner that verifies it.
//
// Each pool shard holds containers, kept in a btree ordered by container
// UUID, and each container holds records stored alongside the cityhash64
// of their value. The Store also provides the container lookup, release,
// and is-stopping collaborators a scrubber needs, and Destroy() tears a
// container down only once any scrub of it has finished.
package memscan

import (
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/scrub"
)

const containerTreeDegree = 16

type Store struct {
	sync.Mutex
	pools map[uuid.UUID]*poolStruct
}

type poolStruct struct {
	poolID     uuid.UUID
	containers *btree.BTree // Of *containerStruct ordered by contID
}

type recordStruct struct {
	key   string
	value []byte // Replaced, never modified in place
	csum  uint64
}

type containerStruct struct {
	contID    uuid.UUID
	state     *scrub.ContainerScrubState
	records   []recordStruct
	refCount  uint64
	destroyed bool
}

// Scanner is the scrub.PoolScanner for a Store.
type Scanner struct {
	store *Store
}

func NewStore() (store *Store) {
	store = &Store{
		pools: make(map[uuid.UUID]*poolStruct),
	}
	return
}

func (store *Store) CreatePool(poolID uuid.UUID) (err error) {
	err = store.createPool(poolID)
	return
}

func (store *Store) CreateContainer(poolID uuid.UUID, contID uuid.UUID) (err error) {
	err = store.createContainer(poolID, contID)
	return
}

// Put stores value under key in the container along with its checksum.
func (store *Store) Put(poolID uuid.UUID, contID uuid.UUID, key string, value []byte) (err error) {
	err = store.put(poolID, contID, key, value)
	return
}

// InjectCorruption flips the bits of the first byte of key's value while
// leaving its stored checksum alone.
func (store *Store) InjectCorruption(poolID uuid.UUID, contID uuid.UUID, key string) (err error) {
	err = store.injectCorruption(poolID, contID, key)
	return
}

// ContainerIDs returns the pool's containers in scan order.
func (store *Store) ContainerIDs(poolID uuid.UUID) (contIDs []uuid.UUID, err error) {
	contIDs, err = store.containerIDs(poolID)
	return
}

// RecordCount returns the number of records in the container.
func (store *Store) RecordCount(poolID uuid.UUID, contID uuid.UUID) (count int, err error) {
	count, err = store.recordCount(poolID, contID)
	return
}

// Destroy announces the container is stopping, waits out any scrub of it,
// and then removes it.
func (store *Store) Destroy(poolID uuid.UUID, contID uuid.UUID) (err error) {
	err = store.destroy(poolID, contID)
	return
}

func (store *Store) LookupContainer(poolID uuid.UUID, contID uuid.UUID) (handle scrub.ContainerHandle, err error) {
	handle, err = store.lookupContainer(poolID, contID)
	return
}

func (store *Store) ReleaseContainer(handle scrub.ContainerHandle) {
	store.releaseContainer(handle)
}

func (store *Store) IsStopping(handle scrub.ContainerHandle) (stopping bool) {
	stopping = handle.ScrubState().IsStopping()
	return
}

func (container *containerStruct) ContainerID() uuid.UUID {
	return container.contID
}

func (container *containerStruct) ScrubState() *scrub.ContainerScrubState {
	return container.state
}

func (container *containerStruct) Less(than btree.Item) bool {
	return lessUUID(container.contID, than.(*containerStruct).contID)
}

func NewScanner(store *Store) (scanner *Scanner) {
	scanner = &Scanner{store: store}
	return
}
