// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package memscan

import (
	"bytes"

	"github.com/creachadair/cityhash"
	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/scrub"
)

func lessUUID(a uuid.UUID, b uuid.UUID) bool {
	return -1 == bytes.Compare(a[:], b[:])
}

func (store *Store) createPool(poolID uuid.UUID) (err error) {
	store.Lock()
	defer store.Unlock()

	_, ok := store.pools[poolID]
	if ok {
		err = blunder.NewError(blunder.AlreadyStartedError, "pool %s already exists", poolID)
		return
	}

	store.pools[poolID] = &poolStruct{
		poolID:     poolID,
		containers: btree.New(containerTreeDegree),
	}

	err = nil
	return
}

// Callers hold store.Mutex
func (store *Store) fetchPool(poolID uuid.UUID) (pool *poolStruct, err error) {
	pool, ok := store.pools[poolID]
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "pool %s not found", poolID)
		return
	}
	err = nil
	return
}

// Callers hold store.Mutex
func (store *Store) fetchContainer(poolID uuid.UUID, contID uuid.UUID) (container *containerStruct, err error) {
	var (
		item btree.Item
		pool *poolStruct
	)

	pool, err = store.fetchPool(poolID)
	if nil != err {
		return
	}

	item = pool.containers.Get(&containerStruct{contID: contID})
	if nil == item {
		err = blunder.NewError(blunder.NotFoundError, "container %s not found in pool %s", contID, poolID)
		return
	}

	container = item.(*containerStruct)

	err = nil
	return
}

func (store *Store) createContainer(poolID uuid.UUID, contID uuid.UUID) (err error) {
	var (
		pool *poolStruct
	)

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPool(poolID)
	if nil != err {
		return
	}

	if pool.containers.Has(&containerStruct{contID: contID}) {
		err = blunder.NewError(blunder.AlreadyStartedError, "container %s already exists in pool %s", contID, poolID)
		return
	}

	pool.containers.ReplaceOrInsert(&containerStruct{
		contID: contID,
		state:  scrub.NewContainerScrubState(),
	})

	return
}

func (store *Store) put(poolID uuid.UUID, contID uuid.UUID, key string, value []byte) (err error) {
	var (
		container *containerStruct
		record    = recordStruct{
			key:   key,
			value: append([]byte(nil), value...),
			csum:  cityhash.Hash64(value),
		}
	)

	store.Lock()
	defer store.Unlock()

	container, err = store.fetchContainer(poolID, contID)
	if nil != err {
		return
	}

	for i := range container.records {
		if key == container.records[i].key {
			container.records[i] = record
			return
		}
	}

	container.records = append(container.records, record)

	return
}

func (store *Store) injectCorruption(poolID uuid.UUID, contID uuid.UUID, key string) (err error) {
	var (
		container *containerStruct
		corrupted []byte
	)

	store.Lock()
	defer store.Unlock()

	container, err = store.fetchContainer(poolID, contID)
	if nil != err {
		return
	}

	for i := range container.records {
		if key != container.records[i].key {
			continue
		}
		if 0 == len(container.records[i].value) {
			err = blunder.NewError(blunder.InvalidConfigError, "record %s of container %s is empty", key, contID)
			return
		}
		corrupted = append([]byte(nil), container.records[i].value...)
		corrupted[0] ^= 0xFF
		container.records[i].value = corrupted
		logger.Tracef("corrupted record %s of container %s in pool %s", key, contID, poolID)
		return
	}

	err = blunder.NewError(blunder.NotFoundError, "record %s not found in container %s", key, contID)
	return
}

func (store *Store) containerIDs(poolID uuid.UUID) (contIDs []uuid.UUID, err error) {
	var (
		pool *poolStruct
	)

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPool(poolID)
	if nil != err {
		return
	}

	contIDs = make([]uuid.UUID, 0, pool.containers.Len())

	pool.containers.Ascend(func(item btree.Item) bool {
		contIDs = append(contIDs, item.(*containerStruct).contID)
		return true
	})

	return
}

func (store *Store) recordCount(poolID uuid.UUID, contID uuid.UUID) (count int, err error) {
	var (
		container *containerStruct
	)

	store.Lock()
	defer store.Unlock()

	container, err = store.fetchContainer(poolID, contID)
	if nil != err {
		return
	}

	count = len(container.records)

	return
}

func (store *Store) snapshotRecords(handle scrub.ContainerHandle) (records []recordStruct) {
	container := handle.(*containerStruct)

	store.Lock()
	records = append([]recordStruct(nil), container.records...)
	store.Unlock()

	return
}

func (store *Store) lookupContainer(poolID uuid.UUID, contID uuid.UUID) (handle scrub.ContainerHandle, err error) {
	var (
		container *containerStruct
	)

	store.Lock()
	defer store.Unlock()

	container, err = store.fetchContainer(poolID, contID)
	if nil != err {
		return
	}

	container.refCount++
	handle = container

	return
}

func (store *Store) releaseContainer(handle scrub.ContainerHandle) {
	container := handle.(*containerStruct)

	store.Lock()
	if 0 == container.refCount {
		store.Unlock()
		logger.Fatalf("container %s released more often than looked up", container.contID)
		return
	}
	container.refCount--
	store.Unlock()
}

func (store *Store) destroy(poolID uuid.UUID, contID uuid.UUID) (err error) {
	var (
		container *containerStruct
		pool      *poolStruct
	)

	store.Lock()
	container, err = store.fetchContainer(poolID, contID)
	store.Unlock()
	if nil != err {
		return
	}

	// Must not hold store.Mutex here: the scrub being waited on needs it
	container.state.RequestStopAndWait()

	store.Lock()
	defer store.Unlock()

	pool, err = store.fetchPool(poolID)
	if nil != err {
		return
	}

	if container.state.IsScrubbing() {
		logger.Fatalf("container %s of pool %s destroyed while being scrubbed", contID, poolID)
	}

	container.destroyed = true
	pool.containers.Delete(container)

	logger.Infof("destroyed container %s of pool %s", contID, poolID)

	return
}
