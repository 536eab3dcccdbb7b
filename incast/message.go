// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package incast

import (
	"fmt"

	"github.com/NVIDIA/cstruct"
	"github.com/google/uuid"

	"github.com/NVIDIA/csumscrub/blunder"
)

// CorruptionMessage asks the pool's leader to drain Target of Rank.
//
// On the wire it is (in LittleEndian byte order):
//   Pool   [16]byte
//   Rank   uint32
//   Target uint32
//
type CorruptionMessage struct {
	Pool   uuid.UUID
	Rank   uint32
	Target uint32
}

// CorruptionMessageSize is the packed size of a CorruptionMessage.
const CorruptionMessageSize = 16 + 4 + 4

func (msg CorruptionMessage) String() string {
	return fmt.Sprintf("pool %s rank %d target %d", msg.Pool, msg.Rank, msg.Target)
}

// Pack returns msg in its wire form.
func (msg CorruptionMessage) Pack() (msgBuf []byte, err error) {
	msgBuf, err = cstruct.Pack(msg, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.CorruptMessageError)
	}
	return
}

// UnpackCorruptionMessage decodes exactly one CorruptionMessage from msgBuf.
func UnpackCorruptionMessage(msgBuf []byte) (msg CorruptionMessage, err error) {
	var (
		bytesConsumed uint64
	)

	if CorruptionMessageSize != len(msgBuf) {
		err = blunder.NewError(blunder.CorruptMessageError, "corruption message is %d bytes, expected %d", len(msgBuf), CorruptionMessageSize)
		return
	}

	bytesConsumed, err = cstruct.Unpack(msgBuf, &msg, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.CorruptMessageError)
		return
	}
	if CorruptionMessageSize != bytesConsumed {
		err = blunder.NewError(blunder.CorruptMessageError, "corruption message unpack consumed %d bytes, expected %d", bytesConsumed, CorruptionMessageSize)
		return
	}

	err = nil
	return
}
