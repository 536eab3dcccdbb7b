// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package incast

import (
	"context"
	"hash/crc64"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/cstruct"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

// Each UDP Packet is a header followed by one packed CorruptionMessage.
// The header is (also in LittleEndian byte order):
//
//   CRC64    uint64  covers everything after itself
//   MsgNonce uint64
//
type udpPacketHeaderStruct struct {
	CRC64    uint64
	MsgNonce uint64
}

const udpPacketHeaderSize = 8 + 8

const udpPacketSize = udpPacketHeaderSize + CorruptionMessageSize

var crc64ECMATable = crc64.MakeTable(crc64.ECMA)

// UDPChannel sends each CorruptionMessage as a single datagram to the
// leader's UDPListener. No acknowledgement is expected.
type UDPChannel struct {
	conn      *net.UDPConn
	nextNonce uint64
}

func NewUDPChannel(leaderAddr string) (channel *UDPChannel, err error) {
	var (
		udpAddr *net.UDPAddr
	)

	udpAddr, err = net.ResolveUDPAddr("udp", leaderAddr)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidConfigError)
		return
	}

	channel = &UDPChannel{
		nextNonce: uint64(rand.New(rand.NewSource(time.Now().UnixNano())).Int63()),
	}

	channel.conn, err = net.DialUDP("udp", nil, udpAddr)
	if nil != err {
		err = blunder.AddError(err, blunder.ChannelDeliveryError)
		channel = nil
		return
	}

	return
}

func (channel *UDPChannel) Publish(ctx context.Context, msg CorruptionMessage) (err error) {
	var (
		headerBuf []byte
		msgBuf    []byte
		packetBuf []byte
	)

	msgBuf, err = msg.Pack()
	if nil != err {
		return
	}

	// CRC64 is zero for now; patched below once the rest of the packet is known
	headerBuf, err = cstruct.Pack(udpPacketHeaderStruct{MsgNonce: atomic.AddUint64(&channel.nextNonce, 1)}, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.CorruptMessageError)
		return
	}

	packetBuf = append(headerBuf, msgBuf...)
	cstruct.LittleEndian.PutUint64(packetBuf[:8], crc64.Checksum(packetBuf[8:], crc64ECMATable))

	if deadline, ok := ctx.Deadline(); ok {
		_ = channel.conn.SetWriteDeadline(deadline)
	}

	_, err = channel.conn.Write(packetBuf)
	if nil != err {
		err = blunder.AddError(err, blunder.ChannelDeliveryError)
	}

	return
}

func (channel *UDPChannel) Close() (err error) {
	err = channel.conn.Close()
	return
}

// UDPListener receives datagrams sent by UDPChannels and hands each valid
// CorruptionMessage to a Receiver.
type UDPListener struct {
	conn     *net.UDPConn
	receiver *Receiver
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	dropped  uint64
}

func NewUDPListener(listenAddr string, receiver *Receiver) (listener *UDPListener, err error) {
	var (
		udpAddr *net.UDPAddr
	)

	udpAddr, err = net.ResolveUDPAddr("udp", listenAddr)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidConfigError)
		return
	}

	listener = &UDPListener{receiver: receiver}

	listener.conn, err = net.ListenUDP("udp", udpAddr)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidConfigError)
		listener = nil
		return
	}

	listener.ctx, listener.cancel = context.WithCancel(context.Background())

	listener.wg.Add(1)
	go listener.recvPackets()

	return
}

// Addr returns the address actually bound (useful when listening on port 0).
func (listener *UDPListener) Addr() net.Addr {
	return listener.conn.LocalAddr()
}

// Dropped counts datagrams discarded for failing validation.
func (listener *UDPListener) Dropped() uint64 {
	return atomic.LoadUint64(&listener.dropped)
}

func (listener *UDPListener) Close() (err error) {
	listener.cancel()
	err = listener.conn.Close()
	listener.wg.Wait()
	return
}

func (listener *UDPListener) recvPackets() {
	var (
		err        error
		msg        CorruptionMessage
		packetBuf  = make([]byte, udpPacketSize+1)
		packetSize int
		udpAddr    *net.UDPAddr
	)

	defer listener.wg.Done()

	for {
		packetSize, udpAddr, err = listener.conn.ReadFromUDP(packetBuf)
		if nil != err {
			if nil == listener.ctx.Err() {
				logger.ErrorfWithError(err, "corruption listener read failed")
			}
			return
		}

		msg, err = decodeUDPPacket(packetBuf[:packetSize])
		if nil != err {
			atomic.AddUint64(&listener.dropped, 1)
			logger.WarnfWithError(err, "discarding packet from %s", udpAddr)
			continue
		}

		_ = listener.receiver.Deliver(listener.ctx, msg)
	}
}

func decodeUDPPacket(packetBuf []byte) (msg CorruptionMessage, err error) {
	var (
		header udpPacketHeaderStruct
	)

	if udpPacketSize != len(packetBuf) {
		err = blunder.NewError(blunder.CorruptMessageError, "packet is %d bytes, expected %d", len(packetBuf), udpPacketSize)
		return
	}

	_, err = cstruct.Unpack(packetBuf[:udpPacketHeaderSize], &header, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.CorruptMessageError)
		return
	}

	if header.CRC64 != crc64.Checksum(packetBuf[8:], crc64ECMATable) {
		err = blunder.NewError(blunder.CorruptMessageError, "packet nonce %d failed CRC64 check", header.MsgNonce)
		return
	}

	msg, err = UnpackCorruptionMessage(packetBuf[udpPacketHeaderSize:])

	return
}
