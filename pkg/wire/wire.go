// Package wire implements the task-buffer layouts and the network
// buffer header from spec.md §6. The core never opens a socket (RPC is
// out of scope per spec.md §1) but stages exchange PartitionMergeTask,
// WindowAggregateTask, and JoinProbeTask as one-tuple buffers, and a
// buffer crossing the out-of-scope network boundary must round-trip
// through this header.
package wire

import "encoding/binary"

// MessageType enumerates the wire protocol's message kinds.
type MessageType uint32

const (
	MessageClientAnnouncement MessageType = iota
	MessageServerReady
	MessageDataBuffer
	MessageEventBuffer
	MessageEndOfStream
	MessageError
)

// Magic identifies a NebulaStream wire header.
const Magic uint32 = 0x4e455342 // "NESB"

// Header is the fixed-width buffer header from spec.md §6.
type Header struct {
	Magic       uint32
	MsgType     MessageType
	Origin      uint64
	Sequence    uint64
	Watermark   uint64
	CreationTS  uint64
	TupleCount  uint32
	PayloadSize uint32
}

// HeaderSize is the encoded byte width of Header.
const HeaderSize = 4 + 4 + 8 + 8 + 8 + 8 + 4 + 4

// Encode writes h followed by payload into a newly allocated slice.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.MsgType))
	binary.LittleEndian.PutUint64(buf[8:16], h.Origin)
	binary.LittleEndian.PutUint64(buf[16:24], h.Sequence)
	binary.LittleEndian.PutUint64(buf[24:32], h.Watermark)
	binary.LittleEndian.PutUint64(buf[32:40], h.CreationTS)
	binary.LittleEndian.PutUint32(buf[40:44], h.TupleCount)
	binary.LittleEndian.PutUint32(buf[44:48], h.PayloadSize)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a header and its trailing payload from buf.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, errShortBuffer
	}
	h := Header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		MsgType:     MessageType(binary.LittleEndian.Uint32(buf[4:8])),
		Origin:      binary.LittleEndian.Uint64(buf[8:16]),
		Sequence:    binary.LittleEndian.Uint64(buf[16:24]),
		Watermark:   binary.LittleEndian.Uint64(buf[24:32]),
		CreationTS:  binary.LittleEndian.Uint64(buf[32:40]),
		TupleCount:  binary.LittleEndian.Uint32(buf[40:44]),
		PayloadSize: binary.LittleEndian.Uint32(buf[44:48]),
	}
	if h.Magic != Magic {
		return Header{}, nil, errBadMagic
	}
	end := HeaderSize + int(h.PayloadSize)
	if len(buf) < end {
		return Header{}, nil, errShortBuffer
	}
	return h, buf[HeaderSize:end], nil
}

// PartitionMergeTask is the one-tuple task buffer dispatched by the
// W-th contributor to a global slice's partition, per spec.md §6.
type PartitionMergeTask struct {
	SliceIndex     uint64
	PartitionIndex uint64
}

// WindowAggregateTask is dispatched by the partition-merge stage when
// the slice it merged is the last slice of a window; the merge stage
// leaves TriggerSequence at zero.
type WindowAggregateTask struct {
	PartitionIndex  uint64
	StartSlice      uint64
	EndSlice        uint64
	TriggerSequence uint64
}

// JoinProbeTask is dispatched once both sides of a join window have
// reached W contributions for a partition.
type JoinProbeTask struct {
	WindowStart    uint64
	WindowEnd      uint64
	PartitionIndex uint64
	LeftSliceID    uint64
	RightSliceID   uint64
}

const (
	partitionMergeTaskSize = 16
	windowAggregateTaskSize = 32
	joinProbeTaskSize       = 40
)

// EncodePartitionMergeTask encodes t as a single-tuple payload.
func EncodePartitionMergeTask(t PartitionMergeTask) []byte {
	buf := make([]byte, partitionMergeTaskSize)
	binary.LittleEndian.PutUint64(buf[0:8], t.SliceIndex)
	binary.LittleEndian.PutUint64(buf[8:16], t.PartitionIndex)
	return buf
}

// DecodePartitionMergeTask decodes a PartitionMergeTask payload.
func DecodePartitionMergeTask(buf []byte) PartitionMergeTask {
	return PartitionMergeTask{
		SliceIndex:     binary.LittleEndian.Uint64(buf[0:8]),
		PartitionIndex: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// EncodeWindowAggregateTask encodes t as a single-tuple payload.
func EncodeWindowAggregateTask(t WindowAggregateTask) []byte {
	buf := make([]byte, windowAggregateTaskSize)
	binary.LittleEndian.PutUint64(buf[0:8], t.PartitionIndex)
	binary.LittleEndian.PutUint64(buf[8:16], t.StartSlice)
	binary.LittleEndian.PutUint64(buf[16:24], t.EndSlice)
	binary.LittleEndian.PutUint64(buf[24:32], t.TriggerSequence)
	return buf
}

// DecodeWindowAggregateTask decodes a WindowAggregateTask payload.
func DecodeWindowAggregateTask(buf []byte) WindowAggregateTask {
	return WindowAggregateTask{
		PartitionIndex:  binary.LittleEndian.Uint64(buf[0:8]),
		StartSlice:      binary.LittleEndian.Uint64(buf[8:16]),
		EndSlice:        binary.LittleEndian.Uint64(buf[16:24]),
		TriggerSequence: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// EncodeJoinProbeTask encodes t as a single-tuple payload.
func EncodeJoinProbeTask(t JoinProbeTask) []byte {
	buf := make([]byte, joinProbeTaskSize)
	binary.LittleEndian.PutUint64(buf[0:8], t.WindowStart)
	binary.LittleEndian.PutUint64(buf[8:16], t.WindowEnd)
	binary.LittleEndian.PutUint64(buf[16:24], t.PartitionIndex)
	binary.LittleEndian.PutUint64(buf[24:32], t.LeftSliceID)
	binary.LittleEndian.PutUint64(buf[32:40], t.RightSliceID)
	return buf
}

// DecodeJoinProbeTask decodes a JoinProbeTask payload.
func DecodeJoinProbeTask(buf []byte) JoinProbeTask {
	return JoinProbeTask{
		WindowStart:    binary.LittleEndian.Uint64(buf[0:8]),
		WindowEnd:      binary.LittleEndian.Uint64(buf[8:16]),
		PartitionIndex: binary.LittleEndian.Uint64(buf[16:24]),
		LeftSliceID:    binary.LittleEndian.Uint64(buf[24:32]),
		RightSliceID:   binary.LittleEndian.Uint64(buf[32:40]),
	}
}
