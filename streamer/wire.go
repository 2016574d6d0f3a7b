// Package streamer implements the application-level buffer protocol
// layered on top of CPX: BEGIN/DATA segmentation and reassembly of
// arbitrarily sized, checksummed byte buffers, plus the fixed-layout
// image metadata and reply records carried in those buffers.
package streamer

import (
	"encoding/binary"
	"fmt"
	"math"
)

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func encodeFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// Buffer type tags.
const (
	BufferTypeImage     uint8 = 0x01
	BufferTypeInference uint8 = 0xF0
)

// Streamer command bytes, carried as the CPX payload's first byte.
const (
	CommandBegin uint8 = 0x10
	CommandData  uint8 = 0x11
)

// MetadataVersion is the only image metadata layout this client
// understands; any other value on receive is a fatal protocol error.
const MetadataVersion uint8 = 10

const (
	beginHeaderSize = 1 + 11
	dataHeaderSize  = 1 + 3
)

// BeginHeader is the fixed 12-byte prefix of a BEGIN streamer segment:
// command byte, buffer type, buffer size, buffer CRC-32, 2 bytes of
// structural padding.
type BeginHeader struct {
	BufferType uint8
	Size       uint32
	Checksum   uint32
}

// Encode serializes h as the 12-byte BEGIN header.
func (h BeginHeader) Encode() [beginHeaderSize]byte {
	var b [beginHeaderSize]byte
	b[0] = CommandBegin
	b[1] = h.BufferType
	binary.LittleEndian.PutUint32(b[2:6], h.Size)
	binary.LittleEndian.PutUint32(b[6:10], h.Checksum)
	// b[10:12] left as zeroed structural padding.
	return b
}

// DecodeBeginHeader parses a 12-byte BEGIN header. It does not check
// the command byte; callers dispatch on that first.
func DecodeBeginHeader(b []byte) (BeginHeader, error) {
	if len(b) < beginHeaderSize {
		return BeginHeader{}, fmt.Errorf("streamer: begin header too short: %d bytes", len(b))
	}
	return BeginHeader{
		BufferType: b[1],
		Size:       binary.LittleEndian.Uint32(b[2:6]),
		Checksum:   binary.LittleEndian.Uint32(b[6:10]),
	}, nil
}

// DataHeader is the fixed 4-byte prefix of a DATA streamer segment:
// command byte, 3 bytes of structural padding.
type DataHeader struct{}

// Encode serializes a DATA header.
func (DataHeader) Encode() [dataHeaderSize]byte {
	var b [dataHeaderSize]byte
	b[0] = CommandData
	return b
}

// DecodeDataHeader validates a 4-byte DATA header's length. The
// command byte is expected to already have been inspected by the
// caller.
func DecodeDataHeader(b []byte) (DataHeader, error) {
	if len(b) < dataHeaderSize {
		return DataHeader{}, fmt.Errorf("streamer: data header too short: %d bytes", len(b))
	}
	return DataHeader{}, nil
}

// BeginBodySize and DataBodySize are the number of bytes consumed by
// each header when computing the first-slice/subsequent-slice sizes
// during segmentation.
const (
	BeginBodySize = beginHeaderSize
	DataBodySize  = dataHeaderSize
)

const (
	stateMessageSize         = 32
	distanceSensorHeaderSize = 4
	distanceSensorGridSize   = 64
	distanceSensorBlockSize  = distanceSensorHeaderSize + distanceSensorGridSize
	inferenceStampedSize     = 20

	// metadata_version + frame_width + frame_height + frame_bpp +
	// frame_format + frame_id + frame_timestamp + state_timestamp +
	// state + tof_timestamp + tof + reply_frame_timestamp +
	// reply_recv_timestamp + inference
	imageMetadataFixedPrefixSize = 1 + 2 + 2 + 1 + 1 + 1 + 4 + 4 + stateMessageSize + 4 + distanceSensorBlockSize + 4 + 4 + inferenceStampedSize
)

// StateMessage is the embedded flight-controller state record carried
// in image metadata: a local tick timestamp, position/velocity/
// acceleration, a compressed attitude quaternion, and angular rates.
// Quaternion decompression is out of scope here; Quaternion is passed
// through verbatim for an external collaborator to expand.
type StateMessage struct {
	Timestamp      uint32
	PositionMM     [3]int16
	VelocityMMS    [3]int16
	AccelerationMG [3]int16
	Quaternion     uint32
	RatesMradS     [3]int16
}

func decodeStateMessage(b []byte) StateMessage {
	var s StateMessage
	s.Timestamp = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := range s.PositionMM {
		s.PositionMM[i] = int16(binary.LittleEndian.Uint16(b[off+i*2:]))
	}
	off += 6
	for i := range s.VelocityMMS {
		s.VelocityMMS[i] = int16(binary.LittleEndian.Uint16(b[off+i*2:]))
	}
	off += 6
	for i := range s.AccelerationMG {
		s.AccelerationMG[i] = int16(binary.LittleEndian.Uint16(b[off+i*2:]))
	}
	off += 6
	s.Quaternion = binary.LittleEndian.Uint32(b[off:])
	off += 4
	for i := range s.RatesMradS {
		s.RatesMradS[i] = int16(binary.LittleEndian.Uint16(b[off+i*2:]))
	}
	return s
}

// DistanceSensorBlock is the embedded multi-zone distance sensor
// reading: a resolution tag (0, 16, or 64 live zones, one byte
// followed by 3 bytes of structural padding) plus a fixed 64-byte
// sample grid (unused tail zeroed when resolution < 64).
type DistanceSensorBlock struct {
	Resolution uint8
	Samples    [distanceSensorGridSize]byte
}

func decodeDistanceSensorBlock(b []byte) DistanceSensorBlock {
	var d DistanceSensorBlock
	d.Resolution = b[0]
	copy(d.Samples[:], b[distanceSensorHeaderSize:distanceSensorBlockSize])
	return d
}

// InferenceStamped is an onboard or host-computed inference result: a
// position estimate in meters, a heading, and the flight-controller
// timestamp the estimate was produced at (or zero, meaning absent).
type InferenceStamped struct {
	Timestamp    uint32
	X, Y, Z, Phi float32
}

func decodeInferenceStamped(b []byte) InferenceStamped {
	return InferenceStamped{
		Timestamp: binary.LittleEndian.Uint32(b[0:4]),
		X:         decodeFloat32(b[4:8]),
		Y:         decodeFloat32(b[8:12]),
		Z:         decodeFloat32(b[12:16]),
		Phi:       decodeFloat32(b[16:20]),
	}
}

func encodeInferenceStamped(b []byte, v InferenceStamped) {
	binary.LittleEndian.PutUint32(b[0:4], v.Timestamp)
	encodeFloat32(b[4:8], v.X)
	encodeFloat32(b[8:12], v.Y)
	encodeFloat32(b[12:16], v.Z)
	encodeFloat32(b[16:20], v.Phi)
}

// ImageMetadata is the fixed-layout prefix of an image streamer
// buffer: geometry, a wrapping hardware frame id, arrival timestamps,
// and the embedded state/distance/inference records.
type ImageMetadata struct {
	MetadataVersion     uint8
	Width               uint16
	Height              uint16
	BitsPerPixel        uint8
	PixelFormat         uint8
	FrameID             uint8
	FrameTimestamp      uint32
	StateTimestamp      uint32
	State               StateMessage
	DistanceTimestamp   uint32
	DistanceSensor      DistanceSensorBlock
	ReplyFrameTimestamp uint32
	ReplyRecvTimestamp  uint32
	Inference           InferenceStamped
}

// DecodeImageMetadata parses the fixed metadata prefix from b. It
// returns an error (without touching the version field's caller-side
// handling) when b is shorter than the fixed layout; MetadataVersion
// mismatch is the caller's responsibility to treat as fatal.
func DecodeImageMetadata(b []byte) (ImageMetadata, error) {
	if len(b) < imageMetadataFixedPrefixSize {
		return ImageMetadata{}, fmt.Errorf("streamer: image metadata too short: %d bytes, need %d",
			len(b), imageMetadataFixedPrefixSize)
	}

	m := ImageMetadata{
		MetadataVersion: b[0],
		Width:           binary.LittleEndian.Uint16(b[1:3]),
		Height:          binary.LittleEndian.Uint16(b[3:5]),
		BitsPerPixel:    b[5],
		PixelFormat:     b[6],
		FrameID:         b[7],
	}
	off := 8
	m.FrameTimestamp = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.StateTimestamp = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.State = decodeStateMessage(b[off : off+stateMessageSize])
	off += stateMessageSize
	m.DistanceTimestamp = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.DistanceSensor = decodeDistanceSensorBlock(b[off : off+distanceSensorBlockSize])
	off += distanceSensorBlockSize
	m.ReplyFrameTimestamp = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.ReplyRecvTimestamp = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.Inference = decodeInferenceStamped(b[off : off+inferenceStampedSize])

	return m, nil
}

// ImageMetadataPrefixSize is the byte length of the fixed metadata
// prefix; pixel data begins immediately after it.
const ImageMetadataPrefixSize = imageMetadataFixedPrefixSize

const (
	statsSize           = 5
	replyBufferWireSize = statsSize + inferenceStampedSize
)

// ReplyBufferWireSize is the byte length of a reply buffer on the
// wire: a 5-byte stats echo plus a 20-byte stamped inference record.
const ReplyBufferWireSize = replyBufferWireSize

// Stats is the echo block at the start of a reply buffer: the frame
// timestamp and frame id the reply answers.
type Stats struct {
	ReplyFrameTimestamp uint32
	ReplyFrameID        uint8
}

// ReplyBuffer is the full payload of a type-inference streamer buffer.
type ReplyBuffer struct {
	Stats     Stats
	Inference InferenceStamped
}

// Encode serializes r as the fixed 25-byte reply wire layout.
func (r ReplyBuffer) Encode() []byte {
	b := make([]byte, replyBufferWireSize)
	binary.LittleEndian.PutUint32(b[0:4], r.Stats.ReplyFrameTimestamp)
	b[4] = r.Stats.ReplyFrameID
	encodeInferenceStamped(b[statsSize:], r.Inference)
	return b
}
