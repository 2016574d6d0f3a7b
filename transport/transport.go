// Package transport implements the two CPX wire transports — a
// reconnecting length-prefixed reliable stream and a sequenced
// unreliable datagram — plus a multiplexer that merges them into a
// single receive stream.
package transport

import (
	"encoding/binary"

	"github.com/nanocockpit/cpxhost/cpx"
)

// MaxFrameLength bounds a single on-wire frame (header + payload) on
// both transports: the maximum DMA transfer length supported by the
// remote ESP32 bridge.
const MaxFrameLength = 4092

// ReliableHeaderSize is the on-wire size of the reliable transport's
// framing header: a 16-bit payload length followed by the CPX header.
const ReliableHeaderSize = 2 + cpx.HeaderSize

// DatagramHeaderSize is the on-wire size of the datagram transport's
// framing header: a 16-bit sequence number followed by the CPX header.
const DatagramHeaderSize = 2 + cpx.HeaderSize

// ReliableMTU is the maximum CPX payload a reliable frame may carry.
const ReliableMTU = MaxFrameLength - ReliableHeaderSize

// DatagramMTU is the maximum CPX payload a datagram frame may carry.
const DatagramMTU = MaxFrameLength - DatagramHeaderSize

// encodeReliableHeader writes the 4-byte length+CPX header prefix.
func encodeReliableHeader(length uint16, header cpx.Header) []byte {
	b := make([]byte, ReliableHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], length)
	h := header.Encode()
	copy(b[2:], h[:])
	return b
}

// decodeReliableHeader parses the 4-byte length+CPX header prefix.
func decodeReliableHeader(b []byte) (length uint16, header cpx.Header, err error) {
	length = binary.LittleEndian.Uint16(b[0:2])
	header, err = cpx.DecodeHeader(b[2:4])
	return
}

// encodeDatagramHeader writes the 4-byte sequence+CPX header prefix.
func encodeDatagramHeader(sequence uint16, header cpx.Header) []byte {
	b := make([]byte, DatagramHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], sequence)
	h := header.Encode()
	copy(b[2:], h[:])
	return b
}

// decodeDatagramHeader parses the 4-byte sequence+CPX header prefix.
func decodeDatagramHeader(b []byte) (sequence uint16, header cpx.Header, err error) {
	sequence = binary.LittleEndian.Uint16(b[0:2])
	header, err = cpx.DecodeHeader(b[2:4])
	return
}
