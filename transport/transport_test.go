package transport

import (
	"bytes"
	"testing"

	"github.com/nanocockpit/cpxhost/cpx"
)

func TestReliableHeaderRoundTrip(t *testing.T) {
	h := cpx.NewHeader(cpx.TargetGAP, cpx.FunctionStreamer, cpx.TargetWifiHost)
	enc := encodeReliableHeader(42, h)

	length, got, err := decodeReliableHeader(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if length != 42 {
		t.Fatalf("length = %d, want 42", length)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v, want %+v", got, h)
	}
}

func TestDatagramHeaderRoundTrip(t *testing.T) {
	h := cpx.NewHeader(cpx.TargetSTM32, cpx.FunctionSystem, cpx.TargetESP32)
	enc := encodeDatagramHeader(65535, h)

	seq, got, err := decodeDatagramHeader(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 65535 {
		t.Fatalf("sequence = %d, want 65535", seq)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderSizesMatch(t *testing.T) {
	if ReliableHeaderSize != DatagramHeaderSize {
		t.Fatalf("reliable header size %d != datagram header size %d", ReliableHeaderSize, DatagramHeaderSize)
	}
	if ReliableMTU != DatagramMTU {
		t.Fatalf("reliable MTU %d != datagram MTU %d", ReliableMTU, DatagramMTU)
	}
}

func TestEncodeReliableHeaderBytes(t *testing.T) {
	h := cpx.Header{Destination: 0, Source: 0, LastPacket: false, Function: 0, Version: 0}
	enc := encodeReliableHeader(0, h)
	want := []byte{0, 0, 0, 0}
	if !bytes.Equal(enc, want) {
		t.Fatalf("encode mismatch: got %#v, want %#v", enc, want)
	}
}
