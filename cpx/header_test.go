package cpx

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		NewHeader(TargetGAP, FunctionStreamer, TargetWifiHost),
		NewHeader(TargetSTM32, FunctionSystem, TargetESP32),
		{Destination: TargetESP32, Source: TargetGAP, LastPacket: false, Function: FunctionBootloader, Version: Version},
		{Destination: 0x07, Source: 0x07, LastPacket: true, Function: 0x3F, Version: 0x03},
	}

	for _, h := range cases {
		enc := h.Encode()
		got, err := DecodeHeader(enc[:])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestHeaderEncodeKnownVector(t *testing.T) {
	// destination=GAP(0b100), source=WIFI_HOST(0b011), last_packet=1, reserved=0
	// byte0 = reserved(0) last_packet(1) source(011) destination(100) = 0b01011100 = 0x5C
	// function=STREAMER(6), version=0
	// byte1 = version(00) function(000110) = 0x06
	h := NewHeader(TargetGAP, FunctionStreamer, TargetWifiHost)
	enc := h.Encode()
	want := [2]byte{0x5C, 0x06}
	if !bytes.Equal(enc[:], want[:]) {
		t.Fatalf("encode mismatch: got %#v, want %#v", enc, want)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x01}); err == nil {
		t.Fatal("expected error decoding short header")
	}
}
