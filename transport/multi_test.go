package transport

import (
	"testing"
)

func TestMultiplexerAcceptsMatchedMTU(t *testing.T) {
	reliable := NewReliableTransport("127.0.0.1", 0, nil, nil)
	datagram := NewDatagramTransport("127.0.0.1", 0, nil, nil)

	if reliable.MaxFrameLength() != datagram.MaxFrameLength() {
		t.Fatalf("reliable and datagram transports should share an MTU by construction: %d vs %d",
			reliable.MaxFrameLength(), datagram.MaxFrameLength())
	}

	if _, err := NewMultiplexer(reliable, datagram, nil); err != nil {
		t.Fatalf("unexpected error constructing multiplexer with matched MTUs: %v", err)
	}
}
