package transport

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nanocockpit/cpxhost/cpx"
)

const datagramReceiveChunk = MaxFrameLength

// DatagramTransport is a sequence-numbered, best-effort UDP transport.
// It carries no retransmission or ordering guarantee: a packet that
// arrives with a sequence number not strictly greater than the last
// one accepted is dropped.
type DatagramTransport struct {
	peerHost string
	peerPort int
	log      logrus.FieldLogger
	sink     Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *net.UDPConn
	peer    *net.UDPAddr
	lastSeq uint16
	haveSeq bool
	nextTx  uint16

	events chan cpx.Event
}

// NewDatagramTransport constructs an unconnected datagram transport
// that will send to peerHost:peerPort once bound. It must be bound
// with Connect before it can send or receive.
func NewDatagramTransport(peerHost string, peerPort int, sink Sink, log logrus.FieldLogger) *DatagramTransport {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DatagramTransport{
		peerHost: peerHost,
		peerPort: peerPort,
		log:      log.WithField("transport", "datagram"),
		sink:     sink,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan cpx.Event, 1),
	}
}

// MaxFrameLength is the maximum CPX payload this transport can carry.
func (t *DatagramTransport) MaxFrameLength() int { return DatagramMTU }

// Connect rebinds the local UDP socket to localPort. The reliable and
// datagram transports share one local port number at the host side of
// the link, so the multiplexer calls Connect again with the reliable
// transport's freshly assigned local port every time it reconnects.
func (t *DatagramTransport) Connect(localPort int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return err
	}

	peer, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.peerHost, strconv.Itoa(t.peerPort)))
	if err != nil {
		_ = conn.Close()
		return err
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.peer = peer
	t.haveSeq = false
	t.nextTx = 0
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go t.receiveLoop(conn)

	return nil
}

// Send serializes header+payload with the next outgoing sequence
// number and writes it as a single datagram. If not connected, Send is
// a silent no-op.
func (t *DatagramTransport) Send(p cpx.Packet) {
	t.mu.Lock()
	conn := t.conn
	peer := t.peer
	seq := t.nextTx
	t.nextTx++
	t.mu.Unlock()

	if conn == nil || peer == nil {
		return
	}

	frame := encodeDatagramHeader(seq, p.Header)
	frame = append(frame, p.Payload...)

	if _, err := conn.WriteToUDP(frame, peer); err != nil {
		t.log.WithError(err).Debug("datagram send failed")
		return
	}
	t.sink.IncDatagramSent()
}

// Receive returns the transport's event channel. Unlike the reliable
// transport, datagram events never carry Reset: true — session resets
// are entirely the reliable transport's concern.
func (t *DatagramTransport) Receive() <-chan cpx.Event {
	return t.events
}

// Shutdown closes the current socket and stops further receive
// activity. It does not close the event channel, since Connect may be
// called again by the multiplexer after a reliable reconnect.
func (t *DatagramTransport) Shutdown() {
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *DatagramTransport) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, datagramReceiveChunk)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < DatagramHeaderSize {
			continue
		}

		seq, header, err := decodeDatagramHeader(buf[:DatagramHeaderSize])
		if err != nil {
			continue
		}

		t.mu.Lock()
		accept := !t.haveSeq || seq > t.lastSeq
		if accept {
			t.lastSeq = seq
			t.haveSeq = true
		} else {
			// per the out-of-order policy, a regression doesn't just drop
			// this datagram — it resets the base so the next arrival,
			// whatever its sequence, is accepted unconditionally.
			t.haveSeq = false
		}
		t.mu.Unlock()

		if !accept {
			t.sink.IncDatagramDrop()
			continue
		}

		payload := make([]byte, n-DatagramHeaderSize)
		copy(payload, buf[DatagramHeaderSize:n])

		t.sink.IncDatagramReceived()

		select {
		case t.events <- cpx.Event{Packet: &cpx.Packet{Header: header, Payload: payload}}:
		case <-t.ctx.Done():
			return
		}
	}
}
