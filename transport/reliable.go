package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nanocockpit/cpxhost/cpx"
	"github.com/nanocockpit/cpxhost/internal/diag"
)

// ReplyBufferWireSize is the on-wire size, in bytes, of one streamer
// reply (OffboardBuffer: a 5-byte StreamerStats plus a 20-byte
// InferenceStampedMessage). It is hardcoded here, rather than imported
// from the streamer package, to break the cyclic dependency noted in
// spec.md §9: the transport sizes its send buffer from the reply
// layout without importing the streamer module.
const ReplyBufferWireSize = 5 + 20

// ReliableSendBufferSize bounds the reliable socket's SO_SNDBUF to ten
// reply buffers, so slow I/O cannot let unsent replies queue up
// indefinitely.
const ReliableSendBufferSize = ReplyBufferWireSize * 10

const tcpReceiveChunk = 1024

// receive state machine states
const (
	waitHeader = iota
	waitPayload
)

// ReliableTransport is a reconnecting, length-prefixed CPX frame stream.
type ReliableTransport struct {
	host string
	port int
	log  logrus.FieldLogger
	sink Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     net.Conn
	localPrt int

	events     chan cpx.Event
	startOnce  sync.Once
	shutdownMu sync.Mutex
	shutdown   bool
}

// NewReliableTransport constructs a reliable transport to host:port.
// sink may be nil (use NopSink{}). log may be nil (use logrus standard).
func NewReliableTransport(host string, port int, sink Sink, log logrus.FieldLogger) *ReliableTransport {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReliableTransport{
		host:   host,
		port:   port,
		log:    log.WithField("transport", "reliable"),
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan cpx.Event, 1),
	}
}

// MaxFrameLength is the maximum CPX payload this transport can carry.
func (t *ReliableTransport) MaxFrameLength() int { return ReliableMTU }

// LocalPort returns the local port the current (or most recent)
// connection was bound to by the OS, or 0 if never connected.
func (t *ReliableTransport) LocalPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localPrt
}

// Send serializes header+payload and writes it atomically. If not
// connected, Send is a silent no-op. Any write error disconnects; there
// is no retransmission.
func (t *ReliableTransport) Send(p cpx.Packet) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return
	}

	frame := encodeReliableHeader(uint16(len(p.Payload)), p.Header)
	frame = append(frame, p.Payload...)

	if _, err := conn.Write(frame); err != nil {
		t.log.WithError(err).Warn("reliable send failed, disconnecting")
		t.disconnect()
	} else {
		t.sink.AddReliableBytesSent(len(frame))
	}
}

// Receive starts the reconnect+receive loop (once) and returns the
// event channel it publishes to.
func (t *ReliableTransport) Receive() <-chan cpx.Event {
	t.startOnce.Do(func() {
		go t.loop()
	})
	return t.events
}

// Shutdown idempotently tears the transport down: cancels any pending
// dial/backoff, closes the active socket (tripping a pending Read with
// a local-close error), and lets loop() exit on its own.
func (t *ReliableTransport) Shutdown() {
	t.shutdownMu.Lock()
	already := t.shutdown
	t.shutdown = true
	t.shutdownMu.Unlock()
	if already {
		return
	}

	t.cancel()
	t.disconnect()
}

func (t *ReliableTransport) isShutdown() bool {
	t.shutdownMu.Lock()
	defer t.shutdownMu.Unlock()
	return t.shutdown
}

func (t *ReliableTransport) disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (t *ReliableTransport) loop() {
	defer close(t.events)

	diag.LogKernelVersion(t.log)

	for !t.isShutdown() {
		conn, err := t.connectWithRetry()
		if err != nil {
			// context cancelled: shutting down
			return
		}

		t.mu.Lock()
		t.conn = conn
		if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
			t.localPrt = tcpAddr.Port
		}
		t.mu.Unlock()

		t.sink.IncReliableReconnect()
		select {
		case t.events <- cpx.Event{Reset: true}:
		case <-t.ctx.Done():
			return
		}

		t.receiveUntilError(conn)

		t.disconnect()
	}
}

// connectWithRetry implements the reconnect policy from spec.md §4.2:
// timeout/refused retry immediately, other OS errors sleep 5s then
// retry.
func (t *ReliableTransport) connectWithRetry() (net.Conn, error) {
	for {
		if t.isShutdown() {
			return nil, t.ctx.Err()
		}

		conn, err := t.dial()
		if err == nil {
			return conn, nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.log.Debug("reliable connect timed out, retrying")
			continue
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			t.log.Debug("reliable connect refused, retrying")
			continue
		}

		t.log.WithError(err).Warn("reliable connect failed, retrying in 5s")
		select {
		case <-time.After(5 * time.Second):
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		}
	}
}

func (t *ReliableTransport) dial() (net.Conn, error) {
	dialer := net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = applyReliableSocketOptions(fd, ReliableSendBufferSize)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	conn, err := dialer.DialContext(t.ctx, "tcp4", addr)
	if err != nil {
		return nil, err
	}

	return diag.Wrap(conn, t.log), nil
}

// receiveUntilError drives the WAIT_HEADER/WAIT_PAYLOAD state machine
// against conn until a read error ends the connection.
func (t *ReliableTransport) receiveUntilError(conn net.Conn) {
	var buf bytes.Buffer
	state := waitHeader
	var frameLen uint16
	var frameHeader cpx.Header

	chunk := make([]byte, tcpReceiveChunk)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if !t.isShutdown() {
				t.log.WithError(err).Debug("reliable receive ended")
			}
			return
		}

		t.sink.AddReliableBytesReceived(n)

		for {
			if state == waitHeader {
				if buf.Len() < ReliableHeaderSize {
					break
				}
				hdr := buf.Next(ReliableHeaderSize)
				var decErr error
				frameLen, frameHeader, decErr = decodeReliableHeader(hdr)
				if decErr != nil {
					t.log.WithError(decErr).Warn("reliable header decode failed")
					return
				}
				state = waitPayload
			}

			if state == waitPayload {
				if int(frameLen) > ReliableMTU {
					t.log.WithField("length", frameLen).Warn("reliable frame length over MTU, resetting connection")
					return
				}
				if buf.Len() < int(frameLen) {
					break
				}
				payload := make([]byte, frameLen)
				copy(payload, buf.Next(int(frameLen)))

				select {
				case t.events <- cpx.Event{Packet: &cpx.Packet{Header: frameHeader, Payload: payload}}:
				case <-t.ctx.Done():
					return
				}

				state = waitHeader
			}
		}
	}
}
