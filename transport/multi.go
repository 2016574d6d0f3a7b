package transport

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nanocockpit/cpxhost/cpx"
)

// Multiplexer merges a reliable and a datagram transport into a single
// CPX transport. Reset events from the reliable transport trigger a
// rebind of the datagram transport's local socket to the reliable
// transport's new local port; every other event passes through
// untouched. Outgoing sends default to the datagram transport, the
// path the CPX link expects for high-rate telemetry.
type Multiplexer struct {
	reliable  *ReliableTransport
	datagram  *DatagramTransport
	log       logrus.FieldLogger
	events    chan cpx.Event
	startOnce sync.Once
}

// NewMultiplexer builds a Multiplexer over a reliable transport and a
// datagram transport that share an MTU. The datagram transport must
// already be configured with the correct peer host; the multiplexer
// only ever rebinds its local port.
func NewMultiplexer(reliable *ReliableTransport, datagram *DatagramTransport, log logrus.FieldLogger) (*Multiplexer, error) {
	if reliable.MaxFrameLength() != datagram.MaxFrameLength() {
		return nil, fmt.Errorf("transport: reliable MTU %d does not match datagram MTU %d",
			reliable.MaxFrameLength(), datagram.MaxFrameLength())
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Multiplexer{
		reliable: reliable,
		datagram: datagram,
		log:      log.WithField("transport", "multiplexer"),
		// capacity 2: a small bounded FIFO shared by both upstream
		// transports; when the consumer falls behind, the pump blocks
		// rather than dropping events.
		events: make(chan cpx.Event, 2),
	}, nil
}

// MaxFrameLength is the MTU shared by both underlying transports.
func (m *Multiplexer) MaxFrameLength() int { return m.reliable.MaxFrameLength() }

// Send routes a packet to the datagram transport. Control traffic that
// must survive a reconnect belongs on the reliable transport directly;
// most CPX callers only need the merged Receive stream and send over
// datagram.
func (m *Multiplexer) Send(p cpx.Packet) { m.datagram.Send(p) }

// SendReliable routes a packet over the reliable transport explicitly.
func (m *Multiplexer) SendReliable(p cpx.Packet) { m.reliable.Send(p) }

// Receive starts the merge loop (once) and returns the merged event
// channel.
func (m *Multiplexer) Receive() <-chan cpx.Event {
	m.startOnce.Do(func() {
		go m.pump(m.reliable.Receive())
	})
	return m.events
}

func (m *Multiplexer) pump(reliableEvents <-chan cpx.Event) {
	defer close(m.events)

	datagramEvents := m.datagram.Receive()

	for {
		select {
		case ev, ok := <-reliableEvents:
			if !ok {
				return
			}
			if ev.Reset {
				m.handleReset()
			}
			m.events <- ev

		case ev, ok := <-datagramEvents:
			if !ok {
				datagramEvents = nil
				continue
			}
			m.events <- ev
		}
	}
}

func (m *Multiplexer) handleReset() {
	port := m.reliable.LocalPort()
	if port == 0 {
		return
	}
	if err := m.datagram.Connect(port); err != nil {
		m.log.WithError(err).WithField("port", port).Warn("failed to rebind datagram transport after reset")
	}
}

// Shutdown stops both underlying transports.
func (m *Multiplexer) Shutdown() {
	m.reliable.Shutdown()
	m.datagram.Shutdown()
}
