package cpx

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event is what a Transport yields on its receive side: either a reset
// marker (Packet is nil) signalling a fresh (re)connection, or a decoded
// CPX packet.
type Event struct {
	Reset  bool
	Packet *Packet
}

// Transport is the contract a CPX byte-transport must satisfy. Both the
// reliable and unreliable transports, and the multiplexer that merges
// them, implement it.
type Transport interface {
	Send(p Packet)
	Receive() <-chan Event
	Shutdown()
	MaxFrameLength() int
}

// Observer is invoked synchronously on every CPX packet sent or
// received.
type Observer func(p Packet)

// Client validates protocol version on receive, notifies a set of
// observers on every packet sent or received, and reports the maximum
// payload a caller may put in one CPX packet.
type Client struct {
	transport Transport
	log       logrus.FieldLogger

	mu        sync.Mutex
	observers []Observer
}

// NewClient wraps transport with CPX-level version checking and
// observation. log may be nil, in which case logrus's standard logger
// is used.
func NewClient(transport Transport, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{transport: transport, log: log}
}

// AddObserver registers a callback invoked on every packet sent or
// received. Unlike a single overwritable slot, repeated registration
// accumulates observers rather than replacing the previous one.
func (c *Client) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Client) notify(p Packet) {
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range observers {
		o(p)
	}
}

// MaxPayloadLength is the largest CPX payload this client may send,
// given the underlying transport's frame size.
func (c *Client) MaxPayloadLength() int {
	return c.transport.MaxFrameLength() - HeaderSize
}

// Send wraps header+payload into a packet, notifies the observer, and
// hands it to the transport.
func (c *Client) Send(header Header, payload []byte) {
	p := Packet{Header: header, Payload: payload}
	c.notify(p)
	c.transport.Send(p)
}

// Receive returns a channel of CPX packets. The channel is closed when
// the underlying transport is shut down. A non-zero protocol version on
// any received packet is fatal for this stream: the error is logged and
// the channel is closed without yielding that packet.
func (c *Client) Receive() <-chan Packet {
	out := make(chan Packet)

	go func() {
		defer close(out)

		for ev := range c.transport.Receive() {
			if ev.Packet == nil {
				continue
			}

			if ev.Packet.Header.Version != Version {
				c.log.WithFields(logrus.Fields{
					"got":      ev.Packet.Header.Version,
					"expected": Version,
				}).Error("cpx: unsupported protocol version, closing receive stream")
				return
			}

			c.notify(*ev.Packet)
			out <- *ev.Packet
		}
	}()

	return out
}

// Shutdown idempotently tears down the underlying transport.
func (c *Client) Shutdown() {
	c.transport.Shutdown()
	c.log.Info("cpx client shutting down")
}
