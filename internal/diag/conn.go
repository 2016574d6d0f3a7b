// Package diag provides connection-level observability for the
// reliable transport: byte/time counters and a TCP_INFO snapshot taken
// on connect and disconnect.
package diag

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Conn wraps a net.Conn, tracking byte counts and open/close timestamps,
// and gathering a Snapshot of TCP_INFO at open and close. It never
// alters read/write semantics or error propagation — callers treat it
// exactly like the net.Conn it wraps.
type Conn struct {
	net.Conn

	ID     string
	log    logrus.FieldLogger
	opened time.Time

	txBytes int64
	rxBytes int64

	OpenedInfo *Snapshot
	ClosedInfo *Snapshot
}

// Wrap returns ncon wrapped with diagnostics, tagged with a fresh
// correlation ID and logging a Snapshot taken immediately.
func Wrap(ncon net.Conn, log logrus.FieldLogger) *Conn {
	id := xid.New().String()
	c := &Conn{
		Conn:   ncon,
		ID:     id,
		log:    log.WithField("conn", id),
		opened: time.Now(),
	}
	c.OpenedInfo = c.snapshot()
	c.log.WithField("tcpinfo", c.OpenedInfo).Debug("reliable socket connected")
	return c
}

func (c *Conn) snapshot() *Snapshot {
	if _, ok := c.Conn.(*net.TCPConn); !ok {
		return nil
	}

	fd := netfd.GetFdFromConn(c.Conn)
	if fd < 0 {
		return nil
	}

	info, err := GetTCPInfo(uintptr(fd))
	if err != nil {
		c.log.WithError(err).Debug("tcpinfo unavailable")
		return nil
	}
	return info
}

// Read tracks received bytes.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	atomic.AddInt64(&c.rxBytes, int64(n))
	return n, err
}

// Write tracks sent bytes.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	atomic.AddInt64(&c.txBytes, int64(n))
	return n, err
}

// Close gathers a final Snapshot and logs a summary before closing the
// underlying connection.
func (c *Conn) Close() error {
	c.ClosedInfo = c.snapshot()
	c.log.WithFields(logrus.Fields{
		"duration": time.Since(c.opened),
		"txBytes":  atomic.LoadInt64(&c.txBytes),
		"rxBytes":  atomic.LoadInt64(&c.rxBytes),
		"tcpinfo":  c.ClosedInfo,
	}).Debug("reliable socket disconnected")
	return c.Conn.Close()
}

// Bytes returns the current sent/received byte counters.
func (c *Conn) Bytes() (tx, rx int64) {
	return atomic.LoadInt64(&c.txBytes), atomic.LoadInt64(&c.rxBytes)
}
