package transport

import (
	"net"
	"testing"
	"time"

	"github.com/nanocockpit/cpxhost/cpx"
)

func listenLoopback(t *testing.T) (*net.TCPListener, int) {
	t.Helper()
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestReliableTransportResetOnConnect(t *testing.T) {
	l, port := listenLoopback(t)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	rt := NewReliableTransport("127.0.0.1", port, nil, nil)
	defer rt.Shutdown()

	select {
	case ev := <-rt.Receive():
		if !ev.Reset {
			t.Fatal("expected the first event to be a reset")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reset event")
	}

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a connection")
	}
}

func TestReliableTransportSendReceive(t *testing.T) {
	l, port := listenLoopback(t)
	defer l.Close()

	serverConn := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			serverConn <- conn
		}
	}()

	rt := NewReliableTransport("127.0.0.1", port, nil, nil)
	defer rt.Shutdown()

	events := rt.Receive()
	if ev := <-events; !ev.Reset {
		t.Fatal("expected reset before first frame")
	}

	conn := <-serverConn

	h := cpx.NewHeader(cpx.TargetGAP, cpx.FunctionStreamer, cpx.TargetWifiHost)
	payload := []byte("hello cpx")
	frame := encodeReliableHeader(uint16(len(payload)), h)
	frame = append(frame, payload...)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Packet == nil {
			t.Fatal("expected a packet event")
		}
		if string(ev.Packet.Payload) != "hello cpx" {
			t.Fatalf("payload = %q, want %q", ev.Packet.Payload, "hello cpx")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	rt.Send(cpx.Packet{Header: h, Payload: []byte("reply")})

	buf := make([]byte, ReliableHeaderSize+16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	length, _, err := decodeReliableHeader(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := string(buf[ReliableHeaderSize : ReliableHeaderSize+int(length)])
	if got != "reply" {
		t.Fatalf("server observed payload %q, want %q", got, "reply")
	}
}

func TestReliableTransportDesyncOverMTU(t *testing.T) {
	l, port := listenLoopback(t)
	defer l.Close()

	serverConn := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			serverConn <- conn
		}
	}()

	rt := NewReliableTransport("127.0.0.1", port, nil, nil)
	defer rt.Shutdown()

	events := rt.Receive()
	<-events // reset
	conn := <-serverConn

	// a length field advertising more than ReliableMTU must desync the
	// connection rather than block forever waiting for a payload that
	// large.
	bad := make([]byte, ReliableHeaderSize)
	bad[0] = 0xFF
	bad[1] = 0xFF
	conn.Write(bad)

	select {
	case ev, ok := <-events:
		if ok && ev.Packet != nil {
			t.Fatal("did not expect a packet from an over-MTU frame")
		}
		// either a reset (reconnect) or channel closure is acceptable
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for desync handling")
	}
}
