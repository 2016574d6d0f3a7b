//go:build linux

package diag

import (
	"time"

	"golang.org/x/sys/unix"
)

var tcpStateNames = map[uint8]string{
	1:  "ESTABLISHED",
	2:  "SYN_SENT",
	3:  "SYN_RECV",
	4:  "FIN_WAIT1",
	5:  "FIN_WAIT2",
	6:  "TIME_WAIT",
	7:  "CLOSE",
	8:  "CLOSE_WAIT",
	9:  "LAST_ACK",
	10: "LISTEN",
	11: "CLOSING",
}

// GetTCPInfo retrieves a TCP_INFO snapshot for the connected socket
// identified by fd using the standard Linux getsockopt(TCP_INFO) call.
func GetTCPInfo(fd uintptr) (*Snapshot, error) {
	info, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, err
	}

	state, ok := tcpStateNames[info.State]
	if !ok {
		state = "UNKNOWN"
	}

	return &Snapshot{
		State:       state,
		RTT:         time.Duration(info.Rtt) * time.Microsecond,
		RTTVar:      time.Duration(info.Rttvar) * time.Microsecond,
		Retransmits: info.Retransmits,
	}, nil
}
