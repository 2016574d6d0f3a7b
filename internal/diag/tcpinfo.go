package diag

import "time"

// Snapshot is a small, portable slice of Linux/BSD TCP_INFO: enough to
// log connection health without reproducing the kernel's entire
// tcp_info struct.
type Snapshot struct {
	State       string        `json:"state"`
	RTT         time.Duration `json:"rtt"`
	RTTVar      time.Duration `json:"rttVar"`
	Retransmits uint8         `json:"retransmits"`
}
