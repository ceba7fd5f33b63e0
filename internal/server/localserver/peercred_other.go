//go:build !linux

package localserver

import "net"

// peerPartition is unavailable; connections use the default partition.
func peerPartition(net.Conn) (int32, bool) {
	return 0, false
}
