//go:build !linux

// Package network holds socket helpers for the bridge's listeners.
package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms where
// the bridge does not tune socket options.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
