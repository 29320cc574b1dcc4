//go:build !(linux || darwin || freebsd)

package tcpserver

import "net"

const reusePortSupported = false

// listenConfig ignores reusePort on platforms without SO_REUSEPORT.
func listenConfig(reusePort bool) net.ListenConfig {
	return net.ListenConfig{}
}
