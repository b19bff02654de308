//go:build !linux

package receiver

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
