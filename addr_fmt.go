package modbus

import (
	"net"
	"strconv"
)

// ipString renders raw IPv4 or IPv6 address bytes in their standard
// textual form.
func ipString(raw []byte) string {
	return net.IP(raw).String()
}

// formatHostPort joins host and port the way net.JoinHostPort does,
// bracketing IPv6 literals.
func formatHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
