package modbus

import (
	"bytes"
	"context"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// IPVersion constrains address resolution to a particular IP family.
type IPVersion int

const (
	IPAny IPVersion = iota
	IPv4
	IPv6
)

// endpointUsage tags an endpoint as intended for a passive (listening)
// or active (connecting) open, mirroring AI_PASSIVE semantics.
type endpointUsage int

const (
	usageActive endpointUsage = iota
	usagePassive
)

// endpoint is a resolved socket address ready to be handed to
// socket/bind/connect: an address family, socket type, protocol and
// raw address bytes.
type endpoint struct {
	family   int
	sockType int
	protocol int
	sockAddr unix.Sockaddr
	rawAddr  []byte // raw address bytes, used for deduplication and hashing
	host     string
	port     int
}

// resolveEndpoints resolves host:service into an ordered,
// byte-deduplicated list of endpoints. Resolution can yield duplicate
// addresses (e.g. a resolver returning the same A record twice); those
// are collapsed while preserving the order of first appearance.
func resolveEndpoints(ctx context.Context, host, service string, ipVersion IPVersion, usage endpointUsage) ([]endpoint, error) {
	network := "tcp"
	switch ipVersion {
	case IPv4:
		network = "tcp4"
	case IPv6:
		network = "tcp6"
	}

	if host == "" && usage == usagePassive {
		// passive open with no host binds all interfaces
		host = ""
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostOrWildcard(host, ipVersion))
	if err != nil {
		return nil, NewError(KindResolveError, "resolve %q: %v", host, err)
	}

	port, err := resolveService(service)
	if err != nil {
		return nil, err
	}

	var eps []endpoint
	var seen [][]byte

	for _, addr := range addrs {
		ip := addr.IP
		if network == "tcp4" && ip.To4() == nil {
			continue
		}
		if network == "tcp6" && ip.To4() != nil {
			continue
		}

		var ep endpoint
		if v4 := ip.To4(); v4 != nil {
			ep.family = unix.AF_INET
			sa := &unix.SockaddrInet4{Port: port}
			copy(sa.Addr[:], v4)
			ep.sockAddr = sa
			ep.rawAddr = append([]byte(nil), v4...)
		} else {
			ep.family = unix.AF_INET6
			sa := &unix.SockaddrInet6{Port: port}
			copy(sa.Addr[:], ip.To16())
			ep.sockAddr = sa
			ep.rawAddr = append([]byte(nil), ip.To16()...)
		}
		ep.sockType = unix.SOCK_STREAM
		ep.protocol = unix.IPPROTO_TCP
		ep.host = ip.String()
		ep.port = port

		dup := false
		for _, s := range seen {
			if bytes.Equal(s, ep.rawAddr) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen = append(seen, ep.rawAddr)
		eps = append(eps, ep)
	}

	if len(eps) == 0 {
		return nil, NewError(KindResolveError, "no addresses found for %q", host)
	}

	return eps, nil
}

func hostOrWildcard(host string, ipVersion IPVersion) string {
	if host != "" {
		return host
	}
	if ipVersion == IPv6 {
		return "::"
	}
	return "0.0.0.0"
}

func resolveService(service string) (int, error) {
	if service == "" {
		return defaultPort, nil
	}
	if p, err := strconv.Atoi(service); err == nil {
		return p, nil
	}
	p, err := net.DefaultResolver.LookupPort(context.Background(), "tcp", service)
	if err != nil {
		return 0, NewError(KindResolveError, "resolve service %q: %v", service, err)
	}
	return p, nil
}

const (
	defaultPort       = 502
	secureDefaultPort = 802 // reserved for TLS; not implemented
)
