package modbus

import (
	"context"
	"testing"
)

func TestResolveEndpointsLoopback(t *testing.T) {
	eps, err := resolveEndpoints(context.Background(), "127.0.0.1", "502", IPv4, usageActive)
	if err != nil {
		t.Fatalf("resolveEndpoints failed: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("got %d endpoints, want 1", len(eps))
	}
	if eps[0].port != 502 {
		t.Errorf("port = %d, want 502", eps[0].port)
	}
	if eps[0].host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", eps[0].host)
	}
}

func TestResolveServiceNumeric(t *testing.T) {
	port, err := resolveService("1502")
	if err != nil {
		t.Fatalf("resolveService failed: %v", err)
	}
	if port != 1502 {
		t.Errorf("port = %d, want 1502", port)
	}
}

func TestResolveServiceDefault(t *testing.T) {
	port, err := resolveService("")
	if err != nil {
		t.Fatalf("resolveService failed: %v", err)
	}
	if port != defaultPort {
		t.Errorf("port = %d, want %d", port, defaultPort)
	}
}

func TestHostOrWildcard(t *testing.T) {
	if got := hostOrWildcard("", IPv4); got != "0.0.0.0" {
		t.Errorf("hostOrWildcard(\"\", IPv4) = %q, want 0.0.0.0", got)
	}
	if got := hostOrWildcard("", IPv6); got != "::" {
		t.Errorf("hostOrWildcard(\"\", IPv6) = %q, want ::", got)
	}
	if got := hostOrWildcard("10.0.0.1", IPv4); got != "10.0.0.1" {
		t.Errorf("hostOrWildcard should pass through an explicit host, got %q", got)
	}
}
