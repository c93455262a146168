package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	modbus "github.com/mboxid/modbus-go"
)

// run this with go run ./cmd/mbtcp-server
func main() {
	var host string
	var service string
	var idleTimeout time.Duration
	var reqTimeout time.Duration

	flag.StringVar(&host, "host", "", "address to listen on (empty binds all interfaces)")
	flag.StringVar(&service, "port", "5502", "TCP port or service name to listen on")
	flag.DurationVar(&idleTimeout, "idle-timeout", 60*time.Second, "close a connection after this long without a completed request")
	flag.DurationVar(&reqTimeout, "request-timeout", 5*time.Second, "close a connection that leaves a request half-assembled this long")
	flag.Parse()

	backend := &demoBackend{}

	srv := modbus.NewServer()
	srv.SetLogger(modbus.NewLogger("mbtcp-server", nil))
	srv.SetBackend(backend)
	srv.SetServerAddr(host, service, modbus.IPAny)
	srv.SetIdleTimeout(idleTimeout)
	srv.SetRequestCompleteTimeout(reqTimeout)

	fmt.Printf("listening on %s:%s\n", host, service)
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		os.Exit(1)
	}
}

// demoBackend exposes 100 read/write coils and a handful of holding
// registers, one of which (200) ticks up once a second, for exercising
// the reactor against a real client.
type demoBackend struct {
	modbus.DefaultBackend

	mu     sync.Mutex
	coils  [100]bool
	regs   [10]uint16
	uptime uint16
}

func (b *demoBackend) Ticker() {
	b.mu.Lock()
	b.uptime++
	b.mu.Unlock()
}

func (b *demoBackend) ReadCoils(addr, cnt uint16) ([]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(addr)+int(cnt) > len(b.coils) {
		return nil, modbus.NewError(modbus.KindIllegalDataAddress, "coil address out of range")
	}
	out := make([]bool, cnt)
	copy(out, b.coils[addr:int(addr)+int(cnt)])
	return out, nil
}

func (b *demoBackend) WriteCoils(addr uint16, values []bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(addr)+len(values) > len(b.coils) {
		return modbus.NewError(modbus.KindIllegalDataAddress, "coil address out of range")
	}
	copy(b.coils[addr:], values)
	return nil
}

func (b *demoBackend) ReadHoldingRegisters(addr, cnt uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]uint16, cnt)
	for i := range out {
		regAddr := int(addr) + i
		switch {
		case regAddr == 200:
			out[i] = b.uptime
		case regAddr < len(b.regs):
			out[i] = b.regs[regAddr]
		default:
			return nil, modbus.NewError(modbus.KindIllegalDataAddress, "register address out of range")
		}
	}
	return out, nil
}

func (b *demoBackend) WriteHoldingRegisters(addr uint16, values []uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(addr)+len(values) > len(b.regs) {
		return modbus.NewError(modbus.KindIllegalDataAddress, "register address out of range")
	}
	copy(b.regs[addr:], values)
	return nil
}
