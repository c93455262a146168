package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	modbus "github.com/mboxid/modbus-go"
)

// run this with go run ./cmd/mbtcp-client -target localhost:5502 rc:0:8
func main() {
	var target string
	var timeout time.Duration
	var unitID uint

	flag.StringVar(&target, "target", "localhost:502", "host:port of the server to connect to")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "connect and response timeout")
	flag.UintVar(&unitID, "unit-id", 0xff, "unit id to address")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mbtcp-client [flags] <op>")
		fmt.Fprintln(os.Stderr, "  ops: rc:<addr>:<cnt>  rhr:<addr>:<cnt>  wsc:<addr>:<0|1>  wsr:<addr>:<value>  id")
		os.Exit(2)
	}

	host, service, err := splitHostPort(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid target: %v\n", err)
		os.Exit(2)
	}

	client := modbus.NewClient()
	client.SetResponseTimeout(timeout)
	client.SetUnitId(uint8(unitID))

	if err := client.ConnectToServer(host, service, modbus.IPAny, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	if err := runOp(client, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "operation failed: %v\n", err)
		os.Exit(1)
	}
}

func splitHostPort(target string) (host, service string, err error) {
	idx := strings.LastIndex(target, ":")
	if idx < 0 {
		return target, "502", nil
	}
	return target[:idx], target[idx+1:], nil
}

func runOp(client *modbus.Client, op string) error {
	fields := strings.Split(op, ":")

	switch fields[0] {
	case "rc":
		addr, cnt, err := parseAddrCnt(fields)
		if err != nil {
			return err
		}
		vals, err := client.ReadCoils(addr, cnt)
		if err != nil {
			return err
		}
		fmt.Println(vals)

	case "rhr":
		addr, cnt, err := parseAddrCnt(fields)
		if err != nil {
			return err
		}
		vals, err := client.ReadHoldingRegisters(addr, cnt)
		if err != nil {
			return err
		}
		fmt.Println(vals)

	case "wsc":
		if len(fields) != 3 {
			return fmt.Errorf("usage: wsc:<addr>:<0|1>")
		}
		addr, err := parseUint16(fields[1])
		if err != nil {
			return err
		}
		on := fields[2] == "1"
		return client.WriteSingleCoil(addr, on)

	case "wsr":
		if len(fields) != 3 {
			return fmt.Errorf("usage: wsr:<addr>:<value>")
		}
		addr, err := parseUint16(fields[1])
		if err != nil {
			return err
		}
		val, err := parseUint16(fields[2])
		if err != nil {
			return err
		}
		return client.WriteSingleRegister(addr, val)

	case "id":
		info, err := client.ReadDeviceIdentification()
		if err != nil {
			return err
		}
		fmt.Printf("vendor=%q product=%q version=%q\n", info.VendorName, info.ProductCode, info.MajorMinorRevision)

	default:
		return fmt.Errorf("unknown op %q", fields[0])
	}

	return nil
}

func parseAddrCnt(fields []string) (addr, cnt uint16, err error) {
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("usage: %s:<addr>:<cnt>", fields[0])
	}
	addr, err = parseUint16(fields[1])
	if err != nil {
		return 0, 0, err
	}
	cnt, err = parseUint16(fields[2])
	if err != nil {
		return 0, 0, err
	}
	return addr, cnt, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %v", s, err)
	}
	return uint16(v), nil
}
