package modbus

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

const defaultResponseTimeout = 1 * time.Second

// defaultUnitID is used when the peer is addressed directly over TCP
// and no gateway gets in the way; the Modbus Application Protocol
// specification recommends 0xFF for this case.
const defaultUnitID uint8 = 0xff

// Client is a synchronous, blocking Modbus TCP client. It maintains at
// most one in-flight transaction at a time and is not safe for
// concurrent use by multiple goroutines.
type Client struct {
	fd      int
	unitID  uint8
	timeout time.Duration

	nextTransactionID uint16

	reqBuf [maxADUSize]byte
	rspBuf [maxADUSize]byte
}

// NewClient returns a disconnected Client with the default response
// timeout and unit id.
func NewClient() *Client {
	return &Client{
		fd:      -1,
		unitID:  defaultUnitID,
		timeout: defaultResponseTimeout,
	}
}

// SetResponseTimeout configures how long an operation waits for a
// complete response before failing with KindTimeout.
func (c *Client) SetResponseTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// SetUnitId configures the unit identifier embedded in every request's
// MBAP header, used to address a specific device behind a gateway.
func (c *Client) SetUnitId(id uint8) {
	c.unitID = id
}

// Connected reports whether the client currently holds an open
// connection.
func (c *Client) Connected() bool {
	return c.fd >= 0
}

// ConnectToServer resolves host:service and establishes a TCP
// connection, using a nonblocking connect() so the timeout applies
// uniformly whether the peer is slow to accept or entirely unreachable.
func (c *Client) ConnectToServer(host, service string, ipVersion IPVersion, timeout time.Duration) error {
	if c.Connected() {
		c.Disconnect()
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	endpoints, err := resolveEndpoints(context.Background(), host, service, ipVersion, usageActive)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)

	var lastErr error
	for _, ep := range endpoints {
		fd, err := activeOpen(ep, deadline)
		if err != nil {
			lastErr = err
			continue
		}
		c.fd = fd
		c.nextTransactionID = 0
		return nil
	}

	if lastErr == nil {
		lastErr = NewError(KindActiveOpenError, "no reachable address for %q", host)
	}
	return lastErr
}

// Disconnect closes the underlying socket, if any. Safe to call on an
// already-disconnected client.
func (c *Client) Disconnect() {
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

func (c *Client) checkConnected() error {
	if !c.Connected() {
		return NewError(KindNotConnected, "client is not connected")
	}
	return nil
}

// executeTransaction sends the PDU in c.reqBuf (pduLen bytes, starting
// at offset mbapHeaderSize) and waits for the matching response,
// returning a copy of the response PDU. On any send failure (a send
// timeout included), framing error or connection_closed condition the
// connection is torn down; on a KindTimeout while waiting for the
// response it is left intact so the caller may retry.
func (c *Client) executeTransaction(pduLen int) ([]byte, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	c.nextTransactionID++
	txID := c.nextTransactionID

	header := mbapHeader{
		transactionID: txID,
		protocolID:    0,
		length:        uint16(pduLen + 1),
		unitID:        c.unitID,
	}
	serializeMBAPHeader(c.reqBuf[:mbapHeaderSize], header)

	frame := c.reqBuf[:mbapHeaderSize+pduLen]
	deadline := time.Now().Add(c.timeout)

	if err := c.writeAll(frame, deadline); err != nil {
		c.Disconnect()
		return nil, err
	}

	rsp, err := c.readResponse(header, deadline)
	if err != nil {
		if KindOf(err) != KindTimeout {
			c.Disconnect()
		}
		return nil, err
	}

	return rsp, nil
}

func (c *Client) writeAll(buf []byte, deadline time.Time) error {
	for len(buf) > 0 {
		if err := c.waitReady(unix.POLLOUT, deadline); err != nil {
			return err
		}
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				return NewError(KindConnectionClosed, "write: %v", err)
			}
			return wrapSystemError("write", err)
		}
		buf = buf[n:]
	}
	return nil
}

// readResponse reads a full MBAP frame, validates it against the
// request header (transaction id, unit id echo), and returns the PDU
// slice.
func (c *Client) readResponse(reqHeader mbapHeader, deadline time.Time) ([]byte, error) {
	total := 0
	var rspHeader mbapHeader
	headerParsed := false

	for {
		var left int
		if total < mbapHeaderSize {
			left = mbapHeaderSize - total
		} else {
			if !headerParsed {
				h, err := parseMBAPHeader(c.rspBuf[:total])
				if err != nil {
					return nil, err
				}
				rspHeader = h
				headerParsed = true
			}
			left = rspHeader.aduSize() - total
			if left == 0 {
				break
			}
		}

		if err := c.waitReady(unix.POLLIN, deadline); err != nil {
			return nil, err
		}

		n, err := unix.Read(c.fd, c.rspBuf[total:total+left])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				return nil, NewError(KindConnectionClosed, "read: %v", err)
			}
			return nil, wrapSystemError("read", err)
		}
		if n == 0 {
			return nil, NewError(KindConnectionClosed, "peer closed the connection")
		}
		total += n
	}

	if rspHeader.transactionID != reqHeader.transactionID {
		return nil, NewError(KindParseError, "response transaction id %d does not match request %d", rspHeader.transactionID, reqHeader.transactionID)
	}
	if rspHeader.unitID != reqHeader.unitID {
		return nil, NewError(KindParseError, "response unit id %d does not match request %d", rspHeader.unitID, reqHeader.unitID)
	}

	pdu := append([]byte(nil), c.rspBuf[mbapHeaderSize:rspHeader.aduSize()]...)
	return pdu, nil
}

// waitReady blocks until fd is ready for the given poll event or
// deadline passes, in which case it returns a KindTimeout error.
func (c *Client) waitReady(events int16, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return NewError(KindTimeout, "response timeout exceeded")
		}

		fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return wrapSystemError("poll", err)
		}
		if n == 0 {
			return NewError(KindTimeout, "response timeout exceeded")
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 && fds[0].Revents&events == 0 {
			return NewError(KindConnectionClosed, "peer closed the connection")
		}
		return nil
	}
}

// activeOpen connects to ep before deadline, using a nonblocking
// connect()/poll(POLLOUT)/getsockopt(SO_ERROR) sequence so a
// unreachable-but-not-immediately-refused peer is still bounded by the
// caller's timeout.
func activeOpen(ep endpoint, deadline time.Time) (int, error) {
	fd, err := unix.Socket(ep.family, ep.sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, ep.protocol)
	if err != nil {
		return -1, wrapSystemError("socket", err)
	}

	err = unix.Connect(fd, ep.sockAddr)
	if err == nil {
		if e := setTCPNoDelay(fd); e != nil {
			unix.Close(fd)
			return -1, e
		}
		return fd, nil
	}
	if err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, wrapSystemError("connect", err)
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			unix.Close(fd)
			return -1, NewError(KindTimeout, "connect to %s timed out", formatHostPort(ep.host, ep.port))
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			unix.Close(fd)
			return -1, wrapSystemError("poll", err)
		}
		if n == 0 {
			unix.Close(fd)
			return -1, NewError(KindTimeout, "connect to %s timed out", formatHostPort(ep.host, ep.port))
		}
		break
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(fd)
		return -1, wrapSystemError("getsockopt SO_ERROR", err)
	}
	if soErr != 0 {
		unix.Close(fd)
		return -1, NewError(KindActiveOpenError, "connect to %s: %v", formatHostPort(ep.host, ep.port), unix.Errno(soErr))
	}

	if err := setTCPNoDelay(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// ReadCoils reads cnt coils starting at addr (function code 0x01).
func (c *Client) ReadCoils(addr, cnt uint16) ([]bool, error) {
	n, err := serializeReadBitsRequest(c.reqBuf[mbapHeaderSize:], fcReadCoils, addr, cnt)
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadBitsResponse(rsp, fcReadCoils, cnt)
}

// ReadDiscreteInputs reads cnt discrete inputs starting at addr
// (function code 0x02).
func (c *Client) ReadDiscreteInputs(addr, cnt uint16) ([]bool, error) {
	n, err := serializeReadBitsRequest(c.reqBuf[mbapHeaderSize:], fcReadDiscreteInputs, addr, cnt)
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadBitsResponse(rsp, fcReadDiscreteInputs, cnt)
}

// ReadHoldingRegisters reads cnt holding registers starting at addr
// (function code 0x03).
func (c *Client) ReadHoldingRegisters(addr, cnt uint16) ([]uint16, error) {
	n, err := serializeReadRegistersRequest(c.reqBuf[mbapHeaderSize:], fcReadHoldingRegisters, addr, cnt)
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadRegistersResponse(rsp, fcReadHoldingRegisters, cnt)
}

// ReadInputRegisters reads cnt input registers starting at addr
// (function code 0x04).
func (c *Client) ReadInputRegisters(addr, cnt uint16) ([]uint16, error) {
	n, err := serializeReadRegistersRequest(c.reqBuf[mbapHeaderSize:], fcReadInputRegisters, addr, cnt)
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadRegistersResponse(rsp, fcReadInputRegisters, cnt)
}

// WriteSingleCoil writes a single coil (function code 0x05).
func (c *Client) WriteSingleCoil(addr uint16, on bool) error {
	n, err := serializeWriteSingleCoilRequest(c.reqBuf[mbapHeaderSize:], addr, on)
	if err != nil {
		return err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return err
	}
	return parseWriteSingleCoilResponse(rsp, addr, on)
}

// WriteSingleRegister writes a single holding register (function code
// 0x06).
func (c *Client) WriteSingleRegister(addr, value uint16) error {
	n, err := serializeWriteSingleRegisterRequest(c.reqBuf[mbapHeaderSize:], addr, value)
	if err != nil {
		return err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return err
	}
	return parseWriteSingleRegisterResponse(rsp, addr, value)
}

// WriteMultipleCoils writes a run of coils starting at addr (function
// code 0x0F).
func (c *Client) WriteMultipleCoils(addr uint16, values []bool) error {
	n, err := serializeWriteMultipleCoilsRequest(c.reqBuf[mbapHeaderSize:], addr, values)
	if err != nil {
		return err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return err
	}
	return parseWriteMultipleCoilsResponse(rsp, addr, len(values))
}

// WriteMultipleRegisters writes a run of holding registers starting at
// addr (function code 0x10).
func (c *Client) WriteMultipleRegisters(addr uint16, values []uint16) error {
	n, err := serializeWriteMultipleRegistersRequest(c.reqBuf[mbapHeaderSize:], addr, values)
	if err != nil {
		return err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return err
	}
	return parseWriteMultipleRegistersResponse(rsp, addr, len(values))
}

// MaskWriteRegister applies (current & andMask) | (orMask &^ andMask)
// to the register at addr, atomically on the server (function code
// 0x16). The masking arithmetic happens on the server; this client
// only serializes the request and validates the echo.
func (c *Client) MaskWriteRegister(addr, andMask, orMask uint16) error {
	n, err := serializeMaskWriteRegisterRequest(c.reqBuf[mbapHeaderSize:], addr, andMask, orMask)
	if err != nil {
		return err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return err
	}
	return parseMaskWriteRegisterResponse(rsp, addr, andMask, orMask)
}

// ReadWriteMultipleRegisters writes writeValues starting at writeAddr,
// then reads readCnt registers starting at readAddr, atomically on the
// server with the write occurring first (function code 0x17).
func (c *Client) ReadWriteMultipleRegisters(readAddr, readCnt, writeAddr uint16, writeValues []uint16) ([]uint16, error) {
	n, err := serializeReadWriteMultipleRegistersRequest(c.reqBuf[mbapHeaderSize:], readAddr, readCnt, writeAddr, writeValues)
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadWriteMultipleRegistersResponse(rsp, readCnt)
}

// ReadDeviceIdentification retrieves the three Basic-conformance
// objects (function code 0x2B / MEI 0x0E).
func (c *Client) ReadDeviceIdentification() (*DeviceIdentification, error) {
	n, err := serializeReadDeviceIdentificationRequest(c.reqBuf[mbapHeaderSize:])
	if err != nil {
		return nil, err
	}
	rsp, err := c.executeTransaction(n)
	if err != nil {
		return nil, err
	}
	return parseReadDeviceIdentificationResponse(rsp)
}
