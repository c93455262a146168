package modbus

import (
	"errors"
	"fmt"
)

// errConnEOF signals that a peer closed its write side (read returned
// zero bytes) while the reactor was assembling a request. It is never
// returned to a caller of the public API; the reactor translates it
// into a silent connection close.
var errConnEOF = errors.New("modbus: connection closed by peer")

// Kind classifies an error into one of the categories described by the
// error handling design: Modbus protocol exceptions (round-trip over
// the wire), native transport/logic errors, or a wrapped system error.
type Kind uint8

const (
	KindNone Kind = iota

	// Modbus protocol exceptions. These are generated by a server
	// backend, serialized onto the wire, and re-raised by the client
	// as the operation's failure.
	KindIllegalFunction
	KindIllegalDataAddress
	KindIllegalDataValue
	KindServerDeviceFailure
	KindAcknowledge
	KindServerDeviceBusy
	KindNegativeAcknowledge
	KindMemoryParity
	KindGatewayPath
	KindGatewayTarget

	// Native transport/logic errors.
	KindInvalidArgument
	KindLogicError
	KindResolveError
	KindPassiveOpenError
	KindActiveOpenError
	KindParseError
	KindTimeout
	KindNotConnected
	KindConnectionClosed

	// A raw platform error occurred that isn't otherwise categorized.
	KindSystemError
)

var kindNames = map[Kind]string{
	KindNone:                "none",
	KindIllegalFunction:     "illegal function",
	KindIllegalDataAddress:  "illegal data address",
	KindIllegalDataValue:    "illegal data value",
	KindServerDeviceFailure: "server device failure",
	KindAcknowledge:         "acknowledge",
	KindServerDeviceBusy:    "server device busy",
	KindNegativeAcknowledge: "negative acknowledge",
	KindMemoryParity:        "memory parity error",
	KindGatewayPath:         "gateway path unavailable",
	KindGatewayTarget:       "gateway target device failed to respond",
	KindInvalidArgument:     "invalid argument",
	KindLogicError:          "logic error",
	KindResolveError:        "address resolution failed",
	KindPassiveOpenError:    "passive open error",
	KindActiveOpenError:     "active open error",
	KindParseError:          "parse error",
	KindTimeout:             "timeout",
	KindNotConnected:        "not connected",
	KindConnectionClosed:    "connection closed",
	KindSystemError:         "system error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error kind"
}

// IsModbusException reports whether k is one of the Modbus protocol
// exception kinds (as opposed to a native transport/logic error, or a
// system error). Server-side, this decides whether a backend failure
// is serialized as an exception response or aborts the connection.
// Client-side, it validates that a received exception byte is a
// recognized code.
func (k Kind) IsModbusException() bool {
	return k > KindNone && k < KindInvalidArgument
}

// exceptionCodeByKind maps a Modbus exception Kind to its 1-byte wire code.
var exceptionCodeByKind = map[Kind]uint8{
	KindIllegalFunction:     0x01,
	KindIllegalDataAddress:  0x02,
	KindIllegalDataValue:    0x03,
	KindServerDeviceFailure: 0x04,
	KindAcknowledge:         0x05,
	KindServerDeviceBusy:    0x06,
	KindNegativeAcknowledge: 0x07,
	KindMemoryParity:        0x08,
	KindGatewayPath:         0x0a,
	KindGatewayTarget:       0x0b,
}

var kindByExceptionCode = func() map[uint8]Kind {
	m := make(map[uint8]Kind, len(exceptionCodeByKind))
	for k, c := range exceptionCodeByKind {
		m[c] = k
	}
	return m
}()

// exceptionCode returns the wire-level exception byte for a Modbus
// exception kind. Panics if k is not a Modbus exception kind: callers
// must check IsModbusException first.
func (k Kind) exceptionCode() uint8 {
	c, ok := exceptionCodeByKind[k]
	if !ok {
		panic(fmt.Sprintf("modbus: %v is not a modbus exception kind", k))
	}
	return c
}

// kindFromExceptionCode looks up the Kind for a wire-level exception
// byte. The second return value is false for unrecognized codes.
func kindFromExceptionCode(code uint8) (Kind, bool) {
	k, ok := kindByExceptionCode[code]
	return k, ok
}

// Error is the error type returned throughout this package. It
// carries a classifying Kind plus a contextual message, and optionally
// wraps the underlying cause (a raw syscall/OS error).
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap returns the underlying cause, if any, so that errors.Is and
// errors.As can see through an *Error built by wrapSystemError.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so that
// callers can write errors.Is(err, modbus.NewError(modbus.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an *Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// wrapSystemError turns a raw syscall/OS error into an *Error of kind
// KindSystemError, preserving the original error as the cause so
// errors.Unwrap keeps working.
func wrapSystemError(op string, err error) *Error {
	return &Error{Kind: KindSystemError, msg: fmt.Sprintf("%s: %v", op, err), cause: err}
}

// IsModbusException is a package-level convenience wrapping
// err's Kind, returning false for nil or non-*Error values.
func IsModbusException(err error) bool {
	var e *Error
	if err == nil {
		return false
	}
	if ee, ok := err.(*Error); ok {
		e = ee
	} else {
		return false
	}
	return e.Kind.IsModbusException()
}

// KindOf extracts the Kind carried by err, or KindNone if err is nil
// or not one of our *Error values.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindNone
}
