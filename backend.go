package modbus

// ClientID uniquely identifies an accepted server connection for the
// lifetime of that connection. See deriveClientID for how it is
// constructed.
type ClientID uint64

// Backend is the capability interface the server reactor calls into
// to service requests. It is invoked exclusively from the reactor
// goroutine (see Server.Run) and must not block indefinitely: a
// blocking backend call stalls the entire server.
//
// Every data-access method returns either a success value, a Modbus
// exception Kind (transmitted back to the peer as an exception
// response), or any other error (which causes the reactor to drop the
// connection; see the error handling design).
//
// DefaultBackend implements every method, each data-access method
// returning KindIllegalFunction, so implementers can embed it and only
// override what they actually support.
type Backend interface {
	// Authorize is called once per accepted connection, before any
	// request is read. Returning false drops the connection
	// immediately. rawAddr carries the raw socket address bytes
	// (its length gives the address length) so a backend can apply
	// CIDR-style checks beyond the
	// textual peer address.
	Authorize(id ClientID, peerAddr string, rawAddr []byte) bool

	// Disconnect notifies the backend that a connection has closed
	// (EOF, error, explicit close, or a timeout). Advisory only.
	Disconnect(id ClientID)

	// Alive notifies the backend that a full request was received
	// from id. Advisory only.
	Alive(id ClientID)

	// Ticker is invoked roughly once per second, independent of
	// socket activity.
	Ticker()

	ReadCoils(addr uint16, cnt uint16) ([]bool, error)
	ReadDiscreteInputs(addr uint16, cnt uint16) ([]bool, error)
	ReadHoldingRegisters(addr uint16, cnt uint16) ([]uint16, error)
	ReadInputRegisters(addr uint16, cnt uint16) ([]uint16, error)

	WriteCoils(addr uint16, values []bool) error
	WriteHoldingRegisters(addr uint16, values []uint16) error

	// WriteReadHoldingRegisters performs the write before the read,
	// atomically, per function code 0x17.
	WriteReadHoldingRegisters(writeAddr uint16, writeValues []uint16, readAddr uint16, readCnt uint16) ([]uint16, error)

	// GetBasicDeviceIdentification returns the three Basic-conformance
	// objects for function code 0x2B/0x0E.
	GetBasicDeviceIdentification() (vendor, product, version string, err error)
}

// DefaultBackend implements Backend with every data-access method
// returning KindIllegalFunction, Authorize accepting unconditionally,
// and the device identification defaulting to this library's own
// identity strings. Embed it in an application backend to override
// only the methods actually supported.
type DefaultBackend struct{}

func (DefaultBackend) Authorize(ClientID, string, []byte) bool { return true }
func (DefaultBackend) Disconnect(ClientID)                     {}
func (DefaultBackend) Alive(ClientID)                          {}
func (DefaultBackend) Ticker()                                 {}

func (DefaultBackend) ReadCoils(uint16, uint16) ([]bool, error) {
	return nil, NewError(KindIllegalFunction, "ReadCoils not implemented")
}

func (DefaultBackend) ReadDiscreteInputs(uint16, uint16) ([]bool, error) {
	return nil, NewError(KindIllegalFunction, "ReadDiscreteInputs not implemented")
}

func (DefaultBackend) ReadHoldingRegisters(uint16, uint16) ([]uint16, error) {
	return nil, NewError(KindIllegalFunction, "ReadHoldingRegisters not implemented")
}

func (DefaultBackend) ReadInputRegisters(uint16, uint16) ([]uint16, error) {
	return nil, NewError(KindIllegalFunction, "ReadInputRegisters not implemented")
}

func (DefaultBackend) WriteCoils(uint16, []bool) error {
	return NewError(KindIllegalFunction, "WriteCoils not implemented")
}

func (DefaultBackend) WriteHoldingRegisters(uint16, []uint16) error {
	return NewError(KindIllegalFunction, "WriteHoldingRegisters not implemented")
}

func (DefaultBackend) WriteReadHoldingRegisters(uint16, []uint16, uint16, uint16) ([]uint16, error) {
	return nil, NewError(KindIllegalFunction, "WriteReadHoldingRegisters not implemented")
}

func (DefaultBackend) GetBasicDeviceIdentification() (string, string, string, error) {
	return VendorName, ProductCode, MajorMinorRevision, nil
}
