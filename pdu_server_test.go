package modbus

import (
	"bytes"
	"testing"
)

// fakeBackend implements Backend with canned return values and records
// the arguments of the last register write call, for exercising
// serverEngine directly against the end-to-end scenarios below.
type fakeBackend struct {
	DefaultBackend

	bits []bool
	regs []uint16

	writeRegsAddr   uint16
	writeRegsValues []uint16
}

func (b *fakeBackend) ReadCoils(addr, cnt uint16) ([]bool, error)          { return b.bits, nil }
func (b *fakeBackend) ReadDiscreteInputs(addr, cnt uint16) ([]bool, error) { return b.bits, nil }
func (b *fakeBackend) ReadHoldingRegisters(addr, cnt uint16) ([]uint16, error) {
	return b.regs, nil
}
func (b *fakeBackend) WriteCoils(addr uint16, values []bool) error { return nil }
func (b *fakeBackend) WriteHoldingRegisters(addr uint16, values []uint16) error {
	b.writeRegsAddr = addr
	b.writeRegsValues = append([]uint16(nil), values...)
	return nil
}
func (b *fakeBackend) WriteReadHoldingRegisters(writeAddr uint16, writeValues []uint16, readAddr uint16, readCnt uint16) ([]uint16, error) {
	b.writeRegsAddr = writeAddr
	b.writeRegsValues = append([]uint16(nil), writeValues...)
	return b.regs, nil
}

func TestServerEngineReadCoils(t *testing.T) {
	backend := &fakeBackend{
		bits: []bool{true, false, true, true, false, false, true, true,
			true, true, false, true, false, true, true, false,
			true, false, true},
	}

	req := []byte{fcReadCoils, 0x00, 0x13, 0x00, 0x13}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	want := []byte{0x01, 0x03, 0xcd, 0x6b, 0x05}
	if !bytes.Equal(rsp[:n], want) {
		t.Errorf("response = % x, want % x", rsp[:n], want)
	}
}

func TestServerEngineReadDiscreteInputs(t *testing.T) {
	backend := &fakeBackend{
		bits: []bool{false, false, true, true, false, true, false, true,
			true, true, false, true, true, false, true, true,
			true, false, true, false, true, true},
	}

	req := []byte{fcReadDiscreteInputs, 0x00, 0xc4, 0x00, 0x16}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	want := []byte{0x02, 0x03, 0xac, 0xdb, 0x35}
	if !bytes.Equal(rsp[:n], want) {
		t.Errorf("response = % x, want % x", rsp[:n], want)
	}
}

func TestServerEngineReadHoldingRegisters(t *testing.T) {
	backend := &fakeBackend{regs: []uint16{0x022b, 0x0000, 0x0064}}

	req := []byte{fcReadHoldingRegisters, 0x00, 0x6b, 0x00, 0x03}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	want := []byte{0x03, 0x06, 0x02, 0x2b, 0x00, 0x00, 0x00, 0x64}
	if !bytes.Equal(rsp[:n], want) {
		t.Errorf("response = % x, want % x", rsp[:n], want)
	}
}

func TestServerEngineWriteSingleCoilEcho(t *testing.T) {
	backend := &fakeBackend{}

	req := []byte{fcWriteSingleCoil, 0x00, 0xac, 0xff, 0x00}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	if !bytes.Equal(rsp[:n], req) {
		t.Errorf("response = % x, want echo of request % x", rsp[:n], req)
	}
}

func TestServerEngineMaskWriteRegister(t *testing.T) {
	backend := &fakeBackend{regs: []uint16{0x0012}}

	req := []byte{fcMaskWriteRegister, 0x00, 0x04, 0x00, 0xf2, 0x00, 0x25}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	if !bytes.Equal(rsp[:n], req) {
		t.Errorf("response = % x, want echo of request % x", rsp[:n], req)
	}

	if backend.writeRegsAddr != 0x0004 {
		t.Errorf("write address = %#x, want 0x0004", backend.writeRegsAddr)
	}
	if len(backend.writeRegsValues) != 1 || backend.writeRegsValues[0] != 0x0017 {
		t.Errorf("written value = %#v, want [0x0017]", backend.writeRegsValues)
	}
}

func TestServerEngineReadWriteMultipleRegisters(t *testing.T) {
	backend := &fakeBackend{regs: []uint16{0x00fe, 0x0acd, 0x0001, 0x0003, 0x000d, 0x00ff}}

	req := []byte{
		fcReadWriteMultipleRegisters,
		0x00, 0x03, // read addr
		0x00, 0x06, // read cnt
		0x00, 0x0e, // write addr
		0x00, 0x03, // write cnt
		0x06,                   // write byte count
		0x00, 0xff, 0x00, 0xff, 0x00, 0xff, // write values
	}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	want := []byte{0x17, 0x0c, 0x00, 0xfe, 0x0a, 0xcd, 0x00, 0x01, 0x00, 0x03, 0x00, 0x0d, 0x00, 0xff}
	if !bytes.Equal(rsp[:n], want) {
		t.Errorf("response = % x, want % x", rsp[:n], want)
	}

	if backend.writeRegsAddr != 0x000e {
		t.Errorf("write address = %#x, want 0x000e", backend.writeRegsAddr)
	}
}

func TestServerEngineUnsupportedFunctionCode(t *testing.T) {
	backend := &fakeBackend{}
	req := []byte{0x63, 0x00, 0x00}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine returned an error instead of an exception response: %v", err)
	}
	if n != 2 || rsp[0] != 0x63|fcExceptionMask || rsp[1] != 0x01 {
		t.Errorf("response = % x, want illegal_function exception", rsp[:n])
	}
}

func TestServerEngineTruncatedRequestIsParseError(t *testing.T) {
	backend := &fakeBackend{}
	req := []byte{fcReadHoldingRegisters, 0x00, 0x00, 0x00, 0x01}
	rsp := make([]byte, maxPDUSize)

	// a one-byte PDU is shorter than minPDUSize: serverEngine returns a
	// parse error (which the reactor treats as connection-fatal) instead
	// of an exception response.
	_, err := serverEngine(backend, req[:1], rsp)
	if KindOf(err) != KindParseError {
		t.Fatalf("expected KindParseError for a truncated request, got %v", err)
	}
}

func TestServerEngineReadCoilsQuantityOutOfRange(t *testing.T) {
	backend := &fakeBackend{}

	req := make([]byte, readBitsReqSize)
	store8(req, fcReadCoils)
	store16be(req[1:], 0)
	store16be(req[3:], uint16(maxReadBits+1))
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine returned an error instead of an exception response: %v", err)
	}
	if n != 2 || rsp[1] != KindIllegalDataValue.exceptionCode() {
		t.Errorf("response = % x, want illegal_data_value exception", rsp[:n])
	}
}

func TestServerEngineWriteSingleCoilInvalidValue(t *testing.T) {
	backend := &fakeBackend{}

	req := []byte{fcWriteSingleCoil, 0x00, 0x00, 0x12, 0x34}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine returned an error instead of an exception response: %v", err)
	}
	if n != 2 || rsp[1] != KindIllegalDataValue.exceptionCode() {
		t.Errorf("response = % x, want illegal_data_value exception", rsp[:n])
	}
}

func TestServerEngineReadDeviceIdentification(t *testing.T) {
	backend := &fakeBackend{}
	req := []byte{fcReadDeviceIdentification, meiTypeDeviceIdentification, readDeviceIDCodeBasic, objectIDVendorName}
	rsp := make([]byte, maxPDUSize)

	n, err := serverEngine(backend, req, rsp)
	if err != nil {
		t.Fatalf("serverEngine failed: %v", err)
	}

	info, err := parseReadDeviceIdentificationResponse(rsp[:n])
	if err != nil {
		t.Fatalf("failed to parse device id response: %v", err)
	}
	if info.VendorName != VendorName || info.ProductCode != ProductCode || info.MajorMinorRevision != MajorMinorRevision {
		t.Errorf("unexpected device identification: %+v", info)
	}
}
