package modbus

import (
	"bytes"
	"testing"
)

func TestSerializeParseReadBitsRoundTrip(t *testing.T) {
	buf := make([]byte, maxPDUSize)
	n, err := serializeReadBitsRequest(buf, fcReadCoils, 0x0013, 0x0013)
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	want := []byte{fcReadCoils, 0x00, 0x13, 0x00, 0x13}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("request = % x, want % x", buf[:n], want)
	}

	rsp := []byte{0x01, 0x03, 0xcd, 0x6b, 0x05}
	bits, err := parseReadBitsResponse(rsp, fcReadCoils, 0x13)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(bits) != 19 {
		t.Fatalf("got %d bits, want 19", len(bits))
	}
}

func TestReadBitsRequestQuantityOutOfRange(t *testing.T) {
	buf := make([]byte, maxPDUSize)
	if _, err := serializeReadBitsRequest(buf, fcReadCoils, 0, maxReadBits+1); KindOf(err) != KindInvalidArgument {
		t.Fatalf("expected KindInvalidArgument, got %v", err)
	}
	if _, err := serializeReadBitsRequest(buf, fcReadCoils, 0, minReadBits); err != nil {
		t.Errorf("min quantity should be accepted, got %v", err)
	}
	if _, err := serializeReadBitsRequest(buf, fcReadCoils, 0, maxReadBits); err != nil {
		t.Errorf("max quantity should be accepted, got %v", err)
	}
}

func TestParseWriteSingleCoilResponseEcho(t *testing.T) {
	rsp := []byte{fcWriteSingleCoil, 0x00, 0xac, 0xff, 0x00}
	if err := parseWriteSingleCoilResponse(rsp, 0x00ac, true); err != nil {
		t.Errorf("expected valid echo to succeed, got %v", err)
	}
	if err := parseWriteSingleCoilResponse(rsp, 0x00ac, false); KindOf(err) != KindParseError {
		t.Errorf("expected echo mismatch to fail with KindParseError, got %v", err)
	}
}

func TestCheckForExceptionRoundTrip(t *testing.T) {
	rsp := []byte{fcReadHoldingRegisters | fcExceptionMask, 0x02}
	isExc, err := checkForException(rsp, fcReadHoldingRegisters)
	if !isExc {
		t.Fatal("expected an exception shape to be recognized")
	}
	if KindOf(err) != KindIllegalDataAddress {
		t.Errorf("expected KindIllegalDataAddress, got %v", err)
	}
}

func TestCheckForExceptionBadFunctionCodeEcho(t *testing.T) {
	rsp := []byte{fcReadHoldingRegisters | fcExceptionMask, 0x02}
	isExc, err := checkForException(rsp, fcReadInputRegisters)
	if !isExc {
		t.Fatal("expected an exception shape to be recognized regardless of the echo mismatch")
	}
	if KindOf(err) != KindParseError {
		t.Errorf("expected KindParseError for a function code mismatch, got %v", err)
	}
}

func TestCheckForExceptionUnknownCode(t *testing.T) {
	rsp := []byte{fcReadHoldingRegisters | fcExceptionMask, 0xf0}
	isExc, err := checkForException(rsp, fcReadHoldingRegisters)
	if !isExc {
		t.Fatal("expected an exception shape to be recognized")
	}
	if KindOf(err) != KindParseError {
		t.Errorf("expected KindParseError for an unrecognized exception code, got %v", err)
	}
}

func TestSerializeParseMaskWriteRegister(t *testing.T) {
	buf := make([]byte, maxPDUSize)
	n, err := serializeMaskWriteRegisterRequest(buf, 0x0004, 0x00f2, 0x0025)
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	want := []byte{fcMaskWriteRegister, 0x00, 0x04, 0x00, 0xf2, 0x00, 0x25}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("request = % x, want % x", buf[:n], want)
	}

	if err := parseMaskWriteRegisterResponse(want, 0x0004, 0x00f2, 0x0025); err != nil {
		t.Errorf("expected matching echo to succeed, got %v", err)
	}
	if err := parseMaskWriteRegisterResponse(want, 0x0004, 0x00f2, 0x0026); KindOf(err) != KindParseError {
		t.Errorf("expected mismatched echo to fail, got %v", err)
	}
}

func TestSerializeParseReadWriteMultipleRegisters(t *testing.T) {
	buf := make([]byte, maxPDUSize)
	n, err := serializeReadWriteMultipleRegistersRequest(buf, 0x0003, 0x0006, 0x000e, []uint16{0x00ff, 0x00ff, 0x00ff})
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	want := []byte{
		fcReadWriteMultipleRegisters,
		0x00, 0x03,
		0x00, 0x06,
		0x00, 0x0e,
		0x00, 0x03,
		0x06,
		0x00, 0xff, 0x00, 0xff, 0x00, 0xff,
	}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("request = % x, want % x", buf[:n], want)
	}

	rsp := []byte{0x17, 0x0c, 0x00, 0xfe, 0x0a, 0xcd, 0x00, 0x01, 0x00, 0x03, 0x00, 0x0d, 0x00, 0xff}
	regs, err := parseReadWriteMultipleRegistersResponse(rsp, 6)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wantRegs := []uint16{0x00fe, 0x0acd, 0x0001, 0x0003, 0x000d, 0x00ff}
	for i, v := range wantRegs {
		if regs[i] != v {
			t.Errorf("reg %d = %#x, want %#x", i, regs[i], v)
		}
	}
}

func TestParseReadDeviceIdentificationResponse(t *testing.T) {
	rsp := []byte{
		fcReadDeviceIdentification, meiTypeDeviceIdentification, readDeviceIDCodeBasic,
		0x01,       // conformity level
		0x00,       // more follows
		0x00,       // next object id
		0x03,       // number of objects
		0x00, 0x06, 'm', 'b', 'o', 'x', 'i', 'd',
		0x01, 0x09, 'm', 'o', 'd', 'b', 'u', 's', '-', 'g', 'o',
		0x02, 0x03, '1', '.', '0',
	}
	info, err := parseReadDeviceIdentificationResponse(rsp)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if info.VendorName != "mboxid" || info.ProductCode != "modbus-go" || info.MajorMinorRevision != "1.0" {
		t.Errorf("unexpected identification: %+v", info)
	}
}

func TestParseReadDeviceIdentificationMoreFollows(t *testing.T) {
	rsp := []byte{
		fcReadDeviceIdentification, meiTypeDeviceIdentification, readDeviceIDCodeBasic,
		0x01, 0xff, 0x03, 0x03,
		0x00, 0x01, 'x',
		0x01, 0x01, 'y',
		0x02, 0x01, 'z',
	}
	if _, err := parseReadDeviceIdentificationResponse(rsp); KindOf(err) != KindParseError {
		t.Errorf("expected KindParseError when more-follows is set, got %v", err)
	}
}
