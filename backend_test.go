package modbus

import "testing"

func TestDefaultBackendReturnsIllegalFunction(t *testing.T) {
	var b DefaultBackend

	if _, err := b.ReadCoils(0, 1); KindOf(err) != KindIllegalFunction {
		t.Errorf("ReadCoils: got %v, want KindIllegalFunction", err)
	}
	if _, err := b.ReadDiscreteInputs(0, 1); KindOf(err) != KindIllegalFunction {
		t.Errorf("ReadDiscreteInputs: got %v, want KindIllegalFunction", err)
	}
	if _, err := b.ReadHoldingRegisters(0, 1); KindOf(err) != KindIllegalFunction {
		t.Errorf("ReadHoldingRegisters: got %v, want KindIllegalFunction", err)
	}
	if _, err := b.ReadInputRegisters(0, 1); KindOf(err) != KindIllegalFunction {
		t.Errorf("ReadInputRegisters: got %v, want KindIllegalFunction", err)
	}
	if err := b.WriteCoils(0, []bool{true}); KindOf(err) != KindIllegalFunction {
		t.Errorf("WriteCoils: got %v, want KindIllegalFunction", err)
	}
	if err := b.WriteHoldingRegisters(0, []uint16{1}); KindOf(err) != KindIllegalFunction {
		t.Errorf("WriteHoldingRegisters: got %v, want KindIllegalFunction", err)
	}
	if _, err := b.WriteReadHoldingRegisters(0, []uint16{1}, 0, 1); KindOf(err) != KindIllegalFunction {
		t.Errorf("WriteReadHoldingRegisters: got %v, want KindIllegalFunction", err)
	}
}

func TestDefaultBackendAuthorizeAndIdentification(t *testing.T) {
	var b DefaultBackend

	if !b.Authorize(1, "127.0.0.1:1234", nil) {
		t.Error("DefaultBackend.Authorize should accept unconditionally")
	}

	vendor, product, version, err := b.GetBasicDeviceIdentification()
	if err != nil {
		t.Fatalf("GetBasicDeviceIdentification failed: %v", err)
	}
	if vendor != VendorName || product != ProductCode || version != MajorMinorRevision {
		t.Errorf("got (%q, %q, %q), want (%q, %q, %q)", vendor, product, version, VendorName, ProductCode, MajorMinorRevision)
	}
}
