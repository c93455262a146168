package modbus

import "testing"

func TestParseMBAPHeaderRoundTrip(t *testing.T) {
	h := mbapHeader{transactionID: 0x9218, protocolID: 0, length: 6, unitID: 0x33}

	buf := make([]byte, mbapHeaderSize)
	n := serializeMBAPHeader(buf, h)
	if n != mbapHeaderSize {
		t.Fatalf("serializeMBAPHeader returned %d, want %d", n, mbapHeaderSize)
	}

	want := []byte{0x92, 0x18, 0x00, 0x00, 0x00, 0x06, 0x33}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("byte %d: got %#x, want %#x", i, buf[i], b)
		}
	}

	got, err := parseMBAPHeader(buf)
	if err != nil {
		t.Fatalf("parseMBAPHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestParseMBAPHeaderTooShort(t *testing.T) {
	_, err := parseMBAPHeader([]byte{0x00, 0x01, 0x02})
	if KindOf(err) != KindParseError {
		t.Fatalf("expected KindParseError, got %v", err)
	}
}

func TestParseMBAPHeaderBadProtocolID(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00}
	_, err := parseMBAPHeader(buf)
	if KindOf(err) != KindParseError {
		t.Fatalf("expected KindParseError for non-zero protocol id, got %v", err)
	}
}

func TestParseMBAPHeaderLengthBounds(t *testing.T) {
	mkHeader := func(length uint16) []byte {
		buf := make([]byte, mbapHeaderSize)
		serializeMBAPHeader(buf, mbapHeader{length: length})
		return buf
	}

	// length field must be in [minPDUSize, maxPDUSize+1] = [2, 254].
	cases := []struct {
		length  uint16
		wantErr bool
	}{
		{1, true},
		{2, false},
		{254, false},
		{255, true},
	}

	for _, c := range cases {
		_, err := parseMBAPHeader(mkHeader(c.length))
		if c.wantErr && KindOf(err) != KindParseError {
			t.Errorf("length %d: expected KindParseError, got %v", c.length, err)
		}
		if !c.wantErr && err != nil {
			t.Errorf("length %d: unexpected error %v", c.length, err)
		}
	}
}

func TestMBAPHeaderSizes(t *testing.T) {
	h := mbapHeader{length: 6}
	if got := h.pduSize(); got != 5 {
		t.Errorf("pduSize() = %d, want 5", got)
	}
	if got := h.aduSize(); got != mbapHeaderSize+5 {
		t.Errorf("aduSize() = %d, want %d", got, mbapHeaderSize+5)
	}
}
