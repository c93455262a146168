package modbus

// mbapHeaderSize is the fixed size, in bytes, of the MBAP transport
// header: transaction id (2) + protocol id (2) + length (2) + unit id (1).
const mbapHeaderSize = 7

// minPDUSize is the smallest possible PDU: an exception response
// (function code + exception code).
const minPDUSize = 2

// maxPDUSize is the largest PDU a length field can describe.
const maxPDUSize = 253

// maxADUSize is the largest complete frame (MBAP header + PDU).
const maxADUSize = mbapHeaderSize + maxPDUSize

// mbapHeader is the 7-byte Modbus Application Protocol header that
// precedes every PDU on the wire.
type mbapHeader struct {
	transactionID uint16
	protocolID    uint16 // always 0 for Modbus
	length        uint16 // counts unit id + PDU
	unitID        uint8
}

// pduSize returns the number of PDU bytes described by the header's
// length field.
func (h mbapHeader) pduSize() int {
	return int(h.length) - 1
}

// aduSize returns the total size of the frame (header + PDU) this
// header describes.
func (h mbapHeader) aduSize() int {
	return mbapHeaderSize + h.pduSize()
}

// parseMBAPHeader parses the 7-byte transport header from the front of
// src. It fails with KindParseError if src is too short, the protocol
// identifier is non-zero, or the length field falls outside
// [minPDUSize, maxPDUSize+1].
func parseMBAPHeader(src []byte) (mbapHeader, error) {
	var h mbapHeader

	if len(src) < mbapHeaderSize {
		return h, NewError(KindParseError, "mbap header: too few bytes (%d)", len(src))
	}

	p := src
	n := fetch16be(&h.transactionID, p)
	p = p[n:]
	n = fetch16be(&h.protocolID, p)
	p = p[n:]
	n = fetch16be(&h.length, p)
	p = p[n:]
	fetch8(&h.unitID, p)

	if h.protocolID != 0 {
		return h, NewError(KindParseError, "mbap header: protocol identifier %d invalid", h.protocolID)
	}

	if h.length < minPDUSize || h.length > maxPDUSize+1 {
		return h, NewError(KindParseError, "mbap header: length field %d invalid", h.length)
	}

	return h, nil
}

// serializeMBAPHeader writes h's 7 bytes to the front of dst, which
// must have length at least mbapHeaderSize, and returns the number of
// bytes written.
func serializeMBAPHeader(dst []byte, h mbapHeader) int {
	p := dst
	n := store16be(p, h.transactionID)
	p = p[n:]
	n = store16be(p, h.protocolID)
	p = p[n:]
	n = store16be(p, h.length)
	p = p[n:]
	store8(p, h.unitID)
	return mbapHeaderSize
}
