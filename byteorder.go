package modbus

import "encoding/binary"

// fetch8 reads one big-endian byte from src into *dst and returns the
// number of bytes consumed. Callers are responsible for ensuring
// len(src) >= 1 before calling.
func fetch8(dst *uint8, src []byte) int {
	*dst = src[0]
	return 1
}

// fetch16be reads a big-endian 16-bit value from src into *dst and
// returns the number of bytes consumed. Callers are responsible for
// ensuring len(src) >= 2 before calling.
func fetch16be(dst *uint16, src []byte) int {
	*dst = binary.BigEndian.Uint16(src)
	return 2
}

// store8 writes a single byte to dst and returns the number of bytes
// produced. Callers are responsible for ensuring len(dst) >= 1.
func store8(dst []byte, v uint8) int {
	dst[0] = v
	return 1
}

// store16be writes a big-endian 16-bit value to dst and returns the
// number of bytes produced. Callers are responsible for ensuring
// len(dst) >= 2.
func store16be(dst []byte, v uint16) int {
	binary.BigEndian.PutUint16(dst, v)
	return 2
}
