package modbus

const (
	minAddr = 0
	maxAddr = 0xffff
)

// checkForException inspects a response PDU for the exception shape
// (length 2 and the high bit of the function code set). If rsp isn't
// shaped like an exception it returns (false, nil): the caller should
// continue parsing a normal response. If it is shaped like an
// exception, it validates the function-code echo and the exception
// byte, returning either a KindParseError (malformed exception) or the
// Modbus exception Kind itself as the error.
func checkForException(rsp []byte, fc uint8) (bool, error) {
	if len(rsp) != exceptionRspSize {
		return false, nil
	}

	fcRsp := rsp[0]
	if fcRsp&fcExceptionMask == 0 {
		return false, nil
	}

	if fcRsp&^fcExceptionMask != fc {
		return true, NewError(KindParseError, "exception response: function code mismatch (got %#x, want %#x)", fcRsp&^fcExceptionMask, fc)
	}

	kind, ok := kindFromExceptionCode(rsp[1])
	if !ok {
		return true, NewError(KindParseError, "exception response: unrecognized exception code %#x", rsp[1])
	}

	return true, NewError(kind, "")
}

func validateArgRange(name string, v, lo, hi int) error {
	if !isInRange(v, lo, hi) {
		return NewError(KindInvalidArgument, "%s: value %d out of range [%d, %d]", name, v, lo, hi)
	}
	return nil
}

// serializeReadBitsRequest serializes a read coils/discrete inputs
// request (function codes 0x01, 0x02) into dst and returns the number
// of bytes written.
func serializeReadBitsRequest(dst []byte, fc uint8, addr, cnt uint16) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("cnt", int(cnt), minReadBits, maxReadBits); err != nil {
		return 0, err
	}

	p := dst
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, cnt)

	return readBitsReqSize, nil
}

// parseReadBitsResponse parses a read coils/discrete inputs response,
// returning cnt decoded bits.
func parseReadBitsResponse(rsp []byte, fc uint8, cnt uint16) ([]bool, error) {
	if isExc, err := checkForException(rsp, fc); isExc {
		return nil, err
	}

	byteCount := bitToByteCount(int(cnt))
	wantLen := readBitsRspMinSize + byteCount - 1
	if len(rsp) != wantLen {
		return nil, NewError(KindParseError, "read bits response: length %d invalid, want %d", len(rsp), wantLen)
	}

	fcRsp := rsp[0]
	byteCountRsp := int(rsp[1])

	if fcRsp != fc {
		return nil, NewError(KindParseError, "read bits response: function code mismatch")
	}
	if byteCountRsp != byteCount {
		return nil, NewError(KindParseError, "read bits response: byte count mismatch")
	}

	return unpackBits(rsp[2:], int(cnt)), nil
}

// serializeReadRegistersRequest serializes a read holding/input
// registers request (function codes 0x03, 0x04).
func serializeReadRegistersRequest(dst []byte, fc uint8, addr, cnt uint16) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("cnt", int(cnt), minReadRegisters, maxReadRegisters); err != nil {
		return 0, err
	}

	p := dst
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, cnt)

	return readRegistersReqSize, nil
}

func parseReadRegistersResponse(rsp []byte, fc uint8, cnt uint16) ([]uint16, error) {
	if isExc, err := checkForException(rsp, fc); isExc {
		return nil, err
	}

	wantLen := readRegistersRspMinSize + int(cnt)*2 - 2
	if len(rsp) != wantLen {
		return nil, NewError(KindParseError, "read registers response: length %d invalid, want %d", len(rsp), wantLen)
	}

	fcRsp := rsp[0]
	byteCountRsp := int(rsp[1])

	if fcRsp != fc {
		return nil, NewError(KindParseError, "read registers response: function code mismatch")
	}
	if byteCountRsp != int(cnt)*2 {
		return nil, NewError(KindParseError, "read registers response: byte count mismatch")
	}

	return unpackRegisters(rsp[2:], int(cnt)), nil
}

// serializeWriteSingleCoilRequest serializes function code 0x05.
// on selects singleCoilOn (0xFF00) vs singleCoilOff (0x0000).
func serializeWriteSingleCoilRequest(dst []byte, addr uint16, on bool) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}

	val := singleCoilOff
	if on {
		val = singleCoilOn
	}

	p := dst
	n := store8(p, fcWriteSingleCoil)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, val)

	return writeCoilReqSize, nil
}

func parseWriteSingleCoilResponse(rsp []byte, addr uint16, on bool) error {
	if isExc, err := checkForException(rsp, fcWriteSingleCoil); isExc {
		return err
	}
	if err := validateExactReqLength(rsp, writeCoilRspSize); err != nil {
		return err
	}

	var addrRsp, valRsp uint16
	if rsp[0] != fcWriteSingleCoil {
		return NewError(KindParseError, "write single coil response: function code mismatch")
	}
	fetch16be(&addrRsp, rsp[1:])
	fetch16be(&valRsp, rsp[3:])

	wantVal := singleCoilOff
	if on {
		wantVal = singleCoilOn
	}
	if addrRsp != addr {
		return NewError(KindParseError, "write single coil response: address echo mismatch")
	}
	if valRsp != wantVal {
		return NewError(KindParseError, "write single coil response: value echo invalid")
	}

	return nil
}

// serializeWriteSingleRegisterRequest serializes function code 0x06.
func serializeWriteSingleRegisterRequest(dst []byte, addr, value uint16) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}

	p := dst
	n := store8(p, fcWriteSingleRegister)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, value)

	return writeRegisterReqSize, nil
}

func parseWriteSingleRegisterResponse(rsp []byte, addr, value uint16) error {
	if isExc, err := checkForException(rsp, fcWriteSingleRegister); isExc {
		return err
	}
	if err := validateExactReqLength(rsp, writeRegisterRspSize); err != nil {
		return err
	}

	var addrRsp, valRsp uint16
	if rsp[0] != fcWriteSingleRegister {
		return NewError(KindParseError, "write single register response: function code mismatch")
	}
	fetch16be(&addrRsp, rsp[1:])
	fetch16be(&valRsp, rsp[3:])

	if addrRsp != addr || valRsp != value {
		return NewError(KindParseError, "write single register response: echo mismatch")
	}

	return nil
}

// serializeWriteMultipleCoilsRequest serializes function code 0x0F.
func serializeWriteMultipleCoilsRequest(dst []byte, addr uint16, values []bool) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("cnt", len(values), minWriteBits, maxWriteBits); err != nil {
		return 0, err
	}

	byteCount := bitToByteCount(len(values))

	p := dst
	n := store8(p, fcWriteMultipleCoils)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	n = store16be(p, uint16(len(values)))
	p = p[n:]
	n = store8(p, uint8(byteCount))
	p = p[n:]
	n = packBits(p, values)
	p = p[n:]

	return writeMultipleCoilsReqMinSize + byteCount, nil
}

func parseWriteMultipleCoilsResponse(rsp []byte, addr uint16, cnt int) error {
	if isExc, err := checkForException(rsp, fcWriteMultipleCoils); isExc {
		return err
	}
	if err := validateExactReqLength(rsp, writeMultipleCoilsRspSize); err != nil {
		return err
	}

	var addrRsp, cntRsp uint16
	if rsp[0] != fcWriteMultipleCoils {
		return NewError(KindParseError, "write multiple coils response: function code mismatch")
	}
	fetch16be(&addrRsp, rsp[1:])
	fetch16be(&cntRsp, rsp[3:])

	if addrRsp != addr || int(cntRsp) != cnt {
		return NewError(KindParseError, "write multiple coils response: echo mismatch")
	}

	return nil
}

// serializeWriteMultipleRegistersRequest serializes function code 0x10.
func serializeWriteMultipleRegistersRequest(dst []byte, addr uint16, values []uint16) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("cnt", len(values), minWriteRegisters, maxWriteRegisters); err != nil {
		return 0, err
	}

	byteCount := len(values) * 2

	p := dst
	n := store8(p, fcWriteMultipleRegisters)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	n = store16be(p, uint16(len(values)))
	p = p[n:]
	n = store8(p, uint8(byteCount))
	p = p[n:]
	n = packRegisters(p, values)
	p = p[n:]

	return writeMultipleRegistersReqMinSize + byteCount, nil
}

func parseWriteMultipleRegistersResponse(rsp []byte, addr uint16, cnt int) error {
	if isExc, err := checkForException(rsp, fcWriteMultipleRegisters); isExc {
		return err
	}
	if err := validateExactReqLength(rsp, writeMultipleRegistersRspSize); err != nil {
		return err
	}

	var addrRsp, cntRsp uint16
	if rsp[0] != fcWriteMultipleRegisters {
		return NewError(KindParseError, "write multiple registers response: function code mismatch")
	}
	fetch16be(&addrRsp, rsp[1:])
	fetch16be(&cntRsp, rsp[3:])

	if addrRsp != addr || int(cntRsp) != cnt {
		return NewError(KindParseError, "write multiple registers response: echo mismatch")
	}

	return nil
}

// serializeMaskWriteRegisterRequest serializes function code 0x16. The
// client never computes the masked value locally: it only echoes the
// masks, the server applies (current & and) | (or & ^and) atomically.
func serializeMaskWriteRegisterRequest(dst []byte, addr, andMask, orMask uint16) (int, error) {
	if err := validateArgRange("addr", int(addr), minAddr, maxAddr); err != nil {
		return 0, err
	}

	p := dst
	n := store8(p, fcMaskWriteRegister)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	n = store16be(p, andMask)
	p = p[n:]
	store16be(p, orMask)

	return maskWriteRegisterReqSize, nil
}

func parseMaskWriteRegisterResponse(rsp []byte, addr, andMask, orMask uint16) error {
	if isExc, err := checkForException(rsp, fcMaskWriteRegister); isExc {
		return err
	}
	if err := validateExactReqLength(rsp, maskWriteRegisterRspSize); err != nil {
		return err
	}

	var addrRsp, andRsp, orRsp uint16
	if rsp[0] != fcMaskWriteRegister {
		return NewError(KindParseError, "mask write register response: function code mismatch")
	}
	fetch16be(&addrRsp, rsp[1:])
	fetch16be(&andRsp, rsp[3:])
	fetch16be(&orRsp, rsp[5:])

	if addrRsp != addr || andRsp != andMask || orRsp != orMask {
		return NewError(KindParseError, "mask write register response: echo mismatch")
	}

	return nil
}

// serializeReadWriteMultipleRegistersRequest serializes function code
// 0x17: the write occurs before the read on the server, atomically.
func serializeReadWriteMultipleRegistersRequest(dst []byte, readAddr, readCnt, writeAddr uint16, writeValues []uint16) (int, error) {
	if err := validateArgRange("readAddr", int(readAddr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("writeAddr", int(writeAddr), minAddr, maxAddr); err != nil {
		return 0, err
	}
	if err := validateArgRange("readCnt", int(readCnt), minRdWrReadRegisters, maxRdWrReadRegisters); err != nil {
		return 0, err
	}
	if err := validateArgRange("writeCnt", len(writeValues), minRdWrWriteRegisters, maxRdWrWriteRegisters); err != nil {
		return 0, err
	}

	byteCountWr := len(writeValues) * 2

	p := dst
	n := store8(p, fcReadWriteMultipleRegisters)
	p = p[n:]
	n = store16be(p, readAddr)
	p = p[n:]
	n = store16be(p, readCnt)
	p = p[n:]
	n = store16be(p, writeAddr)
	p = p[n:]
	n = store16be(p, uint16(len(writeValues)))
	p = p[n:]
	n = store8(p, uint8(byteCountWr))
	p = p[n:]
	n = packRegisters(p, writeValues)
	p = p[n:]

	return rdWrMultipleRegistersReqMinSize + byteCountWr, nil
}

func parseReadWriteMultipleRegistersResponse(rsp []byte, readCnt uint16) ([]uint16, error) {
	if isExc, err := checkForException(rsp, fcReadWriteMultipleRegisters); isExc {
		return nil, err
	}

	wantLen := rdWrMultipleRegistersRspMinSize + int(readCnt)*2
	if len(rsp) != wantLen {
		return nil, NewError(KindParseError, "read/write multiple registers response: length %d invalid, want %d", len(rsp), wantLen)
	}

	if rsp[0] != fcReadWriteMultipleRegisters {
		return nil, NewError(KindParseError, "read/write multiple registers response: function code mismatch")
	}
	byteCountRsp := int(rsp[1])
	if byteCountRsp != int(readCnt)*2 {
		return nil, NewError(KindParseError, "read/write multiple registers response: byte count mismatch")
	}

	return unpackRegisters(rsp[2:], int(readCnt)), nil
}

// DeviceIdentification holds the three Basic-conformance objects
// returned by function code 0x2B/0x0E.
type DeviceIdentification struct {
	VendorName         string
	ProductCode        string
	MajorMinorRevision string
}

// serializeReadDeviceIdentificationRequest serializes a Basic
// conformance request: mei=0x0E, code=0x01 (basic), starting object
// id=0x00 (vendor name).
func serializeReadDeviceIdentificationRequest(dst []byte) (int, error) {
	p := dst
	n := store8(p, fcReadDeviceIdentification)
	p = p[n:]
	n = store8(p, meiTypeDeviceIdentification)
	p = p[n:]
	n = store8(p, readDeviceIDCodeBasic)
	p = p[n:]
	store8(p, objectIDVendorName)

	return readDeviceIDReqSize, nil
}

// parseReadDeviceIdentificationResponse parses a Basic conformance
// response, expecting exactly three objects (vendor_name,
// product_code, major_minor_revision) with the "more follows" bit
// clear. The conformity level echoed by the server is ignored.
func parseReadDeviceIdentificationResponse(rsp []byte) (*DeviceIdentification, error) {
	if isExc, err := checkForException(rsp, fcReadDeviceIdentification); isExc {
		return nil, err
	}
	if err := validateMinReqLength(rsp, readDeviceIDRspMinSize); err != nil {
		return nil, err
	}

	if rsp[0] != fcReadDeviceIdentification {
		return nil, NewError(KindParseError, "read device identification response: function code mismatch")
	}
	if rsp[1] != meiTypeDeviceIdentification {
		return nil, NewError(KindParseError, "read device identification response: mei type mismatch")
	}

	moreFollows := rsp[4]
	numObjects := int(rsp[6])

	if moreFollows != 0x00 {
		return nil, NewError(KindParseError, "read device identification response: more-follows set, basic conformance expects a single reply")
	}
	if numObjects != 3 {
		return nil, NewError(KindParseError, "read device identification response: expected 3 objects, got %d", numObjects)
	}

	p := rsp[7:]
	values := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if len(p) < 2 {
			return nil, NewError(KindParseError, "read device identification response: truncated object header")
		}
		objID := p[0]
		objLen := int(p[1])
		p = p[2:]
		if objID != uint8(i) {
			return nil, NewError(KindParseError, "read device identification response: unexpected object id %d", objID)
		}
		if len(p) < objLen {
			return nil, NewError(KindParseError, "read device identification response: truncated object value")
		}
		values = append(values, string(p[:objLen]))
		p = p[objLen:]
	}

	return &DeviceIdentification{
		VendorName:         values[0],
		ProductCode:        values[1],
		MajorMinorRevision: values[2],
	}, nil
}
