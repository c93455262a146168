package modbus

// serverEngine dispatches a single request PDU (req) to backend,
// writing the response PDU (either a success response or a Modbus
// exception) into rsp, and returns the number of bytes written.
//
// A native (non-Modbus-exception) error from the backend is returned
// to the caller and must be treated as connection-fatal: the reactor
// closes the connection rather than replying (see the error handling
// design).
func serverEngine(backend Backend, req []byte, rsp []byte) (int, error) {
	if len(req) < minPDUSize {
		return 0, NewError(KindParseError, "request too short (%d bytes)", len(req))
	}

	fc := req[0]
	switch fc {
	case fcReadCoils, fcReadDiscreteInputs:
		return processReadBits(backend, req, rsp)
	case fcReadHoldingRegisters, fcReadInputRegisters:
		return processReadRegisters(backend, req, rsp)
	case fcWriteSingleCoil:
		return processWriteSingleCoil(backend, req, rsp)
	case fcWriteSingleRegister:
		return processWriteSingleRegister(backend, req, rsp)
	case fcWriteMultipleCoils:
		return processWriteMultipleCoils(backend, req, rsp)
	case fcWriteMultipleRegisters:
		return processWriteMultipleRegisters(backend, req, rsp)
	case fcMaskWriteRegister:
		return processMaskWriteRegister(backend, req, rsp)
	case fcReadWriteMultipleRegisters:
		return processReadWriteMultipleRegisters(backend, req, rsp)
	case fcReadDeviceIdentification:
		return processReadDeviceIdentification(backend, req, rsp)
	default:
		return serializeExceptionResponse(rsp, fc, KindIllegalFunction), nil
	}
}

func validateExactReqLength(req []byte, n int) error {
	if len(req) != n {
		return NewError(KindParseError, "request length %d invalid, expected %d", len(req), n)
	}
	return nil
}

func validateMinReqLength(req []byte, n int) error {
	if len(req) < n {
		return NewError(KindParseError, "request length %d too small, need at least %d", len(req), n)
	}
	return nil
}

// backendFailed reports whether err is a native (non-Modbus-exception)
// backend failure that should be treated as connection-fatal.
func backendFailed(err error) bool {
	return err != nil && !IsModbusException(err)
}

func processReadBits(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, readBitsReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, cnt uint16
	fetch16be(&addr, req[1:])
	fetch16be(&cnt, req[3:])

	if !isInRange(int(cnt), minReadBits, maxReadBits) {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}

	var bits []bool
	var err error
	if fc == fcReadCoils {
		bits, err = backend.ReadCoils(addr, cnt)
	} else {
		bits, err = backend.ReadDiscreteInputs(addr, cnt)
	}

	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}
	if len(bits) != int(cnt) {
		return 0, NewError(KindLogicError, "backend returned %d bits, expected %d", len(bits), cnt)
	}

	byteCount := bitToByteCount(int(cnt))
	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store8(p, uint8(byteCount))
	p = p[n:]
	n = packBits(p, bits)
	p = p[n:]

	return len(rsp) - len(p), nil
}

func processReadRegisters(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, readRegistersReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, cnt uint16
	fetch16be(&addr, req[1:])
	fetch16be(&cnt, req[3:])

	if !isInRange(int(cnt), minReadRegisters, maxReadRegisters) {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}

	var regs []uint16
	var err error
	if fc == fcReadHoldingRegisters {
		regs, err = backend.ReadHoldingRegisters(addr, cnt)
	} else {
		regs, err = backend.ReadInputRegisters(addr, cnt)
	}

	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}
	if len(regs) != int(cnt) {
		return 0, NewError(KindLogicError, "backend returned %d registers, expected %d", len(regs), cnt)
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store8(p, uint8(cnt*2))
	p = p[n:]
	n = packRegisters(p, regs)
	p = p[n:]

	return len(rsp) - len(p), nil
}

func processWriteSingleCoil(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, writeCoilReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, val uint16
	fetch16be(&addr, req[1:])
	fetch16be(&val, req[3:])

	if val != singleCoilOff && val != singleCoilOn {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}

	err := backend.WriteCoils(addr, []bool{val == singleCoilOn})
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, val)

	return writeCoilRspSize, nil
}

func processWriteSingleRegister(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, writeRegisterReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, val uint16
	fetch16be(&addr, req[1:])
	fetch16be(&val, req[3:])

	err := backend.WriteHoldingRegisters(addr, []uint16{val})
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, val)

	return writeRegisterRspSize, nil
}

func processWriteMultipleCoils(backend Backend, req, rsp []byte) (int, error) {
	if err := validateMinReqLength(req, writeMultipleCoilsReqMinSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, cnt uint16
	fetch16be(&addr, req[1:])
	fetch16be(&cnt, req[3:])
	byteCount := int(req[5])

	if !isInRange(int(cnt), minWriteBits, maxWriteBits) || byteCount != bitToByteCount(int(cnt)) {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}
	if len(req) != writeMultipleCoilsReqMinSize+byteCount {
		return 0, NewError(KindParseError, "write multiple coils: request length invalid")
	}

	bits := unpackBits(req[6:], int(cnt))

	err := backend.WriteCoils(addr, bits)
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, cnt)

	return writeMultipleCoilsRspSize, nil
}

func processWriteMultipleRegisters(backend Backend, req, rsp []byte) (int, error) {
	if err := validateMinReqLength(req, writeMultipleRegistersReqMinSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, cnt uint16
	fetch16be(&addr, req[1:])
	fetch16be(&cnt, req[3:])
	byteCount := int(req[5])

	if !isInRange(int(cnt), minWriteRegisters, maxWriteRegisters) || byteCount != int(cnt)*2 {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}
	if len(req) != writeMultipleRegistersReqMinSize+byteCount {
		return 0, NewError(KindParseError, "write multiple registers: request length invalid")
	}

	regs := unpackRegisters(req[6:], int(cnt))

	err := backend.WriteHoldingRegisters(addr, regs)
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	store16be(p, cnt)

	return writeMultipleRegistersRspSize, nil
}

// processMaskWriteRegister implements function code 0x16: the server
// reads the current register value, computes
// (current & and) | (or & ^and), and writes the result back
// atomically (as observed by any concurrently dispatched request,
// since the reactor is single-threaded and this whole sequence runs
// within a single serverEngine call).
func processMaskWriteRegister(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, maskWriteRegisterReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addr, andMask, orMask uint16
	fetch16be(&addr, req[1:])
	fetch16be(&andMask, req[3:])
	fetch16be(&orMask, req[5:])

	regs, err := backend.ReadHoldingRegisters(addr, 1)
	if err == nil {
		if len(regs) != 1 {
			return 0, NewError(KindLogicError, "backend returned %d registers, expected 1", len(regs))
		}
		newVal := (regs[0] & andMask) | (orMask &^ andMask)
		err = backend.WriteHoldingRegisters(addr, []uint16{newVal})
	}

	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store16be(p, addr)
	p = p[n:]
	n = store16be(p, andMask)
	p = p[n:]
	store16be(p, orMask)

	return maskWriteRegisterRspSize, nil
}

func processReadWriteMultipleRegisters(backend Backend, req, rsp []byte) (int, error) {
	if err := validateMinReqLength(req, rdWrMultipleRegistersReqMinSize); err != nil {
		return 0, err
	}

	fc := req[0]
	var addrRd, cntRd, addrWr, cntWr uint16
	fetch16be(&addrRd, req[1:])
	fetch16be(&cntRd, req[3:])
	fetch16be(&addrWr, req[5:])
	fetch16be(&cntWr, req[7:])
	byteCountWr := int(req[9])

	if !isInRange(int(cntRd), minRdWrReadRegisters, maxRdWrReadRegisters) ||
		!isInRange(int(cntWr), minRdWrWriteRegisters, maxRdWrWriteRegisters) ||
		byteCountWr != int(cntWr)*2 {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}
	if len(req) != rdWrMultipleRegistersReqMinSize+byteCountWr {
		return 0, NewError(KindParseError, "read/write multiple registers: request length invalid")
	}

	regsWr := unpackRegisters(req[10:], int(cntWr))

	regsRd, err := backend.WriteReadHoldingRegisters(addrWr, regsWr, addrRd, cntRd)
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}
	if len(regsRd) != int(cntRd) {
		return 0, NewError(KindLogicError, "backend returned %d registers, expected %d", len(regsRd), cntRd)
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store8(p, uint8(cntRd*2))
	p = p[n:]
	n = packRegisters(p, regsRd)
	p = p[n:]

	return len(rsp) - len(p), nil
}

func processReadDeviceIdentification(backend Backend, req, rsp []byte) (int, error) {
	if err := validateExactReqLength(req, readDeviceIDReqSize); err != nil {
		return 0, err
	}

	fc := req[0]
	mei := req[1]
	code := req[2]
	startObj := req[3]

	if mei != meiTypeDeviceIdentification || code != readDeviceIDCodeBasic {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataValue), nil
	}
	if startObj != objectIDVendorName {
		return serializeExceptionResponse(rsp, fc, KindIllegalDataAddress), nil
	}

	vendor, product, version, err := backend.GetBasicDeviceIdentification()
	if IsModbusException(err) {
		return serializeExceptionResponse(rsp, fc, KindOf(err)), nil
	}
	if backendFailed(err) {
		return 0, err
	}

	need := readDeviceIDRspMinSize + 3*2 + len(vendor) + len(product) + len(version)
	if len(rsp) < need {
		return 0, NewError(KindLogicError, "device identification response too large for buffer")
	}

	p := rsp
	n := store8(p, fc)
	p = p[n:]
	n = store8(p, meiTypeDeviceIdentification)
	p = p[n:]
	n = store8(p, code) // echo of the requested read-device-id code
	p = p[n:]
	n = store8(p, readDeviceIDCodeBasic) // conformity level: basic
	p = p[n:]
	n = store8(p, 0x00) // more follows: no
	p = p[n:]
	n = store8(p, 0x00) // next object id
	p = p[n:]
	n = store8(p, 0x03) // number of objects
	p = p[n:]

	writeObject := func(id uint8, value string) {
		n := store8(p, id)
		p = p[n:]
		n = store8(p, uint8(len(value)))
		p = p[n:]
		copy(p, value)
		p = p[len(value):]
	}
	writeObject(objectIDVendorName, vendor)
	writeObject(objectIDProductCode, product)
	writeObject(objectIDMajorMinorRevision, version)

	return len(rsp) - len(p), nil
}
