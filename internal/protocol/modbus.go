package protocol

import (
	"encoding/binary"
	"fmt"
)

// Modbus function codes used by the polling engine.
const (
	FuncReadHoldingRegisters = 0x03
	FuncReadInputRegisters   = 0x04
	FuncWriteSingleRegister  = 0x06

	exceptionFlag = 0x80

	// MaxRegisterCount is the Modbus limit for one read request.
	MaxRegisterCount = 125

	mbapHeaderLen    = 7
	modbusProtocolID = 0
	rtuHeaderLen     = 3
)

// EncodeReadHoldingRegisters builds a Modbus TCP read request: a 7-byte
// MBAP header (transaction id, protocol id 0, length, unit id) followed
// by function code 0x03, register address and count, all big-endian.
func EncodeReadHoldingRegisters(txnID uint16, unitID uint8, address, count uint16) ([]byte, error) {
	if count < 1 || count > MaxRegisterCount {
		return nil, fmt.Errorf("%w: register count %d out of range [1,%d]", ErrInvalidRequest, count, MaxRegisterCount)
	}
	frame := make([]byte, 12)
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], modbusProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], 6)
	frame[6] = unitID
	frame[7] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(frame[8:10], address)
	binary.BigEndian.PutUint16(frame[10:12], count)
	return frame, nil
}

// DecodeReadHoldingRegistersResponse validates and parses a Modbus TCP
// read response, returning exactly count big-endian register words.
func DecodeReadHoldingRegistersResponse(frame []byte, txnID uint16, count uint16) ([]uint16, error) {
	if err := checkMBAP(frame, txnID); err != nil {
		return nil, err
	}
	if err := checkFunction(frame[7], FuncReadHoldingRegisters, frame[8:]); err != nil {
		return nil, err
	}
	byteCount := int(frame[8])
	if byteCount != int(count)*2 {
		return nil, fmt.Errorf("%w: byte count %d, want %d", ErrMalformedFrame, byteCount, int(count)*2)
	}
	if len(frame) < 9+byteCount {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrFrameTooShort, len(frame), 9+byteCount)
	}
	registers := make([]uint16, count)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(frame[9+2*i:])
	}
	return registers, nil
}

// EncodeReadHoldingRegistersResponse builds the device-side response
// frame for the given register values. Used by device simulators.
func EncodeReadHoldingRegistersResponse(txnID uint16, unitID uint8, values []uint16) []byte {
	byteCount := len(values) * 2
	frame := make([]byte, 9+byteCount)
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], modbusProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], uint16(3+byteCount))
	frame[6] = unitID
	frame[7] = FuncReadHoldingRegisters
	frame[8] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(frame[9+2*i:], v)
	}
	return frame
}

// EncodeWriteSingleRegister builds a Modbus TCP write request for
// function code 0x06.
func EncodeWriteSingleRegister(txnID uint16, unitID uint8, address, value uint16) []byte {
	frame := make([]byte, 12)
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], modbusProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], 6)
	frame[6] = unitID
	frame[7] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(frame[8:10], address)
	binary.BigEndian.PutUint16(frame[10:12], value)
	return frame
}

// DecodeWriteSingleRegisterResponse validates the echo response for a
// single-register write.
func DecodeWriteSingleRegisterResponse(frame []byte, txnID uint16, address, value uint16) error {
	if err := checkMBAP(frame, txnID); err != nil {
		return err
	}
	if err := checkFunction(frame[7], FuncWriteSingleRegister, frame[8:]); err != nil {
		return err
	}
	if len(frame) < 12 {
		return fmt.Errorf("%w: %d bytes, want 12", ErrFrameTooShort, len(frame))
	}
	if got := binary.BigEndian.Uint16(frame[8:10]); got != address {
		return fmt.Errorf("%w: echoed address %d, want %d", ErrMalformedFrame, got, address)
	}
	if got := binary.BigEndian.Uint16(frame[10:12]); got != value {
		return fmt.Errorf("%w: echoed value %d, want %d", ErrMalformedFrame, got, value)
	}
	return nil
}

func checkMBAP(frame []byte, txnID uint16) error {
	if len(frame) < 9 {
		return fmt.Errorf("%w: %d bytes, want at least 9", ErrFrameTooShort, len(frame))
	}
	if got := binary.BigEndian.Uint16(frame[0:2]); got != txnID {
		return fmt.Errorf("%w: got %d, want %d", ErrTransactionMismatch, got, txnID)
	}
	if got := binary.BigEndian.Uint16(frame[2:4]); got != modbusProtocolID {
		return fmt.Errorf("%w: protocol id %d", ErrMalformedFrame, got)
	}
	if declared := int(binary.BigEndian.Uint16(frame[4:6])); declared != len(frame)-6 {
		return fmt.Errorf("%w: declared length %d for %d-byte frame", ErrMalformedFrame, declared, len(frame))
	}
	return nil
}

func checkFunction(got, want byte, rest []byte) error {
	if got == want|exceptionFlag {
		code := byte(0)
		if len(rest) > 0 {
			code = rest[0]
		}
		return fmt.Errorf("%w: function 0x%02x exception code 0x%02x", ErrDeviceException, want, code)
	}
	if got != want {
		return fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrFunctionMismatch, got, want)
	}
	return nil
}

// EncodeRTUFrame builds a Modbus RTU request: unit id, function code,
// big-endian address and count, with the CRC-16 appended low byte
// first.
func EncodeRTUFrame(unitID, functionCode uint8, address, count uint16) []byte {
	frame := make([]byte, 6, 8)
	frame[0] = unitID
	frame[1] = functionCode
	binary.BigEndian.PutUint16(frame[2:4], address)
	binary.BigEndian.PutUint16(frame[4:6], count)
	return appendCRC16(frame)
}

// DecodeRTUFrame verifies the trailing CRC-16 and returns the payload
// without it. A frame whose received CRC does not match the recomputed
// value is rejected; it is never interpreted as data.
func DecodeRTUFrame(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: %d bytes, want at least 4", ErrFrameTooShort, len(frame))
	}
	payload := frame[:len(frame)-2]
	received := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if computed := CRC16(payload); computed != received {
		return nil, fmt.Errorf("%w: received 0x%04x, computed 0x%04x", ErrCRCMismatch, received, computed)
	}
	return payload, nil
}

// EncodeRTUReadInputRegisters builds an RTU read for function code
// 0x04 (input registers), the read primitive serial field devices
// answer on.
func EncodeRTUReadInputRegisters(unitID uint8, address, count uint16) ([]byte, error) {
	if count < 1 || count > MaxRegisterCount {
		return nil, fmt.Errorf("%w: register count %d out of range [1,%d]", ErrInvalidRequest, count, MaxRegisterCount)
	}
	return EncodeRTUFrame(unitID, FuncReadInputRegisters, address, count), nil
}

// DecodeRTUReadInputRegistersResponse checks the CRC, unit id and
// function code, then parses exactly count register words.
func DecodeRTUReadInputRegistersResponse(frame []byte, unitID uint8, count uint16) ([]uint16, error) {
	payload, err := DecodeRTUFrame(frame)
	if err != nil {
		return nil, err
	}
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: payload %d bytes, want at least 3", ErrFrameTooShort, len(payload))
	}
	if payload[0] != unitID {
		return nil, fmt.Errorf("%w: unit id %d, want %d", ErrMalformedFrame, payload[0], unitID)
	}
	if err := checkFunction(payload[1], FuncReadInputRegisters, payload[2:]); err != nil {
		return nil, err
	}
	byteCount := int(payload[2])
	if byteCount != int(count)*2 || len(payload) != 3+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrMalformedFrame, byteCount, count)
	}
	registers := make([]uint16, count)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(payload[3+2*i:])
	}
	return registers, nil
}

// EncodeRTUReadResponse builds the device-side RTU response for the
// given register values. Used by device simulators.
func EncodeRTUReadResponse(unitID, functionCode uint8, values []uint16) []byte {
	payload := make([]byte, 3+len(values)*2, 5+len(values)*2)
	payload[0] = unitID
	payload[1] = functionCode
	payload[2] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[3+2*i:], v)
	}
	return appendCRC16(payload)
}

func appendCRC16(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}
