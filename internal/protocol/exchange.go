package protocol

import (
	"encoding/binary"
	"fmt"
)

// Values holds the typed readings decoded from one poll transaction.
type Values []float64

// Exchange describes one request/response transaction: the encoded
// request frame plus how to delimit and decode the device's reply. The
// transport layer reads HeaderLen bytes, asks BodyLen for the rest,
// then hands the whole frame to Decode. The codec itself never touches
// the wire.
type Exchange struct {
	Frame     []byte
	HeaderLen int
	BodyLen   func(header []byte) (int, error)
	Decode    func(frame []byte) (Values, error)
}

// ModbusTCPSession tracks the transaction id for one Modbus TCP
// connection. Transaction ids are sequential per device, which is why
// a session must not be shared across goroutines.
type ModbusTCPSession struct {
	unitID uint8
	txn    uint16
}

// NewModbusTCPSession returns a session for the given unit id.
func NewModbusTCPSession(unitID uint8) *ModbusTCPSession {
	return &ModbusTCPSession{unitID: unitID}
}

// ReadHoldingRegisters prepares a read exchange for count registers
// starting at address.
func (s *ModbusTCPSession) ReadHoldingRegisters(address, count uint16) (*Exchange, error) {
	s.txn++
	txn := s.txn
	frame, err := EncodeReadHoldingRegisters(txn, s.unitID, address, count)
	if err != nil {
		return nil, err
	}
	return &Exchange{
		Frame:     frame,
		HeaderLen: mbapHeaderLen,
		BodyLen:   mbapBodyLen,
		Decode: func(resp []byte) (Values, error) {
			registers, err := DecodeReadHoldingRegistersResponse(resp, txn, count)
			if err != nil {
				return nil, err
			}
			return registersToValues(registers), nil
		},
	}, nil
}

// WriteSingleRegister prepares a write exchange for function code 0x06.
// The decoded value echoes what the device accepted.
func (s *ModbusTCPSession) WriteSingleRegister(address, value uint16) *Exchange {
	s.txn++
	txn := s.txn
	return &Exchange{
		Frame:     EncodeWriteSingleRegister(txn, s.unitID, address, value),
		HeaderLen: mbapHeaderLen,
		BodyLen:   mbapBodyLen,
		Decode: func(resp []byte) (Values, error) {
			if err := DecodeWriteSingleRegisterResponse(resp, txn, address, value); err != nil {
				return nil, err
			}
			return Values{float64(value)}, nil
		},
	}
}

func mbapBodyLen(header []byte) (int, error) {
	if len(header) < mbapHeaderLen {
		return 0, fmt.Errorf("%w: mbap header %d bytes", ErrFrameTooShort, len(header))
	}
	if got := binary.BigEndian.Uint16(header[2:4]); got != modbusProtocolID {
		return 0, fmt.Errorf("%w: protocol id %d", ErrMalformedFrame, got)
	}
	declared := int(binary.BigEndian.Uint16(header[4:6]))
	if declared < 2 || declared > 3+2*MaxRegisterCount {
		return 0, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, declared)
	}
	// The unit id byte is already part of the header read.
	return declared - 1, nil
}

// ModbusRTUSession prepares exchanges for one serial device.
type ModbusRTUSession struct {
	unitID uint8
}

// NewModbusRTUSession returns a session for the given unit id.
func NewModbusRTUSession(unitID uint8) *ModbusRTUSession {
	return &ModbusRTUSession{unitID: unitID}
}

// ReadInputRegisters prepares an RTU read exchange for count registers
// starting at address.
func (s *ModbusRTUSession) ReadInputRegisters(address, count uint16) (*Exchange, error) {
	frame, err := EncodeRTUReadInputRegisters(s.unitID, address, count)
	if err != nil {
		return nil, err
	}
	unitID := s.unitID
	return &Exchange{
		Frame:     frame,
		HeaderLen: rtuHeaderLen,
		BodyLen: func(header []byte) (int, error) {
			if len(header) < rtuHeaderLen {
				return 0, fmt.Errorf("%w: rtu header %d bytes", ErrFrameTooShort, len(header))
			}
			if header[1] == FuncReadInputRegisters|exceptionFlag {
				// Exception code already read; only the CRC remains.
				return 2, nil
			}
			return int(header[2]) + 2, nil
		},
		Decode: func(resp []byte) (Values, error) {
			registers, err := DecodeRTUReadInputRegistersResponse(resp, unitID, count)
			if err != nil {
				return nil, err
			}
			return registersToValues(registers), nil
		},
	}, nil
}

// DNP3Session tracks transport/application sequence numbers for one
// outstation.
type DNP3Session struct {
	src uint16
	dst uint16
	seq uint8
}

// NewDNP3Session returns a session addressing the outstation dst from
// master address src.
func NewDNP3Session(src, dst uint16) *DNP3Session {
	return &DNP3Session{src: src, dst: dst}
}

// ReadAnalogInputs prepares a read of all analog inputs. When want is
// non-negative, decoding requires exactly that many values.
func (s *DNP3Session) ReadAnalogInputs(want int) *Exchange {
	s.seq = (s.seq + 1) & 0x3F
	return &Exchange{
		Frame:     EncodeReadAnalogInputs(s.seq, s.src, s.dst),
		HeaderLen: dnp3LinkHeaderLen,
		BodyLen:   dnp3ResponseBodyLen,
		Decode: func(resp []byte) (Values, error) {
			values, err := DecodeAnalogInputsResponse(resp, want)
			if err != nil {
				return nil, err
			}
			return Values(values), nil
		},
	}
}

// IEC61850Session prepares data-set reads for one logical device.
type IEC61850Session struct {
	logicalDevice string
	dataSet       string
}

// NewIEC61850Session returns a session bound to one data set.
func NewIEC61850Session(logicalDevice, dataSet string) *IEC61850Session {
	return &IEC61850Session{logicalDevice: logicalDevice, dataSet: dataSet}
}

// ReadDataSet prepares a data-set read exchange.
func (s *IEC61850Session) ReadDataSet() (*Exchange, error) {
	frame, err := EncodeReadDataSet(s.logicalDevice, s.dataSet)
	if err != nil {
		return nil, err
	}
	return &Exchange{
		Frame:     frame,
		HeaderLen: tpktHeaderLen,
		BodyLen:   tpktBodyLen,
		Decode: func(resp []byte) (Values, error) {
			values, err := DecodeDataSetResponse(resp)
			if err != nil {
				return nil, err
			}
			return Values(values), nil
		},
	}, nil
}

func registersToValues(registers []uint16) Values {
	values := make(Values, len(registers))
	for i, r := range registers {
		values[i] = float64(r)
	}
	return values
}
