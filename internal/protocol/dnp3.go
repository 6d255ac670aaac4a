package protocol

import (
	"encoding/binary"
	"fmt"
)

// Reduced DNP3 profile: data-link framing with block checksums plus the
// single application request this engine needs, a class-less read of
// group 30 variation 1 analog inputs. Object models beyond that are out
// of scope. Values always come from the wire; nothing is synthesized.
const (
	dnp3Sync0 = 0x05
	dnp3Sync1 = 0x64

	// Link control: DIR=1 PRM=1, unconfirmed user data.
	dnp3CtrlRequest = 0xC4

	dnp3FuncRead     = 0x01
	dnp3FuncResponse = 0x81

	dnp3GroupAnalogInput = 30
	dnp3VarAnalog32      = 1
	dnp3QualifierAll     = 0x06

	dnp3LinkHeaderLen = 10
	dnp3BlockSize     = 16

	// Flag octet + 32-bit value per analog input point.
	dnp3AnalogItemLen = 5
)

// EncodeReadAnalogInputs builds a reduced DNP3 read request for all
// group 30 var 1 analog inputs: 0x0564 sync, link header with CRC,
// transport octet, application header with function 0x01 and the
// all-objects qualifier.
func EncodeReadAnalogInputs(seq uint8, src, dst uint16) []byte {
	user := []byte{
		0xC0 | (seq & 0x3F), // transport: FIR|FIN|sequence
		0xC0 | (seq & 0x0F), // application control: FIR|FIN|sequence
		dnp3FuncRead,
		dnp3GroupAnalogInput,
		dnp3VarAnalog32,
		dnp3QualifierAll,
	}
	return buildLinkFrame(dnp3CtrlRequest, dst, src, user)
}

// DecodeAnalogInputsResponse validates the link framing (sync, header
// CRC, block CRCs, declared length) and decodes the analog input
// values. When want is non-negative the response must carry exactly
// that many points.
func DecodeAnalogInputsResponse(frame []byte, want int) ([]float64, error) {
	user, err := decodeLinkFrame(frame)
	if err != nil {
		return nil, err
	}
	// transport + app control + function + IIN
	if len(user) < 5 {
		return nil, fmt.Errorf("%w: user data %d bytes", ErrFrameTooShort, len(user))
	}
	if user[2] != dnp3FuncResponse {
		return nil, fmt.Errorf("%w: application function 0x%02x, want 0x%02x", ErrFunctionMismatch, user[2], dnp3FuncResponse)
	}
	objects := user[5:]
	if len(objects) < 3 {
		return nil, fmt.Errorf("%w: missing object header", ErrFrameTooShort)
	}
	if objects[0] != dnp3GroupAnalogInput || objects[1] != dnp3VarAnalog32 {
		return nil, fmt.Errorf("%w: object g%dv%d, want g%dv%d",
			ErrMalformedFrame, objects[0], objects[1], dnp3GroupAnalogInput, dnp3VarAnalog32)
	}
	data := objects[3:]
	if len(data)%dnp3AnalogItemLen != 0 {
		return nil, fmt.Errorf("%w: %d object bytes, not a whole number of analog points", ErrMalformedFrame, len(data))
	}
	n := len(data) / dnp3AnalogItemLen
	if want >= 0 && n != want {
		return nil, fmt.Errorf("%w: %d analog values, want %d", ErrMalformedFrame, n, want)
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		item := data[i*dnp3AnalogItemLen:]
		values[i] = float64(int32(binary.LittleEndian.Uint32(item[1:5])))
	}
	return values, nil
}

// EncodeAnalogInputsResponse builds the outstation-side response frame
// for the given analog values. Used by device simulators.
func EncodeAnalogInputsResponse(seq uint8, src, dst uint16, values []int32) []byte {
	user := make([]byte, 0, 8+len(values)*dnp3AnalogItemLen)
	user = append(user,
		0xC0|(seq&0x3F),
		0xC0|(seq&0x0F),
		dnp3FuncResponse,
		0x00, 0x00, // IIN: no indications
		dnp3GroupAnalogInput,
		dnp3VarAnalog32,
		dnp3QualifierAll,
	)
	for _, v := range values {
		item := make([]byte, dnp3AnalogItemLen)
		item[0] = 0x01 // ONLINE flag
		binary.LittleEndian.PutUint32(item[1:], uint32(v))
		user = append(user, item...)
	}
	return buildLinkFrame(0x44, dst, src, user)
}

func buildLinkFrame(ctrl byte, dst, src uint16, user []byte) []byte {
	header := make([]byte, 8)
	header[0] = dnp3Sync0
	header[1] = dnp3Sync1
	header[2] = byte(5 + len(user)) // LEN: control, addresses and user data, checksums excluded
	header[3] = ctrl
	binary.LittleEndian.PutUint16(header[4:6], dst)
	binary.LittleEndian.PutUint16(header[6:8], src)

	frame := make([]byte, 0, dnp3LinkHeaderLen+len(user)+2*(len(user)/dnp3BlockSize+1))
	frame = append(frame, header...)
	crc := crcDNP(header)
	frame = append(frame, byte(crc), byte(crc>>8))
	return appendUserBlocks(frame, user)
}

func decodeLinkFrame(frame []byte) ([]byte, error) {
	if len(frame) < dnp3LinkHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrFrameTooShort, len(frame), dnp3LinkHeaderLen)
	}
	if frame[0] != dnp3Sync0 || frame[1] != dnp3Sync1 {
		return nil, fmt.Errorf("%w: sync 0x%02x%02x", ErrMalformedFrame, frame[0], frame[1])
	}
	received := binary.LittleEndian.Uint16(frame[8:10])
	if computed := crcDNP(frame[0:8]); computed != received {
		return nil, fmt.Errorf("%w: link header crc 0x%04x, computed 0x%04x", ErrCRCMismatch, received, computed)
	}
	user, err := stripUserBlocks(frame[dnp3LinkHeaderLen:])
	if err != nil {
		return nil, err
	}
	if declared := int(frame[2]) - 5; declared != len(user) {
		return nil, fmt.Errorf("%w: declared %d user bytes, got %d", ErrMalformedFrame, declared, len(user))
	}
	return user, nil
}

// appendUserBlocks splits user data into 16-byte blocks, each followed
// by its own CRC, low byte first.
func appendUserBlocks(dst, user []byte) []byte {
	for len(user) > 0 {
		n := len(user)
		if n > dnp3BlockSize {
			n = dnp3BlockSize
		}
		dst = append(dst, user[:n]...)
		crc := crcDNP(user[:n])
		dst = append(dst, byte(crc), byte(crc>>8))
		user = user[n:]
	}
	return dst
}

func stripUserBlocks(data []byte) ([]byte, error) {
	var user []byte
	for len(data) > 0 {
		n := dnp3BlockSize
		if len(data) < dnp3BlockSize+2 {
			n = len(data) - 2
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: dangling block bytes", ErrMalformedFrame)
		}
		block := data[:n]
		received := binary.LittleEndian.Uint16(data[n : n+2])
		if computed := crcDNP(block); computed != received {
			return nil, fmt.Errorf("%w: block crc 0x%04x, computed 0x%04x", ErrCRCMismatch, received, computed)
		}
		user = append(user, block...)
		data = data[n+2:]
	}
	return user, nil
}

// dnp3ResponseBodyLen derives the remaining frame size from a link
// header: user bytes plus one checksum per block.
func dnp3ResponseBodyLen(header []byte) (int, error) {
	if len(header) < dnp3LinkHeaderLen {
		return 0, fmt.Errorf("%w: link header %d bytes", ErrFrameTooShort, len(header))
	}
	if header[0] != dnp3Sync0 || header[1] != dnp3Sync1 {
		return 0, fmt.Errorf("%w: sync 0x%02x%02x", ErrMalformedFrame, header[0], header[1])
	}
	userLen := int(header[2]) - 5
	if userLen < 0 {
		return 0, fmt.Errorf("%w: link length %d", ErrMalformedFrame, header[2])
	}
	blocks := (userLen + dnp3BlockSize - 1) / dnp3BlockSize
	return userLen + 2*blocks, nil
}
