package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reduced IEC 61850 profile: a data-set read carried over TPKT/COTP
// framing on port 102. This is not MMS; session negotiation and the
// full service set are out of scope. The payload is a typed list of
// float64 values supplied by the device and validated structurally.
const (
	tpktVersion   = 0x03
	tpktHeaderLen = 4

	cotpLength = 0x02
	cotpTypeDT = 0xF0
	cotpEOT    = 0x80
	cotpHdrLen = 3

	iecReadRequestMarker  = 0x52
	iecReadResponseMarker = 0xD2

	maxNameLen = 255
)

// EncodeReadDataSet builds a data-set read request naming the logical
// device and data set, wrapped in TPKT and a COTP data TPDU.
func EncodeReadDataSet(logicalDevice, dataSet string) ([]byte, error) {
	if logicalDevice == "" || dataSet == "" {
		return nil, fmt.Errorf("%w: logical device and data set are required", ErrInvalidRequest)
	}
	if len(logicalDevice) > maxNameLen || len(dataSet) > maxNameLen {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrInvalidRequest, maxNameLen)
	}
	payload := make([]byte, 0, 3+len(logicalDevice)+len(dataSet))
	payload = append(payload, iecReadRequestMarker, byte(len(logicalDevice)))
	payload = append(payload, logicalDevice...)
	payload = append(payload, byte(len(dataSet)))
	payload = append(payload, dataSet...)
	return wrapTPKT(payload), nil
}

// DecodeDataSetResponse validates the TPKT/COTP framing and decodes the
// device's value list: a response marker, a big-endian count, then that
// many IEEE-754 float64 values.
func DecodeDataSetResponse(frame []byte) ([]float64, error) {
	payload, err := unwrapTPKT(frame)
	if err != nil {
		return nil, err
	}
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrFrameTooShort, len(payload))
	}
	if payload[0] != iecReadResponseMarker {
		return nil, fmt.Errorf("%w: response marker 0x%02x", ErrMalformedFrame, payload[0])
	}
	n := int(binary.BigEndian.Uint16(payload[1:3]))
	data := payload[3:]
	if len(data) != n*8 {
		return nil, fmt.Errorf("%w: %d value bytes for %d declared values", ErrMalformedFrame, len(data), n)
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = math.Float64frombits(binary.BigEndian.Uint64(data[i*8:]))
	}
	return values, nil
}

// EncodeDataSetResponse builds the device-side response frame for the
// given values. Used by device simulators.
func EncodeDataSetResponse(values []float64) []byte {
	payload := make([]byte, 3+len(values)*8)
	payload[0] = iecReadResponseMarker
	binary.BigEndian.PutUint16(payload[1:3], uint16(len(values)))
	for i, v := range values {
		binary.BigEndian.PutUint64(payload[3+i*8:], math.Float64bits(v))
	}
	return wrapTPKT(payload)
}

func wrapTPKT(payload []byte) []byte {
	total := tpktHeaderLen + cotpHdrLen + len(payload)
	frame := make([]byte, 0, total)
	frame = append(frame, tpktVersion, 0x00, byte(total>>8), byte(total))
	frame = append(frame, cotpLength, cotpTypeDT, cotpEOT)
	return append(frame, payload...)
}

func unwrapTPKT(frame []byte) ([]byte, error) {
	if len(frame) < tpktHeaderLen+cotpHdrLen {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrFrameTooShort, len(frame), tpktHeaderLen+cotpHdrLen)
	}
	if frame[0] != tpktVersion || frame[1] != 0x00 {
		return nil, fmt.Errorf("%w: tpkt version 0x%02x%02x", ErrMalformedFrame, frame[0], frame[1])
	}
	if declared := int(frame[2])<<8 | int(frame[3]); declared != len(frame) {
		return nil, fmt.Errorf("%w: tpkt length %d for %d-byte frame", ErrMalformedFrame, declared, len(frame))
	}
	if frame[4] != cotpLength || frame[5] != cotpTypeDT || frame[6] != cotpEOT {
		return nil, fmt.Errorf("%w: cotp header %02x %02x %02x", ErrMalformedFrame, frame[4], frame[5], frame[6])
	}
	return frame[7:], nil
}

// tpktBodyLen derives the remaining frame size from a TPKT header.
func tpktBodyLen(header []byte) (int, error) {
	if len(header) < tpktHeaderLen {
		return 0, fmt.Errorf("%w: tpkt header %d bytes", ErrFrameTooShort, len(header))
	}
	if header[0] != tpktVersion {
		return 0, fmt.Errorf("%w: tpkt version 0x%02x", ErrMalformedFrame, header[0])
	}
	total := int(header[2])<<8 | int(header[3])
	if total < tpktHeaderLen+cotpHdrLen {
		return 0, fmt.Errorf("%w: tpkt length %d", ErrMalformedFrame, total)
	}
	return total - tpktHeaderLen, nil
}
