package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	t.Run("Check Value", func(t *testing.T) {
		// Standard CRC-16/MODBUS check value for "123456789".
		assert.Equal(t, uint16(0x4B37), CRC16([]byte("123456789")))
	})

	t.Run("Empty Input", func(t *testing.T) {
		assert.Equal(t, uint16(0xFFFF), CRC16(nil))
	})
}

func TestEncodeReadHoldingRegisters(t *testing.T) {
	frame, err := EncodeReadHoldingRegisters(1, 1, 0, 10)
	require.NoError(t, err)

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	assert.Equal(t, expected, frame)

	t.Run("Count Out Of Range", func(t *testing.T) {
		_, err := EncodeReadHoldingRegisters(1, 1, 0, 0)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = EncodeReadHoldingRegisters(1, 1, 0, MaxRegisterCount+1)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestReadHoldingRegistersRoundTrip(t *testing.T) {
	// Every valid count must decode to exactly count values matching
	// the device's source data.
	for count := uint16(1); count <= MaxRegisterCount; count++ {
		txn := count
		_, err := EncodeReadHoldingRegisters(txn, 17, 100, count)
		require.NoError(t, err)

		values := make([]uint16, count)
		for i := range values {
			values[i] = uint16(i) * 3
		}
		response := EncodeReadHoldingRegistersResponse(txn, 17, values)

		decoded, err := DecodeReadHoldingRegistersResponse(response, txn, count)
		require.NoError(t, err, "count %d", count)
		assert.Equal(t, values, decoded)
	}
}

func TestDecodeReadHoldingRegistersResponse(t *testing.T) {
	response := EncodeReadHoldingRegistersResponse(42, 1, []uint16{500, 501})

	t.Run("Short Frame", func(t *testing.T) {
		_, err := DecodeReadHoldingRegistersResponse(response[:8], 42, 2)
		assert.ErrorIs(t, err, ErrFrameTooShort)
	})

	t.Run("Transaction Mismatch", func(t *testing.T) {
		_, err := DecodeReadHoldingRegistersResponse(response, 43, 2)
		assert.ErrorIs(t, err, ErrTransactionMismatch)
	})

	t.Run("Protocol ID", func(t *testing.T) {
		bad := append([]byte(nil), response...)
		bad[3] = 0x01
		_, err := DecodeReadHoldingRegistersResponse(bad, 42, 2)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("Declared Length Mismatch", func(t *testing.T) {
		bad := append([]byte(nil), response...)
		bad[5] = 0x20
		_, err := DecodeReadHoldingRegistersResponse(bad, 42, 2)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("Device Exception", func(t *testing.T) {
		// Exception response: fc|0x80 plus exception code 0x02.
		exception := []byte{0x00, 0x2A, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}
		_, err := DecodeReadHoldingRegistersResponse(exception, 42, 2)
		assert.ErrorIs(t, err, ErrDeviceException)
	})

	t.Run("Function Mismatch", func(t *testing.T) {
		bad := append([]byte(nil), response...)
		bad[7] = FuncWriteSingleRegister
		_, err := DecodeReadHoldingRegistersResponse(bad, 42, 2)
		assert.ErrorIs(t, err, ErrFunctionMismatch)
	})

	t.Run("Byte Count Mismatch", func(t *testing.T) {
		_, err := DecodeReadHoldingRegistersResponse(response, 42, 3)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestWriteSingleRegister(t *testing.T) {
	request := EncodeWriteSingleRegister(7, 1, 0x0010, 0x1234)
	expected := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x10, 0x12, 0x34}
	assert.Equal(t, expected, request)

	t.Run("Echo Accepted", func(t *testing.T) {
		require.NoError(t, DecodeWriteSingleRegisterResponse(request, 7, 0x0010, 0x1234))
	})

	t.Run("Echo Value Mismatch", func(t *testing.T) {
		bad := append([]byte(nil), request...)
		bad[11] = 0x35
		err := DecodeWriteSingleRegisterResponse(bad, 7, 0x0010, 0x1234)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestRTUFrameRoundTrip(t *testing.T) {
	frame := EncodeRTUFrame(1, FuncReadInputRegisters, 0x0000, 0x0001)

	payload, err := DecodeRTUFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x01}, payload)

	t.Run("Corrupted CRC Never Accepted", func(t *testing.T) {
		for i := len(frame) - 2; i < len(frame); i++ {
			bad := append([]byte(nil), frame...)
			bad[i] ^= 0xFF
			_, err := DecodeRTUFrame(bad)
			assert.ErrorIs(t, err, ErrCRCMismatch, "corrupted byte %d", i)
		}
	})

	t.Run("Corrupted Payload Never Accepted", func(t *testing.T) {
		bad := append([]byte(nil), frame...)
		bad[2] ^= 0x01
		_, err := DecodeRTUFrame(bad)
		assert.ErrorIs(t, err, ErrCRCMismatch)
	})

	t.Run("Truncated Frame", func(t *testing.T) {
		_, err := DecodeRTUFrame(frame[:3])
		assert.ErrorIs(t, err, ErrFrameTooShort)
	})
}

func TestRTUReadInputRegisters(t *testing.T) {
	request, err := EncodeRTUReadInputRegisters(5, 20, 3)
	require.NoError(t, err)

	payload, err := DecodeRTUFrame(request)
	require.NoError(t, err)
	assert.Equal(t, byte(5), payload[0])
	assert.Equal(t, byte(FuncReadInputRegisters), payload[1])

	t.Run("Round Trip", func(t *testing.T) {
		values := []uint16{110, 220, 330}
		response := EncodeRTUReadResponse(5, FuncReadInputRegisters, values)

		decoded, err := DecodeRTUReadInputRegistersResponse(response, 5, 3)
		require.NoError(t, err)
		assert.Equal(t, values, decoded)
	})

	t.Run("Unit ID Mismatch", func(t *testing.T) {
		response := EncodeRTUReadResponse(6, FuncReadInputRegisters, []uint16{1, 2, 3})
		_, err := DecodeRTUReadInputRegistersResponse(response, 5, 3)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("Count Mismatch", func(t *testing.T) {
		response := EncodeRTUReadResponse(5, FuncReadInputRegisters, []uint16{1, 2})
		_, err := DecodeRTUReadInputRegistersResponse(response, 5, 3)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestModbusTCPSession(t *testing.T) {
	session := NewModbusTCPSession(1)

	first, err := session.ReadHoldingRegisters(0, 2)
	require.NoError(t, err)
	second, err := session.ReadHoldingRegisters(0, 2)
	require.NoError(t, err)

	t.Run("Transaction IDs Advance", func(t *testing.T) {
		assert.NotEqual(t, first.Frame[:2], second.Frame[:2])
	})

	t.Run("Body Length From Header", func(t *testing.T) {
		response := EncodeReadHoldingRegistersResponse(2, 1, []uint16{9, 8})
		header := response[:second.HeaderLen]

		bodyLen, err := second.BodyLen(header)
		require.NoError(t, err)
		assert.Equal(t, len(response)-second.HeaderLen, bodyLen)

		values, err := second.Decode(response)
		require.NoError(t, err)
		assert.Equal(t, Values{9, 8}, values)
	})

	t.Run("Stale Response Rejected", func(t *testing.T) {
		// A response for the first transaction must not satisfy the second.
		response := EncodeReadHoldingRegistersResponse(1, 1, []uint16{9, 8})
		_, err := second.Decode(response)
		assert.ErrorIs(t, err, ErrTransactionMismatch)
	})
}
