package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/protocol"
)

// serveModbusRTU answers read-input-register requests from a register
// table until the link closes.
func serveModbusRTU(registers map[uint16]uint16) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		for {
			request := make([]byte, 8)
			if _, err := io.ReadFull(conn, request); err != nil {
				return
			}
			payload, err := protocol.DecodeRTUFrame(request)
			if err != nil {
				return
			}
			unit := payload[0]
			address := binary.BigEndian.Uint16(payload[2:4])
			count := binary.BigEndian.Uint16(payload[4:6])

			values := make([]uint16, count)
			for i := range values {
				values[i] = registers[address+uint16(i)]
			}
			if _, err := conn.Write(protocol.EncodeRTUReadResponse(unit, protocol.FuncReadInputRegisters, values)); err != nil {
				return
			}
		}
	}
}

// serveDNP3 reports the same analog input list for every poll.
func serveDNP3(values []int32) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		for {
			request := make([]byte, 18)
			if _, err := io.ReadFull(conn, request); err != nil {
				return
			}
			seq := request[10] & 0x3F
			dst := binary.LittleEndian.Uint16(request[4:6])
			src := binary.LittleEndian.Uint16(request[6:8])

			// The outstation answers from the polled address.
			if _, err := conn.Write(protocol.EncodeAnalogInputsResponse(seq, dst, src, values)); err != nil {
				return
			}
		}
	}
}

// serveIEC61850 answers every data-set read with the same value list.
func serveIEC61850(values []float64) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		for {
			header := make([]byte, 4)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			total := int(header[2])<<8 | int(header[3])
			rest := make([]byte, total-4)
			if _, err := io.ReadFull(conn, rest); err != nil {
				return
			}
			if _, err := conn.Write(protocol.EncodeDataSetResponse(values)); err != nil {
				return
			}
		}
	}
}

func TestPointReaderModbusRTU(t *testing.T) {
	dialer := &deviceDialer{serve: serveModbusRTU(map[uint16]uint16{3: 57})}

	point := model.MonitoringPoint{
		ID:         "F001",
		Name:       "Flow Rate",
		DataType:   model.DataTypeFloat,
		Register:   3,
		ScanRateMS: 2000,
		Enabled:    true,
		Protocol: model.ProtocolConfig{
			Protocol:   model.ProtocolModbusRTU,
			SerialPort: "/dev/ttyUSB0",
			UnitID:     5,
			Timeout:    2 * time.Second,
			Retries:    2,
			BaudRate:   19200,
		},
	}

	reader, err := NewPointReaderWithDialer(point, dialer, zap.NewNop())
	require.NoError(t, err)
	defer reader.Close()

	value, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 57.0, value)
}

func TestPointReaderDNP3(t *testing.T) {
	dialer := &deviceDialer{serve: serveDNP3([]int32{85, 42})}

	point := model.MonitoringPoint{
		ID:         "P001",
		Name:       "System Pressure",
		DataType:   model.DataTypeFloat,
		Register:   1,
		ScanRateMS: 500,
		Enabled:    true,
		Protocol: model.ProtocolConfig{
			Protocol: model.ProtocolDNP3,
			Host:     "192.168.1.102",
			UnitID:   10,
			Timeout:  2 * time.Second,
			Retries:  2,
		},
	}

	reader, err := NewPointReaderWithDialer(point, dialer, zap.NewNop())
	require.NoError(t, err)
	defer reader.Close()

	value, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, value)

	t.Run("Index Beyond Reported Points", func(t *testing.T) {
		far := point
		far.Register = 5
		reader, err := NewPointReaderWithDialer(far, &deviceDialer{serve: serveDNP3([]int32{85})}, zap.NewNop())
		require.NoError(t, err)
		defer reader.Close()

		_, err = reader.Read(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCommunicationFailure)
		assert.Contains(t, err.Error(), "index 5")
	})
}

func TestPointReaderIEC61850(t *testing.T) {
	dialer := &deviceDialer{serve: serveIEC61850([]float64{73.42, 7.25})}

	point := model.MonitoringPoint{
		ID:            "V001",
		Name:          "Bus Voltage",
		DataType:      model.DataTypeFloat,
		SourceAddress: "CTRL/Measurements",
		Register:      0,
		ScanRateMS:    1000,
		Enabled:       true,
		Protocol: model.ProtocolConfig{
			Protocol: model.ProtocolIEC61850,
			Host:     "192.168.1.103",
			UnitID:   1,
			Timeout:  2 * time.Second,
			Retries:  2,
		},
	}

	reader, err := NewPointReaderWithDialer(point, dialer, zap.NewNop())
	require.NoError(t, err)
	defer reader.Close()

	value, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 73.42, value)
}

func TestSplitDataSetPath(t *testing.T) {
	cases := []struct {
		source  string
		device  string
		dataSet string
	}{
		{"CTRL/Measurements", "CTRL", "Measurements"},
		{"Measurements", "LD0", "Measurements"},
		{"", "LD0", "Measurements"},
		{"/Measurements", "LD0", "/Measurements"},
	}
	for _, tc := range cases {
		device, dataSet := splitDataSetPath(tc.source)
		assert.Equal(t, tc.device, device, "source %q", tc.source)
		assert.Equal(t, tc.dataSet, dataSet, "source %q", tc.source)
	}
}

func TestSerialLineSettings(t *testing.T) {
	assert.Equal(t, serial.EvenParity, parityFor("E"))
	assert.Equal(t, serial.OddParity, parityFor("O"))
	assert.Equal(t, serial.NoParity, parityFor("N"))
	assert.Equal(t, serial.TwoStopBits, stopBitsFor(2))
	assert.Equal(t, serial.OneStopBit, stopBitsFor(1))
}
