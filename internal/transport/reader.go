package transport

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/protocol"
)

// dnp3MasterAddress is the link-layer source this station claims when
// polling outstations.
const dnp3MasterAddress = 1

// PointReader runs the protocol exchange that samples one monitoring
// point. Each reader owns its device connection; readers are not safe
// for concurrent use.
type PointReader struct {
	conn    *Connection
	prepare func() (*protocol.Exchange, error)
	index   int
}

// NewPointReader builds the reader for a point from the protocol named
// in its device settings.
func NewPointReader(point model.MonitoringPoint, logger *zap.Logger) (*PointReader, error) {
	cfg := point.Protocol.Normalized()
	conn, err := NewConnection(cfg, logger.With(zap.String("point_id", point.ID)))
	if err != nil {
		return nil, fmt.Errorf("point %s: %w", point.ID, err)
	}
	return newPointReader(point, conn)
}

// NewPointReaderWithDialer is NewPointReader with the device link
// replaced by the given dialer. Tests pair it with in-memory devices.
func NewPointReaderWithDialer(point model.MonitoringPoint, dialer Dialer, logger *zap.Logger) (*PointReader, error) {
	cfg := point.Protocol.Normalized()
	conn := NewConnectionWithDialer(cfg, dialer, logger.With(zap.String("point_id", point.ID)))
	return newPointReader(point, conn)
}

func newPointReader(point model.MonitoringPoint, conn *Connection) (*PointReader, error) {
	cfg := point.Protocol.Normalized()
	r := &PointReader{conn: conn}
	register := point.Register

	switch cfg.Protocol {
	case model.ProtocolModbusTCP:
		session := protocol.NewModbusTCPSession(cfg.UnitID)
		r.prepare = func() (*protocol.Exchange, error) {
			return session.ReadHoldingRegisters(register, 1)
		}
	case model.ProtocolModbusRTU:
		session := protocol.NewModbusRTUSession(cfg.UnitID)
		r.prepare = func() (*protocol.Exchange, error) {
			return session.ReadInputRegisters(register, 1)
		}
	case model.ProtocolDNP3:
		// The outstation reports all analog inputs; the register
		// selects the point's index in that list.
		session := protocol.NewDNP3Session(dnp3MasterAddress, uint16(cfg.UnitID))
		r.index = int(register)
		r.prepare = func() (*protocol.Exchange, error) {
			return session.ReadAnalogInputs(-1), nil
		}
	case model.ProtocolIEC61850:
		device, dataSet := splitDataSetPath(point.SourceAddress)
		session := protocol.NewIEC61850Session(device, dataSet)
		r.index = int(register)
		r.prepare = func() (*protocol.Exchange, error) {
			return session.ReadDataSet()
		}
	default:
		conn.Close()
		return nil, fmt.Errorf("point %s: unsupported protocol %q", point.ID, cfg.Protocol)
	}

	return r, nil
}

// Read performs one poll and returns the point's current value.
func (r *PointReader) Read(ctx context.Context) (float64, error) {
	ex, err := r.prepare()
	if err != nil {
		return 0, err
	}

	values, err := r.conn.Execute(ctx, ex)
	if err != nil {
		return 0, err
	}
	if r.index >= len(values) {
		return 0, fmt.Errorf("%w: device returned %d values, point reads index %d",
			ErrCommunicationFailure, len(values), r.index)
	}
	return values[r.index], nil
}

// Close releases the device connection.
func (r *PointReader) Close() error {
	return r.conn.Close()
}

// State reports the device connection state for diagnostics.
func (r *PointReader) State() State {
	return r.conn.State()
}

// splitDataSetPath splits "device/dataset" source addresses. A bare
// name is treated as a data set under the default logical device.
func splitDataSetPath(source string) (string, string) {
	if device, dataSet, ok := strings.Cut(source, "/"); ok && device != "" && dataSet != "" {
		return device, dataSet
	}
	if source == "" {
		return "LD0", "Measurements"
	}
	return "LD0", source
}
