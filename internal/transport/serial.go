package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// serialDialer opens an RS-485/RS-232 line through the host's serial
// driver for Modbus RTU devices.
type serialDialer struct {
	device string
	mode   *serial.Mode
}

func newSerialDialer(cfg model.ProtocolConfig) serialDialer {
	return serialDialer{
		device: cfg.SerialPort,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: cfg.ByteSize,
			Parity:   parityFor(cfg.Parity),
			StopBits: stopBitsFor(cfg.StopBits),
		},
	}
}

func (d serialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	port, err := serial.Open(d.device, d.mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.device, err)
	}
	return &serialPort{Port: port}, nil
}

// serialPort adapts the driver's read timeout to the deadline interface
// the exchange loop uses for net.Conn.
type serialPort struct {
	serial.Port
}

func (p *serialPort) SetDeadline(t time.Time) error {
	return p.Port.SetReadTimeout(time.Until(t))
}

func parityFor(parity string) serial.Parity {
	switch parity {
	case "E":
		return serial.EvenParity
	case "O":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsFor(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
