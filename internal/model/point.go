package model

import (
	"fmt"
	"time"
)

// ProtocolType identifies the field-bus protocol a device speaks
type ProtocolType string

const (
	ProtocolModbusTCP ProtocolType = "modbus_tcp"
	ProtocolModbusRTU ProtocolType = "modbus_rtu"
	ProtocolDNP3      ProtocolType = "dnp3"
	ProtocolIEC61850  ProtocolType = "iec61850"
)

// DataType describes how a point's raw value is interpreted
type DataType string

const (
	DataTypeFloat  DataType = "float"
	DataTypeBool   DataType = "bool"
	DataTypeString DataType = "string"
)

// ProtocolConfig holds the per-device connection parameters
type ProtocolConfig struct {
	Protocol   ProtocolType  `json:"protocol"`
	Host       string        `json:"host,omitempty"`
	Port       int           `json:"port,omitempty"`
	SerialPort string        `json:"serial_port,omitempty"`
	UnitID     uint8         `json:"unit_id"`
	Timeout    time.Duration `json:"timeout"`
	Retries    int           `json:"retries"`
	// Serial line settings, Modbus RTU only
	BaudRate int    `json:"baud_rate,omitempty"`
	Parity   string `json:"parity,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	ByteSize int    `json:"byte_size,omitempty"`
}

// Normalized returns a copy with unset fields replaced by defaults.
func (c ProtocolConfig) Normalized() ProtocolConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits <= 0 {
		c.StopBits = 1
	}
	if c.ByteSize <= 0 {
		c.ByteSize = 8
	}
	return c
}

// Address returns the device endpoint as a display string.
func (c ProtocolConfig) Address() string {
	if c.Protocol == ProtocolModbusRTU {
		return c.SerialPort
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringPoint is one configured measurement source. Points are
// immutable once their scan task starts; replacing a point requires
// removing it first.
type MonitoringPoint struct {
	ID            string         `json:"point_id"`
	Name          string         `json:"name"`
	DataType      DataType       `json:"data_type"`
	SourceAddress string         `json:"source_address"`
	Register      uint16         `json:"register"`
	ScanRateMS    int            `json:"scan_rate_ms"`
	AlarmHigh     *float64       `json:"alarm_high,omitempty"`
	AlarmLow      *float64       `json:"alarm_low,omitempty"`
	WarningHigh   *float64       `json:"warning_high,omitempty"`
	WarningLow    *float64       `json:"warning_low,omitempty"`
	Deadband      float64        `json:"deadband"`
	Enabled       bool           `json:"enabled"`
	Protocol      ProtocolConfig `json:"protocol_config"`
}

// ScanInterval converts the configured scan rate to a duration.
func (p MonitoringPoint) ScanInterval() time.Duration {
	return time.Duration(p.ScanRateMS) * time.Millisecond
}

// Validate checks the fields a scan task depends on.
func (p MonitoringPoint) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("point id is required")
	}
	if p.ScanRateMS <= 0 {
		return fmt.Errorf("point %s: scan rate must be positive, got %d", p.ID, p.ScanRateMS)
	}
	if p.Deadband < 0 {
		return fmt.Errorf("point %s: deadband must not be negative", p.ID)
	}
	return nil
}
