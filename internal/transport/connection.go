package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/protocol"
)

// State describes the lifecycle of a device connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErrored
)

// String returns the state name for logs and diagnostics.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "error"
	default:
		return "unknown"
	}
}

// Dialer opens the byte stream to a device. Implementations exist for
// TCP and serial lines; tests substitute in-memory pipes.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// deadlineSetter is satisfied by net.Conn and the serial port wrapper.
type deadlineSetter interface {
	SetDeadline(t time.Time) error
}

// netDialer connects to TCP-attached devices.
type netDialer struct {
	address string
	timeout time.Duration
}

func (d netDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.address, err)
	}
	return conn, nil
}

// RetryStrategy defines the interface for retry delay strategies
type RetryStrategy interface {
	// NextRetry calculates the delay before the given retry attempt
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the next retry delay using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}
	// Up to 10% jitter.
	return time.Duration(delay * (1 + 0.1*rand.Float64()))
}

// Connection owns one device link and runs request/response exchanges
// over it. Each scan task holds its own connection; Close may be called
// from the task owner while an exchange is idle.
type Connection struct {
	dialer   Dialer
	timeout  time.Duration
	attempts int
	strategy RetryStrategy
	logger   *zap.Logger

	mu    sync.Mutex
	conn  io.ReadWriteCloser
	state State
}

// NewConnection creates a connection for the device settings, choosing
// the dialer from the configured protocol.
func NewConnection(cfg model.ProtocolConfig, logger *zap.Logger) (*Connection, error) {
	cfg = cfg.Normalized()
	dialer, err := dialerFor(cfg)
	if err != nil {
		return nil, err
	}
	return NewConnectionWithDialer(cfg, dialer, logger), nil
}

// NewConnectionWithDialer creates a connection with a caller-supplied
// dialer. Tests use it to run exchanges over in-memory devices.
func NewConnectionWithDialer(cfg model.ProtocolConfig, dialer Dialer, logger *zap.Logger) *Connection {
	cfg = cfg.Normalized()
	return &Connection{
		dialer:   dialer,
		timeout:  cfg.Timeout,
		attempts: cfg.Retries,
		strategy: &ExponentialBackoff{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		logger: logger.Named("transport"),
		state:  StateDisconnected,
	}
}

// Execute runs one request/response exchange, reconnecting between
// attempts. It tries up to the configured retry count and wraps the
// last failure in ErrCommunicationFailure.
func (c *Connection) Execute(ctx context.Context, ex *protocol.Exchange) (protocol.Values, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, c.strategy.NextRetry(attempt-1)); err != nil {
				return nil, err
			}
		}

		values, err := c.exchange(ctx, ex)
		if err == nil {
			return values, nil
		}

		lastErr = err
		c.drop()
		c.logger.Warn("Exchange failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	c.setState(StateErrored)
	return nil, fmt.Errorf("%w: %v", ErrCommunicationFailure, lastErr)
}

// State reports the connection lifecycle for diagnostics.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the device link.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	return err
}

// exchange performs a single write/read cycle. The response is read in
// two stages: a fixed header, then the body length the header declares.
func (c *Connection) exchange(ctx context.Context, ex *protocol.Exchange) (protocol.Values, error) {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	if d, ok := conn.(deadlineSetter); ok {
		if err := d.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := conn.Write(ex.Frame); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	header := make([]byte, ex.HeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}

	bodyLen, err := ex.BodyLen(header)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, ex.HeaderLen+bodyLen)
	copy(frame, header)
	if _, err := io.ReadFull(conn, frame[ex.HeaderLen:]); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return ex.Decode(frame)
}

func (c *Connection) ensureConnected(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	c.state = StateConnecting
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx)
	if err != nil {
		c.state = StateErrored
		return nil, err
	}

	c.conn = conn
	c.state = StateConnected
	c.logger.Debug("Device connected")
	return conn, nil
}

// drop closes the link so the next attempt redials. Responses already
// in flight are discarded with it.
func (c *Connection) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Connection) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dialerFor(cfg model.ProtocolConfig) (Dialer, error) {
	switch cfg.Protocol {
	case model.ProtocolModbusRTU:
		if cfg.SerialPort == "" {
			return nil, fmt.Errorf("protocol %s requires a serial port", cfg.Protocol)
		}
		return newSerialDialer(cfg), nil
	case model.ProtocolModbusTCP, model.ProtocolDNP3, model.ProtocolIEC61850:
		if cfg.Host == "" {
			return nil, fmt.Errorf("protocol %s requires a host", cfg.Protocol)
		}
		return netDialer{address: tcpAddress(cfg), timeout: cfg.Timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

// tcpAddress resolves the endpoint, falling back to the protocol's
// well-known port when none is configured.
func tcpAddress(cfg model.ProtocolConfig) string {
	port := cfg.Port
	if port == 0 {
		switch cfg.Protocol {
		case model.ProtocolDNP3:
			port = 20000
		case model.ProtocolIEC61850:
			port = 102
		default:
			port = 502
		}
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}
