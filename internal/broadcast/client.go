package broadcast

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the per-message write deadline.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the read
	// deadline trips. Pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound command frames.
	maxMessageSize = 1024
	// clientBuffer is the per-client outbound queue; the hub evicts a
	// client whose queue overflows.
	clientBuffer = 64
)

// clientCommand is an inbound request from a websocket client.
type clientCommand struct {
	Type    string `json:"type"`
	AlertID string `json:"alert_id"`
	User    string `json:"user"`
}

type acknowledgeResponse struct {
	Type    string `json:"type"`
	AlertID string `json:"alert_id"`
	Success bool   `json:"success"`
}

type currentValue struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
	Quality   string  `json:"quality"`
}

type currentDataResponse struct {
	Type string                  `json:"type"`
	Data map[string]currentValue `json:"data"`
}

// Client bridges one websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		logger: logger,
	}
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump consumes client commands until the connection drops, then
// detaches the client from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump serializes all writes to the connection: broadcast
// events, command responses and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.logger.Warn("Malformed client message", zap.Error(err))
		return
	}

	switch cmd.Type {
	case "acknowledge_alert":
		user := cmd.User
		if user == "" {
			user = "unknown"
		}
		err := c.hub.backend.AcknowledgeAlert(cmd.AlertID, user)
		if err != nil {
			c.logger.Warn("Acknowledge failed",
				zap.String("alert_id", cmd.AlertID),
				zap.Error(err))
		}
		c.reply(acknowledgeResponse{
			Type:    "acknowledge_response",
			AlertID: cmd.AlertID,
			Success: err == nil,
		})

	case "get_current_data":
		data := make(map[string]currentValue)
		for id, sample := range c.hub.backend.CurrentData() {
			data[id] = currentValue{
				Value:     sample.Value,
				Timestamp: sample.Timestamp.Format(time.RFC3339),
				Quality:   string(sample.Quality),
			}
		}
		c.reply(currentDataResponse{Type: "current_data", Data: data})

	default:
		c.logger.Debug("Ignoring unknown client command", zap.String("type", cmd.Type))
	}
}

// reply queues a response on the client's send channel so command
// answers and broadcasts share one writer.
func (c *Client) reply(payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	select {
	case c.send <- body:
	default:
		c.logger.Warn("Client send buffer full, dropping response",
			zap.String("remote", c.remoteAddr()))
	}
}
