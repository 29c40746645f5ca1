package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message-oriented transport a session runs over.
type Conn interface {
	// ReadMessage blocks until the next data frame arrives.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	// Ping sends a keepalive frame.
	Ping() error
	// Close releases the transport; it must unblock ReadMessage.
	Close() error
}

// WebSocketOptions tunes the gorilla adapter.
type WebSocketOptions struct {
	MaxPayloadBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
}

type webSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWebSocketConn adapts an upgraded gorilla connection to Conn.
func NewWebSocketConn(conn *websocket.Conn, opts WebSocketOptions) Conn {
	c := &webSocketConn{conn: conn, writeTimeout: opts.WriteTimeout}
	if opts.MaxPayloadBytes > 0 {
		conn.SetReadLimit(opts.MaxPayloadBytes)
	}
	if opts.PingInterval > 0 {
		//1.- Peers get two ping periods to answer before reads fail.
		c.pongWait = 2 * opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.pongWait))
		})
	}
	return c
}

func (c *webSocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			if c.pongWait > 0 {
				_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			}
			return data, nil
		}
	}
}

func (c *webSocketConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *webSocketConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline())
}

func (c *webSocketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	//1.- Say goodbye at the protocol level, then drop the socket regardless.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	writeErr := c.conn.WriteControl(websocket.CloseMessage, msg, c.deadline())
	if errors.Is(writeErr, websocket.ErrCloseSent) {
		writeErr = nil
	}
	return errors.Join(writeErr, c.conn.Close())
}

func (c *webSocketConn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}
