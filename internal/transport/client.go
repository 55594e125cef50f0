package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Emitter is the outbound half of the controller channel; the session and
// the connection monitor emit through it.
type Emitter interface {
	Emit(event string, payload any) error
}

// EventHandler consumes one inbound controller event. Handlers run on the
// read loop, so inbound events are processed one at a time in arrival order.
type EventHandler func(ctx context.Context, event string, payload json.RawMessage)

// Client is a socket.io client over one websocket connection. It owns the
// engine.io handshake, the ping/pong keepalive and a buffered emit queue.
// Reconnection is the connection monitor's job: a failed client is closed
// and replaced, never revived.
type Client struct {
	log     *slog.Logger
	url     string
	timeout time.Duration
	handler EventHandler

	conn   *websocket.Conn
	emitCh chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient prepares a client for one connection attempt.
func NewClient(log *slog.Logger, rawURL string, connectTimeout time.Duration, emitBuffer int, handler EventHandler) *Client {
	return &Client{
		log:     log,
		url:     rawURL,
		timeout: connectTimeout,
		handler: handler,
		emitCh:  make(chan []byte, emitBuffer),
		done:    make(chan struct{}),
	}
}

// Connect dials the controller, completes the engine.io open and socket.io
// namespace handshake, and starts the read and write loops.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := socketIOEndpoint(c.url)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	hs, err := c.awaitOpen(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, connectFrame()); err != nil {
		conn.Close()
		return fmt.Errorf("sending namespace connect: %w", err)
	}
	if err := c.awaitNamespaceAck(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.log.Debug("controller channel established",
		"sid", hs.SID, "ping_interval_ms", hs.PingInterval)

	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	return nil
}

func (c *Client) awaitOpen(conn *websocket.Conn) (*handshake, error) {
	conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading engine.io open: %w", err)
	}
	frame, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	if frame.engineType != engineOpen || frame.handshake == nil {
		return nil, fmt.Errorf("expected engine.io open, got packet type %q", frame.engineType)
	}
	return frame.handshake, nil
}

func (c *Client) awaitNamespaceAck(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading namespace ack: %w", err)
		}
		frame, err := decodeFrame(data)
		if err != nil {
			return err
		}
		switch {
		case isNamespaceAck(frame):
			return nil
		case frame.engineType == engineMessage && frame.socketType == socketConnectError:
			return fmt.Errorf("controller refused namespace connect")
		case frame.engineType == enginePing:
			if err := conn.WriteMessage(websocket.TextMessage, pongFrame()); err != nil {
				return err
			}
		}
	}
}

// Emit queues one event frame. It fails when the queue is full or the client
// is closed, never blocks.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("emit %s: client closed", event)
	}

	select {
	case c.emitCh <- frame:
		return nil
	default:
		return fmt.Errorf("emit %s: queue full", event)
	}
}

// Done is closed when the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warn("controller channel read failed", "error", err)
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed controller frame", "error", err)
			continue
		}

		switch frame.engineType {
		case enginePing:
			select {
			case c.emitCh <- pongFrame():
			default:
				c.log.Warn("emit queue full, pong dropped")
			}
		case engineClose:
			return
		case engineMessage:
			if frame.socketType == socketEvent && c.handler != nil {
				c.handler(ctx, frame.event, frame.payload)
			}
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case frame := <-c.emitCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("controller channel write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// socketIOEndpoint rewrites the configured base URL into the engine.io
// websocket endpoint, preserving any query parameters already present.
func socketIOEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing transport url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported transport scheme %q", u.Scheme)
	}
	if !strings.Contains(u.Path, "/socket.io") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
