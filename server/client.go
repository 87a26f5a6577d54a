package server

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "office-messenger/errors"
)

const (
	sendQueueDepth = 256
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
)

// Client is one upgraded socket. All writes are serialized through the send
// queue and drained by a single write pump; control frames go through
// WriteControl, which gorilla allows concurrently with the pump.
type Client struct {
	log  *slog.Logger
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	open atomic.Bool
}

func newClient(log *slog.Logger, conn *websocket.Conn) *Client {
	c := &Client{
		log:  log,
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
		done: make(chan struct{}),
	}
	c.open.Store(true)
	conn.SetReadLimit(maxFrameSize)
	return c
}

// Send queues one outbound frame. A saturated queue means the client stopped
// reading; the frame is dropped rather than blocking a fan-out pass.
func (c *Client) Send(payload []byte) error {
	if !c.open.Load() {
		return apperrors.ErrPeerClosed
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return apperrors.ErrPeerClosed
	default:
		return fmt.Errorf("send queue saturated for %s", c.RemoteAddr())
	}
}

func (c *Client) Ping() error {
	if !c.open.Load() {
		return apperrors.ErrPeerClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears the socket down. Idempotent; the read loop, the write pump and
// the liveness sweep may all reach it.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) Open() bool { return c.open.Load() }

func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// writePump drains the send queue onto the socket. It owns every data write;
// it exits when the client closes and finishes with a close frame so the far
// end sees an orderly shutdown.
func (c *Client) writePump() {
	defer c.Close()
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug("Write deadline rejected", "addr", c.RemoteAddr(), "err", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write failed, stopping pump", "addr", c.RemoteAddr(), "err", err)
				return
			}
		case <-c.done:
			deadline := time.Now().Add(writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
