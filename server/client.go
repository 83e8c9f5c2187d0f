package server

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chatd/protocol"

	"github.com/google/uuid"
)

// Client is one command-channel connection. Every outbound line goes
// through out and is written by a single goroutine, so replies and pushes
// from other connections never interleave on the wire.
type Client struct {
	conn net.Conn
	base *slog.Logger

	userID atomic.Int64
	logger atomic.Pointer[slog.Logger]

	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writerDone   chan struct{}
	writeTimeout time.Duration
}

func newClient(conn net.Conn, queue int, writeTimeout time.Duration, logger *slog.Logger) *Client {
	if queue <= 0 {
		queue = 1
	}
	c := &Client{
		conn:         conn,
		base:         logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String()),
		out:          make(chan []byte, queue),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.logger.Store(c.base)
	go c.writeLoop()
	return c
}

// UserID returns the authenticated user id, or zero before login.
func (c *Client) UserID() int64 { return c.userID.Load() }

func (c *Client) Authenticated() bool { return c.userID.Load() != 0 }

// log returns the connection logger, tagged with user_id while logged in.
func (c *Client) log() *slog.Logger { return c.logger.Load() }

func (c *Client) setUser(id int64) {
	c.userID.Store(id)
	c.logger.Store(c.base.With("user_id", id))
}

// clearUser detaches the connection from its user and returns the previous id.
func (c *Client) clearUser() int64 {
	c.logger.Store(c.base)
	return c.userID.Swap(0)
}

// detachUser clears the connection's user only while it is still id. It
// reports whether the connection was detached.
func (c *Client) detachUser(id int64) bool {
	if !c.userID.CompareAndSwap(id, 0) {
		return false
	}
	c.logger.Store(c.base)
	return true
}

// Reply queues a direct response to this connection's own request. It waits
// for queue space because the only producer that can block here is the
// connection's own reader.
func (c *Client) Reply(resp *protocol.Response) {
	line, err := resp.Encode()
	if err != nil {
		c.log().Error("encode response", "error", err)
		return
	}
	select {
	case c.out <- line:
	case <-c.done:
	}
}

// Push queues an unsolicited envelope originating from another connection.
// It never blocks: a full queue drops the envelope.
func (c *Client) Push(resp *protocol.Response) bool {
	line, err := resp.Encode()
	if err != nil {
		c.log().Error("encode push", "error", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- line:
		return true
	case <-c.done:
		return false
	default:
		c.log().Warn("outbound queue full, dropping push", "message", resp.Message)
		return false
	}
}

// Close stops the connection. Lines already queued are flushed before the
// socket is closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Wait blocks until the writer has flushed and closed the socket.
func (c *Client) Wait() {
	<-c.writerDone
}

func (c *Client) writeLoop() {
	defer close(c.writerDone)
	defer c.conn.Close()

	for {
		select {
		case line := <-c.out:
			if !c.write(line) {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case line := <-c.out:
					if !c.write(line) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(line []byte) bool {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(line); err != nil {
		c.log().Debug("write failed", "error", err)
		return false
	}
	return true
}
