package server

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// RelayTarget resolves the UDP address media for a user should go to.
type RelayTarget func(userID int64) (*net.UDPAddr, bool)

// Relay forwards datagrams addressed by a 4-byte big-endian recipient id
// prefix. The prefix is stripped and the rest is sent unchanged.
type Relay struct {
	conn    *net.UDPConn
	resolve RelayTarget
	logger  *slog.Logger

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

func NewRelay(conn *net.UDPConn, resolve RelayTarget, logger *slog.Logger) *Relay {
	return &Relay{conn: conn, resolve: resolve, logger: logger.With("channel", "relay")}
}

func (r *Relay) Addr() net.Addr { return r.conn.LocalAddr() }

// Serve reads datagrams until the socket is closed.
func (r *Relay) Serve() error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("read datagram", "error", err)
			continue
		}
		r.forward(buf[:n], from)
	}
}

func (r *Relay) forward(packet []byte, from *net.UDPAddr) {
	if len(packet) < 4 {
		r.dropped.Add(1)
		r.logger.Debug("short datagram", "from", from.String(), "size", len(packet))
		return
	}
	recipient := int64(binary.BigEndian.Uint32(packet[:4]))
	to, ok := r.resolve(recipient)
	if !ok {
		r.dropped.Add(1)
		r.logger.Debug("no media target", "recipient", recipient, "from", from.String())
		return
	}
	if _, err := r.conn.WriteToUDP(packet[4:], to); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("forward datagram", "recipient", recipient, "to", to.String(), "error", err)
		return
	}
	r.forwarded.Add(1)
}

func (r *Relay) Close() error {
	return r.conn.Close()
}

// Stats returns the forwarded and dropped datagram counts.
func (r *Relay) Stats() (forwarded, dropped uint64) {
	return r.forwarded.Load(), r.dropped.Load()
}
