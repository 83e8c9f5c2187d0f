package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatd/protocol"
)

const (
	maxCommandLine = 1 << 20
	sweepInterval  = time.Minute
)

type ServerConfig struct {
	CommandAddr     string
	FileAddr        string
	RelayAddr       string
	UploadDir       string
	WriteTimeout    time.Duration
	FileIdleTimeout time.Duration
	TransferTTL     time.Duration
	OutboundQueue   int
}

type Server struct {
	store     Store
	config    *ServerConfig
	logger    *slog.Logger
	sessions  *Registry
	transfers *Transfers
	calls     *Calls
	commands  map[protocol.Command]command

	mu        sync.Mutex
	clients   map[*Client]struct{}
	fileConns map[net.Conn]struct{}
	cmdLn     net.Listener
	fileLn    net.Listener
	relay     *Relay
	closing   atomic.Bool
	wg        sync.WaitGroup
	startedAt time.Time
}

func New(store Store, config *ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     store,
		config:    config,
		logger:    logger,
		sessions:  NewRegistry(),
		transfers: NewTransfers(config.UploadDir, config.TransferTTL, logger),
		calls:     NewCalls(),
		clients:   make(map[*Client]struct{}),
		fileConns: make(map[net.Conn]struct{}),
		startedAt: time.Now(),
	}
	s.commands = s.routes()
	return s
}

// Listen binds the command, file and relay sockets.
func (s *Server) Listen() error {
	cmdLn, err := net.Listen("tcp", s.config.CommandAddr)
	if err != nil {
		return fmt.Errorf("listen command channel: %w", err)
	}
	fileLn, err := net.Listen("tcp", s.config.FileAddr)
	if err != nil {
		cmdLn.Close()
		return fmt.Errorf("listen file channel: %w", err)
	}
	var relay *Relay
	if s.config.RelayAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", s.config.RelayAddr)
		if err != nil {
			cmdLn.Close()
			fileLn.Close()
			return fmt.Errorf("resolve relay address: %w", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			cmdLn.Close()
			fileLn.Close()
			return fmt.Errorf("listen relay: %w", err)
		}
		relay = NewRelay(conn, s.mediaTarget, s.logger)
	}

	s.mu.Lock()
	s.cmdLn, s.fileLn, s.relay = cmdLn, fileLn, relay
	s.mu.Unlock()
	return nil
}

// Addrs returns the bound command, file and relay addresses. The relay
// address is nil when the relay is disabled.
func (s *Server) Addrs() (command, file, relay net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdLn != nil {
		command = s.cmdLn.Addr()
	}
	if s.fileLn != nil {
		file = s.fileLn.Addr()
	}
	if s.relay != nil {
		relay = s.relay.Addr()
	}
	return command, file, relay
}

// Serve accepts on the bound sockets until ctx is cancelled or Shutdown is
// called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	cmdLn, fileLn, relay := s.cmdLn, s.fileLn, s.relay
	s.mu.Unlock()
	if cmdLn == nil || fileLn == nil {
		return errors.New("server: Listen must be called before Serve")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("chat server started", "command_addr", cmdLn.Addr().String(),
		"file_addr", fileLn.Addr().String(), "relay_enabled", relay != nil)

	errc := make(chan error, 3)
	go func() { errc <- s.acceptLoop(cmdLn, s.handleConnection) }()
	go func() { errc <- s.acceptLoop(fileLn, s.handleFileConnection) }()
	if relay != nil {
		go func() { errc <- relay.Serve() }()
	}
	go s.transfers.Run(ctx, sweepInterval)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	s.Shutdown("shutdown", time.Time{})
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

// handleConnection runs the command channel read loop for one connection.
func (s *Server) handleConnection(conn net.Conn) {
	c := newClient(conn, s.config.OutboundQueue, s.config.WriteTimeout, s.logger)
	if !s.track(c) {
		c.Close()
		c.Wait()
		return
	}
	c.log().Info("client connected")

	defer func() {
		s.disconnect(c)
		s.untrack(c)
		c.Close()
		c.Wait()
		c.log().Info("client disconnected")
	}()

	reader := bufio.NewReaderSize(conn, 4096)
	for {
		raw, err := readCommandLine(reader, maxCommandLine)
		if errors.Is(err, errLineTooLong) {
			c.log().Warn("request line too long", "limit", maxCommandLine)
			c.Reply(protocol.Fail("Invalid request format."))
			continue
		}
		if line := strings.TrimSpace(string(raw)); line != "" {
			req, decodeErr := protocol.DecodeRequest([]byte(line))
			if decodeErr != nil {
				c.log().Warn("malformed request", "error", decodeErr)
				c.Reply(protocol.Fail("Invalid request format."))
			} else {
				c.Reply(s.dispatch(c, req))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log().Debug("read loop ended", "error", err)
			}
			return
		}
	}
}

var errLineTooLong = errors.New("request line too long")

// readCommandLine reads up to and including the next newline. A line longer
// than limit is discarded through its newline and reported as errLineTooLong.
func readCommandLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.ReadSlice('\n')
			}
			return nil, errLineTooLong
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func (s *Server) track(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// trackFile registers a file-channel connection so Shutdown can cut it off.
func (s *Server) trackFile(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.fileConns[conn] = struct{}{}
	return true
}

func (s *Server) untrackFile(conn net.Conn) {
	s.mu.Lock()
	delete(s.fileConns, conn)
	s.mu.Unlock()
}

// disconnect releases everything bound to the connection's user.
func (s *Server) disconnect(c *Client) {
	if userID := c.clearUser(); userID != 0 {
		s.releaseUser(c, userID)
	}
}

// releaseUser unbinds userID from c. Presence and call state are only torn
// down when c was still the user's registered connection.
func (s *Server) releaseUser(c *Client, userID int64) {
	if !s.sessions.Unbind(userID, c) {
		c.log().Info("superseded connection released", "user_id", userID)
		return
	}
	if err := s.store.SetUserOnline(userID, false); err != nil {
		c.log().Error("mark user offline", "user_id", userID, "error", err)
	}
	s.dropCall(userID, "disconnected")
}

// mediaTarget is the relay's view of the call table: only logged-in users
// in an accepted call receive media.
func (s *Server) mediaTarget(userID int64) (*net.UDPAddr, bool) {
	if !s.sessions.Online(userID) {
		return nil, false
	}
	return s.calls.MediaTarget(userID)
}

// Shutdown closes the listeners and any file transfers in flight, then
// notifies and closes every command connection. It is safe to call more than once.
func (s *Server) Shutdown(reason string, until time.Time) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	closers := []interface{ Close() error }{}
	if s.cmdLn != nil {
		closers = append(closers, s.cmdLn)
	}
	if s.fileLn != nil {
		closers = append(closers, s.fileLn)
	}
	if s.relay != nil {
		closers = append(closers, s.relay)
	}
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	for conn := range s.fileConns {
		closers = append(closers, conn)
	}
	s.mu.Unlock()

	// In-flight uploads see a read error and are discarded as incomplete.
	for _, cl := range closers {
		cl.Close()
	}

	notice := map[string]string{"reason": reason}
	if !until.IsZero() {
		notice["until"] = until.UTC().Format(time.RFC3339)
	}
	event := protocol.WithPayload(true, protocol.EventShutdown, notice)
	for _, c := range clients {
		c.Push(event)
		c.Close()
	}
	s.logger.Info("server shutting down", "reason", reason, "connections", len(clients))
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.Lock()
	connections := len(s.clients)
	relay := s.relay
	s.mu.Unlock()

	users := s.sessions.UserIDs()
	ids := make([]string, len(users))
	for i, id := range users {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var forwarded, dropped uint64
	if relay != nil {
		forwarded, dropped = relay.Stats()
	}

	return "connections=" + strconv.Itoa(connections) +
		",users=" + strings.Join(ids, ";") +
		",transfers=" + strconv.Itoa(s.transfers.Len()) +
		",calls=" + strconv.Itoa(s.calls.Len()) +
		",relay_forwarded=" + strconv.FormatUint(forwarded, 10) +
		",relay_dropped=" + strconv.FormatUint(dropped, 10) +
		",uptime=" + time.Since(s.startedAt).Truncate(time.Second).String()
}
