package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"chatd/models"
)

const maxTransferIDLine = 256

// handleFileConnection serves one file-channel connection: a transfer id
// line followed by the raw bytes in the announced direction.
func (s *Server) handleFileConnection(conn net.Conn) {
	defer conn.Close()
	if !s.trackFile(conn) {
		return
	}
	defer s.untrackFile(conn)
	logger := s.logger.With("remote", conn.RemoteAddr().String(), "channel", "file")

	s.setIdleDeadline(conn)
	reader := bufio.NewReaderSize(conn, 4096)
	line, err := reader.ReadSlice('\n')
	if err != nil {
		logger.Warn("read transfer id", "error", err)
		return
	}
	if len(line) > maxTransferIDLine {
		logger.Warn("transfer id line too long")
		return
	}
	id := strings.TrimSpace(string(line))

	t, err := s.transfers.Take(id)
	if err != nil {
		// Unknown, expired or already consumed: close without any I/O.
		logger.Warn("rejected file connection", "transfer_id", id, "error", err)
		return
	}
	logger = logger.With("transfer_id", t.ID, "user_id", t.UserID)

	switch t.Direction {
	case Upload:
		s.receiveUpload(conn, reader, t, logger)
	case Download:
		s.sendDownload(conn, t, logger)
	}
}

func (s *Server) receiveUpload(conn net.Conn, r io.Reader, t *Transfer, logger *slog.Logger) {
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("create upload file", "path", t.Path, "error", err)
		s.writeFileLine(conn, "File transfer failed: Server error.")
		return
	}

	src := &idleReader{conn: conn, r: r, timeout: s.config.FileIdleTimeout}
	n, copyErr := io.CopyN(f, src, t.FileSize)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil || n != t.FileSize {
		os.Remove(t.Path)
		logger.Warn("upload incomplete", "received", n, "declared", t.FileSize, "error", errors.Join(copyErr, closeErr))
		s.writeFileLine(conn, "File transfer failed: Incomplete.")
		return
	}

	msg := &models.Message{
		ChatID:      t.ChatID,
		SenderID:    t.UserID,
		Content:     t.Caption,
		MessageType: t.MediaType,
	}
	media := &models.Media{
		FileName:   t.FileName,
		FilePath:   t.StoredName(),
		FileSize:   t.FileSize,
		MediaType:  t.MediaType,
		TransferID: t.ID,
		UploadedBy: t.UserID,
	}
	if _, err := s.store.CreateMediaMessage(msg, media); err != nil {
		os.Remove(t.Path)
		logger.Error("record uploaded media", "error", err)
		s.writeFileLine(conn, "File transfer failed: Server error.")
		return
	}

	logger.Info("upload complete", "file", t.FileName, "size", n, "message_id", msg.ID)
	s.writeFileLine(conn, "File transfer complete: "+t.FileName)
	s.broadcastNewMessage(t.UserID, msg)
}

func (s *Server) sendDownload(conn net.Conn, t *Transfer, logger *slog.Logger) {
	f, err := os.Open(t.Path)
	if err != nil {
		logger.Warn("download source missing", "path", t.Path, "error", err)
		s.writeFileLine(conn, "File not found: "+t.FileName)
		return
	}
	defer f.Close()

	dst := &idleWriter{conn: conn, timeout: s.config.FileIdleTimeout}
	n, err := io.Copy(dst, f)
	if err != nil {
		logger.Warn("download interrupted", "sent", n, "error", err)
		return
	}
	logger.Info("download complete", "file", t.FileName, "size", n)
}

func (s *Server) writeFileLine(conn net.Conn, line string) {
	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	fmt.Fprintf(conn, "%s\n", line)
}

func (s *Server) setIdleDeadline(conn net.Conn) {
	if s.config.FileIdleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.config.FileIdleTimeout))
	}
}

// idleReader pushes the read deadline forward before every read, so a
// stalled peer fails the transfer while a slow but steady one does not.
type idleReader struct {
	conn    net.Conn
	r       io.Reader
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if ir.timeout > 0 {
		ir.conn.SetReadDeadline(time.Now().Add(ir.timeout))
	}
	return ir.r.Read(p)
}

type idleWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (iw *idleWriter) Write(p []byte) (int, error) {
	if iw.timeout > 0 {
		iw.conn.SetWriteDeadline(time.Now().Add(iw.timeout))
	}
	return iw.conn.Write(p)
}
