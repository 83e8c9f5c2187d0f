package server

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// Transfer is a pending file transfer announced on the command channel and
// waiting for its file-channel connection.
type Transfer struct {
	ID        string
	Direction Direction
	UserID    int64
	ChatID    int64
	FileName  string
	FileSize  int64
	MediaType string
	Caption   string
	MediaID   int64
	// Path is the server-side file. For uploads it is derived from the id.
	Path      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// StoredName is the on-disk name of an uploaded file.
func (t *Transfer) StoredName() string {
	return t.ID + "_" + sanitizeFileName(t.FileName)
}

var (
	ErrTransferNotFound = &TransferError{msg: "transfer not found"}
	ErrInvalidTransfer  = &TransferError{msg: "missing file name or size"}
)

type TransferError struct {
	msg string
}

func (e *TransferError) Error() string {
	return e.msg
}

// Transfers is the table of pending transfers. Each record is consumed at
// most once.
type Transfers struct {
	mu        sync.Mutex
	pending   map[string]*Transfer
	ttl       time.Duration
	uploadDir string
	now       func() time.Time
	logger    *slog.Logger
}

func NewTransfers(uploadDir string, ttl time.Duration, logger *slog.Logger) *Transfers {
	return &Transfers{
		pending:   make(map[string]*Transfer),
		ttl:       ttl,
		uploadDir: uploadDir,
		now:       time.Now,
		logger:    logger,
	}
}

// Announce validates t, mints its id and records it as pending.
func (ts *Transfers) Announce(t *Transfer) (string, error) {
	if strings.TrimSpace(t.FileName) == "" {
		return "", ErrInvalidTransfer
	}
	if t.Direction == Upload && t.FileSize <= 0 {
		return "", ErrInvalidTransfer
	}

	t.ID = uuid.NewString()
	t.CreatedAt = ts.now()
	if ts.ttl > 0 {
		t.ExpiresAt = t.CreatedAt.Add(ts.ttl)
	}
	if t.Direction == Upload {
		t.Path = filepath.Join(ts.uploadDir, t.StoredName())
	}

	ts.mu.Lock()
	ts.pending[t.ID] = t
	ts.mu.Unlock()

	ts.logger.Info("transfer announced", "transfer_id", t.ID, "direction", t.Direction.String(),
		"user_id", t.UserID, "file", t.FileName, "size", t.FileSize)
	return t.ID, nil
}

// Take removes and returns the record for id. Lookup and removal happen
// under one lock, so concurrent takers of the same id see exactly one
// success. Expired records are treated as absent.
func (ts *Transfers) Take(id string) (*Transfer, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.pending[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	delete(ts.pending, id)
	if ts.expired(t) {
		return nil, ErrTransferNotFound
	}
	return t, nil
}

func (ts *Transfers) expired(t *Transfer) bool {
	return !t.ExpiresAt.IsZero() && ts.now().After(t.ExpiresAt)
}

// Sweep drops expired records and returns how many were removed.
func (ts *Transfers) Sweep() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	n := 0
	for id, t := range ts.pending {
		if ts.expired(t) {
			delete(ts.pending, id)
			n++
			ts.logger.Info("transfer expired", "transfer_id", id, "user_id", t.UserID)
		}
	}
	return n
}

func (ts *Transfers) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pending)
}

// Run sweeps every interval until ctx is done.
func (ts *Transfers) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.Sweep()
		}
	}
}

// sanitizeFileName strips directory components so a client-supplied name
// cannot escape the upload directory.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		return "file"
	}
	return name
}
