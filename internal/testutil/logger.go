package testutil

import (
	"bytes"
	"log/slog"
	"sync"
)

// NewBufferLogger returns a debug-level slog logger backed by a buffer and the buffer for assertions.
func NewBufferLogger() (*slog.Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, buf
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers such as scheduler goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
