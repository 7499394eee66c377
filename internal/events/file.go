package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

// FileSink appends envelopes to an NDJSON file, rotating it by size
type FileSink struct {
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	mu         sync.Mutex
}

// NewFileSink opens (or creates) path for appending. maxSizeMB <= 0 disables rotation.
func NewFileSink(path string, maxSizeMB, maxBackups int) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log file: %w", err)
	}
	return &FileSink{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		file:       file,
	}, nil
}

// Publish writes one line per event and syncs the file
func (fs *FileSink) Publish(_ context.Context, events []*models.SaleEvent) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.maxBytes > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > fs.maxBytes {
			if err := fs.rotate(); err != nil {
				slog.Warn("failed to rotate event log", "path", fs.path, "error", err)
			}
		}
	}

	for _, ev := range events {
		data, err := Encode(ev)
		if err != nil {
			return err
		}
		if _, err := fs.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write sale event %d: %w", ev.Sequence, err)
		}
	}
	return fs.file.Sync()
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens it
func (fs *FileSink) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.path, i), fmt.Sprintf("%s.%d", fs.path, i+1))
	}
	_ = os.Rename(fs.path, fs.path+".1")
	if fs.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.path, fs.maxBackups+1))
	}

	file, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Name returns "file"
func (fs *FileSink) Name() string { return "file" }

// Close closes the file
func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
