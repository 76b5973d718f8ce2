package storage

import (
	"fmt"
	"os"
	"sync"
)

// WAL records one append-only line per committed block, ahead of the
// next Pebble snapshot, so a crash between snapshots can replay from
// the collaborator's block log instead of losing committed-but-
// unsnapshotted blocks (spec §6 "a provider that can save a consistent
// snapshot at any commit boundary and restore it").
type WAL interface {
	Append(line string) error
}

// NopWAL discards every entry — used in tests and single-shot CLI runs
// where durability across restarts is not exercised.
type NopWAL struct{}

func NewNopWAL() *NopWAL            { return &NopWAL{} }
func (w *NopWAL) Append(string) error { return nil }

// FileWAL appends to a plain append-mode file, synced per write.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal %s: %w", path, err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *FileWAL) Close() error { return w.f.Close() }
