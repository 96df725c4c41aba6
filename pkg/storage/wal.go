package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

// FileWAL is a human-readable commit log: one line per block, appended after the block
// and its state are on disk. It is an audit trail, not a recovery source.
type FileWAL struct {
	mu    sync.Mutex
	f     *os.File
	fsync bool
}

// NewFileWAL opens path for appending, creating it and its directory if needed. With
// fsync set every line is fsynced.
func NewFileWAL(path string, fsync bool) (*FileWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, fsync: fsync}, nil
}

func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.f, line); err != nil {
		return
	}
	if w.fsync {
		w.f.Sync()
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// LastCommit returns the height of the last "commit" line in the log at path, or 0
// when the log is missing or has none.
func LastCommit(path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "commit ") {
			continue
		}
		var h int64
		if _, err := fmt.Sscanf(line, "commit height=%d", &h); err == nil {
			last = h
		}
	}
	return last, sc.Err()
}

var _ sequencer.WAL = (*NopWAL)(nil)
var _ sequencer.WAL = (*FileWAL)(nil)
