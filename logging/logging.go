package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	defaultLimit   = 2 * 1024 * 1024
	defaultBackups = 1
)

var ErrClosed = errors.New("log file closed")

// File is an append-only log that rolls over to numbered backups, path.1
// being the newest, before a write would take it past its limit.
type File struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	f       *os.File
	written int64
}

// Setup sends the standard logger to stdout and to a rolling file at path.
func Setup(path string, limit int64) (*File, error) {
	lf, err := Open(path, limit, defaultBackups)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, lf))
	return lf, nil
}

// Open appends to path. A file already over limit is rolled before use.
func Open(path string, limit int64, backups int) (*File, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	lf := &File{path: path, limit: limit, backups: max(backups, 1)}

	if info, err := os.Stat(path); err == nil && info.Size() > limit {
		if err := lf.shift(); err != nil {
			return nil, err
		}
	}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (lf *File) open() error {
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", lf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	lf.f, lf.written = f, info.Size()
	return nil
}

// shift moves path.N-1 to path.N down to path -> path.1; the oldest is dropped.
func (lf *File) shift() error {
	for i := lf.backups; i > 1; i-- {
		from := fmt.Sprintf("%s.%d", lf.path, i-1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, fmt.Sprintf("%s.%d", lf.path, i)); err != nil {
				return err
			}
		}
	}
	return os.Rename(lf.path, lf.path+".1")
}

func (lf *File) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.f == nil {
		return 0, ErrClosed
	}

	if lf.written > 0 && lf.written+int64(len(p)) > lf.limit {
		lf.f.Close()
		lf.f = nil
		shiftErr := lf.shift()
		if err := lf.open(); err != nil {
			return 0, err
		}
		if shiftErr != nil {
			fmt.Fprintf(os.Stderr, "log rollover failed: %v\n", shiftErr)
		}
	}

	n, err := lf.f.Write(p)
	lf.written += int64(n)
	return n, err
}

func (lf *File) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}
