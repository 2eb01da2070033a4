// Package logger provides the line-capped file writer behind session log files.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Rotator appends to a log file and keeps it at most twice maxLines long.
// Once the file reaches that size it is rewritten with only the newest
// maxLines lines.
type Rotator struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	recent  *ringBuffer
	written int
}

// Open opens or creates the log file at path.
func Open(path string, maxLines int) (*Rotator, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	return &Rotator{
		file:   file,
		path:   path,
		recent: newRingBuffer(maxLines),
	}, nil
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.file.Write(p)
	if err != nil {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		r.recent.push(line)
		r.written++

		if r.written >= r.recent.cap()*2 {
			if err := r.compact(); err != nil {
				return n, fmt.Errorf("failed to rotate log file: %w", err)
			}
			r.written = r.recent.len()
		}
	}

	return n, nil
}

// Sync flushes the file.
func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.file.Sync()
}

// Close closes the file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.file.Close()
}

// compact replaces the file with the buffered lines through a temp file rename.
func (r *Rotator) compact() error {
	temp, err := os.CreateTemp(filepath.Dir(r.path), "rotate-*.log")
	if err != nil {
		return err
	}
	tempPath := temp.Name()

	_, err = temp.WriteString(strings.Join(r.recent.snapshot(), "\n") + "\n")
	if err == nil {
		err = temp.Sync()
	}
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	_ = r.file.Close()

	if err := os.Rename(tempPath, r.path); err != nil {
		return err
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = file

	return nil
}
