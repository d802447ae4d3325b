// Package sink routes a task's captured output to its destination:
// an in-memory buffer, a per-host file under a directory, or a live
// echo to the operator's terminal. Sinks are plain io.Writers so a
// task can feed several of them from one read loop.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Buffer is a goroutine-safe in-memory sink. The task's read loop
// writes to it while the aggregator may read accumulated bytes.
type Buffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns a copy of the accumulated content.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the number of bytes accumulated so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// DirWriter hands out one file per host under a fixed directory.
// The directory is created when the writer is constructed, so an
// unwritable path surfaces before any task starts.
type DirWriter struct {
	dir string
}

// NewDirWriter creates dir (and parents) if needed.
func NewDirWriter(dir string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirWriter{dir: dir}, nil
}

// Dir returns the directory files are created under.
func (w *DirWriter) Dir() string { return w.dir }

// Open creates the capture file for a host. Hosts are unique within a
// batch, so no two tasks ever share a file.
func (w *DirWriter) Open(host string) (*File, error) {
	path := filepath.Join(w.dir, host)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &File{f: f, path: path}, nil
}

// File is a directory-backed sink for one (host, stream) pair.
type File struct {
	f    *os.File
	path string
}

func (f *File) Write(p []byte) (int, error) { return f.f.Write(p) }

func (f *File) Close() error { return f.f.Close() }

// Location returns the path of the capture file.
func (f *File) Location() string { return f.path }

// Console serializes live echo output from many tasks onto one
// writer so chunks from different hosts do not interleave mid-write.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole wraps w, typically os.Stdout.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Host returns a sink that prefixes every chunk with "host: ".
func (c *Console) Host(host string) io.Writer {
	return &hostWriter{console: c, prefix: []byte(host + ": ")}
}

type hostWriter struct {
	console *Console
	prefix  []byte
}

func (h *hostWriter) Write(p []byte) (int, error) {
	h.console.mu.Lock()
	defer h.console.mu.Unlock()
	if _, err := h.console.w.Write(h.prefix); err != nil {
		return 0, err
	}
	if _, err := h.console.w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
