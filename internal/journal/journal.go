package journal

// ============================================================================
// Journal core
// Responsibility:
// 1. Append events to a JSON-lines file (append-only)
// 2. Replay and verify the recorded events
// 3. Rotate the file after a checkpoint, optionally compressing the archive
// 4. Buffer writes and flush on size, on interval, or on demand
// ============================================================================

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// FileInterface is the subset of *os.File the journal writes through,
// so tests can inject failures.
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options tune buffering and rotation.
type Options struct {
	BufferSize      int           // flush after this many buffered events
	FlushInterval   time.Duration // flush when the oldest buffered event is older than this
	SyncOnFlush     bool          // fsync after every flush
	CompressArchive bool          // gzip rotated files
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		BufferSize:    100,
		FlushInterval: 50 * time.Millisecond,
		SyncOnFlush:   true,
	}
}

// Journal is an append-only event log.
type Journal struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	path    string
	seq     uint64
	opts    Options
	closed  bool

	buffer        []Event
	lastFlushTime time.Time
	firstErr      error // first error hit by an observer callback
}

// Open creates the journal file or continues an existing one after its last sequence number.
func Open(path string, opts Options) (*Journal, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultOptions().FlushInterval
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	var seq uint64
	last, err := LastEvent(path)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrEmptyJournal):
	default:
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &Journal{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append assigns the next sequence number, stamps and checksums the event and
// buffers it. force flushes immediately.
func (j *Journal) Append(event Event, force bool) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	j.seq++
	event.Seq = j.seq
	event.Timestamp = time.Now().UnixMilli()
	event.Checksum = CalculateChecksum(event)
	j.buffer = append(j.buffer, event)

	needFlush := force || len(j.buffer) >= j.opts.BufferSize || time.Since(j.lastFlushTime) > j.opts.FlushInterval
	if needFlush {
		if err := j.flushLocked(); err != nil {
			return event.Seq, err
		}
	}
	return event.Seq, nil
}

// Flush writes every buffered event.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Replay flushes, then reads the file from the start, verifying each checksum
// before handing the event to handler. It stops at the first error.
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flushLocked(); err != nil {
			return err
		}
	}
	return ReplayFile(j.path, handler)
}

// ReplayFile replays a journal file without opening it for writing.
func ReplayFile(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return replay(file, handler)
}

func replay(r io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var offset int64
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		start := offset
		offset += int64(len(raw)) + 1
		if len(raw) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return &CorruptionError{Line: line, Offset: start, Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &CorruptionError{Line: line + 1, Offset: offset, Cause: err}
	}
	return nil
}

// Rotate flushes and archives the current file, then starts an empty one.
// Sequence numbers keep counting across rotations. It returns the archive path.
func (j *Journal) Rotate() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return "", ErrJournalClosed
	}
	if err := j.flushLocked(); err != nil {
		return "", err
	}
	// the current file stays open until its replacement exists, so a failed
	// rotation leaves the journal writable
	archive := j.path + "." + time.Now().Format("20060102_150405.000000000")
	if err := os.Rename(j.path, archive); err != nil {
		return "", err
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		if rerr := os.Rename(archive, j.path); rerr != nil {
			slog.Error("journal restore after failed rotation", "archive", archive, "error", rerr)
		}
		return "", err
	}
	if err := j.file.Close(); err != nil {
		slog.Warn("journal close of rotated file failed", "archive", archive, "error", err)
	}
	j.file = file
	j.encoder = json.NewEncoder(file)
	j.lastFlushTime = time.Now()

	if j.opts.CompressArchive {
		gz := archive + ".gz"
		if err := compressFile(archive, gz); err != nil {
			slog.Warn("journal archive compression failed", "archive", archive, "error", err)
		} else if err := os.Remove(archive); err == nil {
			archive = gz
		}
	}

	slog.Info("journal rotated", "archive", archive, "last_seq", j.seq)
	return archive, nil
}

// Close flushes and closes the file. A closed journal cannot be reused.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	flushErr := j.flushLocked()
	closeErr := j.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// LastSeq returns the sequence number of the last appended event.
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Err returns the first error an observer callback hit.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.firstErr
}

// ============================================================================
// Internal helpers
// ============================================================================

// flushLocked writes the buffer; the caller holds j.mu.
func (j *Journal) flushLocked() error {
	for _, event := range j.buffer {
		if err := j.encoder.Encode(event); err != nil {
			return err
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	if j.opts.SyncOnFlush {
		if err := j.file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) record(event Event) {
	if _, err := j.Append(event, false); err != nil {
		j.mu.Lock()
		if j.firstErr == nil {
			j.firstErr = err
		}
		j.mu.Unlock()
		slog.Error("journal append failed", "type", event.Type, "day", event.Day, "error", err)
	}
}

func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
