package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// activeName is the filename of the currently writable segment.
const activeName = "audit.log"

// segmentMode restricts the trail to owner read/write. The trail names
// students and educators; world-readable audit files would leak the data the
// trail exists to protect.
const segmentMode = 0o600

// Options configures a Trail. Zero sinks and a missing archive dir are valid;
// the local segment is the only hard requirement.
type Options struct {
	LogDir          string
	ArchiveDir      string
	MaxSegmentBytes int64
	RetainRaw       bool
	LocalEnabled    bool
	Sinks           []SinkOptions
	Logger          *slog.Logger
}

// SinkOptions pairs a sink with its own retry and pacing settings. Zero values
// fall back to three attempts and 50 entries per second.
type SinkOptions struct {
	Sink        Sink
	MaxAttempts int
	RatePerSec  float64
}

// Trail is the append-only audit log for one process. Appends and the
// rotation check are serialized by a single writer mutex; archival and sink
// delivery run off the request path.
type Trail struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	size    int64
	seq     uint64
	lastTS  time.Time
	closed  bool
	dropped uint64 // rotated segments that missed the archival queue

	archiveCh   chan string
	archiveDone chan struct{}
	fanout      *fanout
}

// Open creates or resumes the trail in opts.LogDir. An existing active
// segment is scanned so the sequence continues instead of restarting.
func Open(opts Options) (*Trail, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = 32 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log dir: %w", err)
	}
	if opts.ArchiveDir != "" {
		if err := os.MkdirAll(opts.ArchiveDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit archive dir: %w", err)
		}
	}

	t := &Trail{
		opts:        opts,
		logger:      opts.Logger,
		archiveCh:   make(chan string, 16),
		archiveDone: make(chan struct{}),
	}

	if opts.LocalEnabled {
		if err := t.openSegment(); err != nil {
			return nil, err
		}
		if err := t.resumeSequence(); err != nil {
			t.file.Close()
			return nil, err
		}
	}

	go t.archiveLoop()
	if len(opts.Sinks) > 0 {
		t.fanout = newFanout(t, opts.Sinks, opts.Logger)
	}
	return t, nil
}

// Record appends one entry, flushed to disk before return, then hands it to
// the sink fan-out. It never fails the caller: audit infrastructure errors
// are logged loudly and swallowed, because refusing service over degraded
// logging is worse than a conspicuous gap in evidence.
func (t *Trail) Record(e Entry) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Error("audit entry after close, dropping", "event_type", e.EventType)
		return
	}
	t.fillLocked(&e)

	line, err := json.Marshal(e)
	if err != nil {
		t.mu.Unlock()
		t.logger.Error("audit entry marshal failed", "error", err, "event_type", e.EventType)
		return
	}
	line = append(line, '\n')

	if t.opts.LocalEnabled {
		t.writeLocked(line, e)
	}
	t.mu.Unlock()

	if t.fanout != nil {
		t.fanout.enqueue(e)
	}
}

// fillLocked assigns defaults under the writer lock so sequence numbers are a
// total order and timestamps never run backwards within the process.
func (t *Trail) fillLocked(e *Entry) {
	t.seq++
	e.Seq = t.seq
	if e.EntryID == "" {
		e.EntryID = "aud_" + uuid.NewString()
	}
	now := time.Now().UTC()
	if now.Before(t.lastTS) {
		now = t.lastTS
	}
	t.lastTS = now
	e.Timestamp = now
	if e.EventType == "" {
		e.EventType = EventSecurity
	}
}

// writeLocked rotates if the active segment is at the threshold, then appends
// and flushes. Failures are logged loudly and swallowed.
func (t *Trail) writeLocked(line []byte, e Entry) {
	if t.size >= t.opts.MaxSegmentBytes {
		if err := t.rotateLocked(); err != nil {
			t.logger.Error("audit rotation failed, appending to oversized segment", "error", err)
		}
	}
	if err := t.appendLocked(line); err != nil {
		// The compliance-critical failure: surface loudly, keep serving.
		t.logger.Error("AUDIT LOCAL WRITE FAILURE, entry lost from local trail",
			"error", err, "event_type", e.EventType, "seq", e.Seq)
	}
}

func (t *Trail) appendLocked(line []byte) error {
	n, err := t.file.Write(line)
	t.size += int64(n)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("syncing audit segment: %w", err)
	}
	return nil
}

// rotateLocked closes the active segment, renames it to a timestamped file,
// opens a fresh segment, and queues the closed one for archival. Callers hold
// the writer lock, so no entry can land in a segment mid-rotation.
func (t *Trail) rotateLocked() error {
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("closing active segment: %w", err)
	}

	rotated := filepath.Join(t.opts.LogDir,
		fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(filepath.Join(t.opts.LogDir, activeName), rotated); err != nil {
		// Reopen the old segment so appends keep working.
		if reopenErr := t.openSegment(); reopenErr != nil {
			return fmt.Errorf("renaming segment: %v; reopening: %w", err, reopenErr)
		}
		return fmt.Errorf("renaming segment: %w", err)
	}

	if err := t.openSegment(); err != nil {
		return err
	}

	select {
	case t.archiveCh <- rotated:
	default:
		// Archiver backlogged. The raw segment stays on disk; the verify
		// command or a restart can archive it later.
		t.dropped++
		t.logger.Warn("audit archival queue full, raw segment retained", "segment", rotated)
	}
	return nil
}

func (t *Trail) openSegment() error {
	f, err := os.OpenFile(filepath.Join(t.opts.LogDir, activeName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, segmentMode)
	if err != nil {
		return fmt.Errorf("opening audit segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("statting audit segment: %w", err)
	}
	t.file = f
	t.size = info.Size()
	return nil
}

// resumeSequence scans the active segment so a restarted process continues
// its sequence instead of reissuing low numbers in the same file.
func (t *Trail) resumeSequence() error {
	f, err := os.Open(filepath.Join(t.opts.LogDir, activeName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening segment for resume: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Seq > t.seq {
			t.seq = e.Seq
		}
		if e.Timestamp.After(t.lastTS) {
			t.lastTS = e.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning segment for resume: %w", err)
	}
	return nil
}

// Close stops accepting entries, drains the archival queue and the sink
// fan-out, and closes the active segment.
func (t *Trail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.archiveCh)
	<-t.archiveDone
	if t.fanout != nil {
		t.fanout.close()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		if err := t.file.Close(); err != nil {
			return fmt.Errorf("closing audit segment: %w", err)
		}
		t.file = nil
	}
	return nil
}

// recordLocal appends an infrastructure event (e.g. a sink delivery failure)
// to the local trail only, without re-entering the fan-out. Keeping these out
// of the sink path prevents a failing sink from generating its own traffic.
func (t *Trail) recordLocal(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.opts.LocalEnabled {
		return
	}
	t.fillLocked(&e)
	line, err := json.Marshal(e)
	if err != nil {
		t.logger.Error("audit entry marshal failed", "error", err)
		return
	}
	t.writeLocked(append(line, '\n'), e)
}
