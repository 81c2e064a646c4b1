// Package recorder implements the Session Recorder from spec §4.8: an
// optional, asynchronous writer that appends one JSONL entry per frame and
// flushes on a threshold or on shutdown, without ever stalling the
// Connection's event loop. It follows the teacher's buffered-worker shape
// (internal/ws's bufPool + done-channel shutdown) adapted from a per-frame
// byte-buffer pool into a bounded entry queue.
package recorder

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Direction is which way a frame travelled across the wire.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// FrameType matches the §6 "type" field.
type FrameType string

const (
	FrameText   FrameType = "text"
	FrameBinary FrameType = "binary"
	FrameClose  FrameType = "close"
)

// Entry is one JSONL line of a recording. Data holds the already-encoded
// payload: the text itself for FrameText, base64 for FrameBinary, and the
// JSON-encoded {"code":...,"reason":...} object for FrameClose.
type Entry struct {
	ID   string    `json:"id"`
	TS   time.Time `json:"ts"`
	Dir  Direction `json:"dir"`
	Type FrameType `json:"type"`
	Data string    `json:"data"`
	// Binary is present and true only for FrameBinary entries, per spec §6.
	Binary bool `json:"binary,omitempty"`
}

// NewTextEntry builds an Entry for a text frame.
func NewTextEntry(dir Direction, text string) Entry {
	return Entry{ID: uuid.NewString(), TS: time.Now().UTC(), Dir: dir, Type: FrameText, Data: text}
}

// NewBinaryEntry builds an Entry for a binary frame, base64-encoding data.
func NewBinaryEntry(dir Direction, data []byte) Entry {
	return Entry{
		ID:     uuid.NewString(),
		TS:     time.Now().UTC(),
		Dir:    dir,
		Type:   FrameBinary,
		Data:   base64.StdEncoding.EncodeToString(data),
		Binary: true,
	}
}

// CloseInfo is the payload recorded for a close frame.
type CloseInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// NewCloseEntry builds an Entry for a close frame.
func NewCloseEntry(dir Direction, code int, reason string) Entry {
	data, _ := json.Marshal(CloseInfo{Code: code, Reason: reason})
	return Entry{ID: uuid.NewString(), TS: time.Now().UTC(), Dir: dir, Type: FrameClose, Data: string(data)}
}

// wireEntry mirrors the exact field order and presence rules of spec §6:
// ts, dir, type, data, and binary only when true.
type wireEntry struct {
	TS     string    `json:"ts"`
	Dir    Direction `json:"dir"`
	Type   FrameType `json:"type"`
	Data   string    `json:"data"`
	Binary bool      `json:"binary,omitempty"`
}

// FormatEntry renders e as one bit-exact JSONL line (without the trailing
// newline).
func FormatEntry(e Entry) ([]byte, error) {
	w := wireEntry{
		TS:     e.TS.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Dir:    e.Dir,
		Type:   e.Type,
		Data:   e.Data,
		Binary: e.Binary,
	}
	return json.Marshal(w)
}

// ParseEntry parses one JSONL line back into an Entry. The id field is not
// part of the wire format and is left empty; callers that need stable ids
// for replayed entries should mint a fresh one.
func ParseEntry(line []byte) (Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(line, &w); err != nil {
		return Entry{}, fmt.Errorf("recorder: parse entry: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil {
		return Entry{}, fmt.Errorf("recorder: parse entry timestamp %q: %w", w.TS, err)
	}
	return Entry{TS: ts, Dir: w.Dir, Type: w.Type, Data: w.Data, Binary: w.Binary}, nil
}

// Config tunes the Recorder's flush behavior.
type Config struct {
	Path          string
	FlushInterval int // flush after this many buffered entries; default 100.
	QueueCapacity int // bounded channel depth; default 1024.
}

// DefaultConfig returns the spec's stated default flush threshold of 100.
func DefaultConfig(path string) Config {
	return Config{Path: path, FlushInterval: 100, QueueCapacity: 1024}
}

// Recorder is an asynchronous, non-blocking JSONL writer. Enqueue is O(1)
// and never blocks the Connection event loop that calls it, matching spec
// §4.8's "non-blocking to callers" requirement: once the bounded queue is
// full, new entries are dropped rather than stalling the caller.
type Recorder struct {
	queue chan Entry
	done  chan struct{}
	drain chan struct{}

	stats Metadata
}

// Stats returns the accumulated Metadata for everything enqueued so far.
// It is only meaningful to call after Close returns, since the writer
// goroutine owns stats until then.
func (r *Recorder) Stats() Metadata { return r.stats }

// Start opens cfg.Path for append and launches the background writer
// goroutine. The caller must call Close to flush and release the file.
func Start(cfg Config) (*Recorder, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", cfg.Path, err)
	}

	r := &Recorder{
		queue: make(chan Entry, cfg.QueueCapacity),
		done:  make(chan struct{}),
		drain: make(chan struct{}),
	}
	go r.run(f, cfg.FlushInterval)
	return r, nil
}

func (r *Recorder) run(f *os.File, flushInterval int) {
	defer close(r.drain)
	defer f.Close()

	w := bufio.NewWriter(f)
	pending := 0

	flush := func() {
		if pending == 0 {
			return
		}
		_ = w.Flush()
		pending = 0
	}

	for {
		select {
		case e, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			line, err := FormatEntry(e)
			if err != nil {
				continue
			}
			w.Write(line)
			w.WriteByte('\n')
			pending++
			r.accumulate(e)
			if pending >= flushInterval {
				flush()
			}
		case <-r.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-r.queue:
					line, err := FormatEntry(e)
					if err == nil {
						w.Write(line)
						w.WriteByte('\n')
						r.accumulate(e)
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// accumulate updates the running Metadata as each entry is durably queued
// for write, so Stats() is available without re-reading the file.
func (r *Recorder) accumulate(e Entry) {
	if r.stats.Count == 0 {
		r.stats.FirstTS = e.TS
	}
	r.stats.LastTS = e.TS
	r.stats.Count++
	switch e.Dir {
	case DirIn:
		r.stats.Inbound++
	case DirOut:
		r.stats.Outbound++
	}
	r.stats.DurationMs = r.stats.LastTS.Sub(r.stats.FirstTS).Milliseconds()
}

// Enqueue submits an entry for asynchronous writing. If the internal queue
// is full, the entry is silently dropped: per spec §4.8 this call must
// never stall the caller's event loop.
func (r *Recorder) Enqueue(e Entry) {
	select {
	case r.queue <- e:
	default:
	}
}

// Close stops the writer goroutine, flushing any buffered entries, and
// waits for it to finish. Idempotent beyond the first call's effect.
func (r *Recorder) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	<-r.drain
}
