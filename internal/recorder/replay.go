package recorder

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// Metadata summarizes a parsed recording (spec §4.8: "compute metadata —
// count, inbound, outbound, first_ts, last_ts, duration_ms").
type Metadata struct {
	Count       int
	Inbound     int
	Outbound    int
	FirstTS     time.Time
	LastTS      time.Time
	DurationMs  int64
}

// Summarize computes Metadata over a slice of already-parsed entries.
// Entries are assumed to be in recording order; an empty slice yields a
// zero Metadata with Count 0.
func Summarize(entries []Entry) Metadata {
	var m Metadata
	m.Count = len(entries)
	if m.Count == 0 {
		return m
	}
	m.FirstTS = entries[0].TS
	m.LastTS = entries[len(entries)-1].TS
	m.DurationMs = m.LastTS.Sub(m.FirstTS).Milliseconds()
	for _, e := range entries {
		switch e.Dir {
		case DirIn:
			m.Inbound++
		case DirOut:
			m.Outbound++
		}
	}
	return m
}

// ReadAll parses every JSONL line from r into entries, in file order.
func ReadAll(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var entries []Entry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := ParseEntry(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recorder: read recording: %w", err)
	}
	return entries, nil
}

// Handler receives each entry during Replay.
type Handler func(Entry)

// Replay feeds entries to handler in order. If realTime is true, Replay
// sleeps between entries to match the original inter-arrival gaps recorded
// in their timestamps; otherwise it replays as fast as possible.
func Replay(entries []Entry, realTime bool, handler Handler) {
	var prev time.Time
	for i, e := range entries {
		if realTime && i > 0 {
			gap := e.TS.Sub(prev)
			if gap > 0 {
				time.Sleep(gap)
			}
		}
		handler(e)
		prev = e.TS
	}
}
