// Package audit emits one JSON line per API request.
package audit

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"
)

// Entry describes a single audit record.
type Entry struct {
	RequestID string        `json:"request_id,omitempty"`
	Client    string        `json:"client,omitempty"`
	Route     string        `json:"route"`
	Tool      string        `json:"tool,omitempty"`
	Query     string        `json:"query,omitempty"`
	Duration  time.Duration `json:"duration"`
	Cached    bool          `json:"cached,omitempty"`
	Error     string        `json:"error,omitempty"`
	Time      time.Time     `json:"time"`
}

// Logger serializes entries to a writer.
type Logger struct {
	enabled bool
	mu      sync.Mutex
	out     io.Writer
}

// New creates an audit logger writing to the provided writer.
func New(enabled bool, out io.Writer) *Logger {
	if out == nil {
		out = log.Writer()
	}
	return &Logger{enabled: enabled, out: out}
}

// Log writes an audit entry if enabled.
func (l *Logger) Log(entry Entry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	entry.Time = entry.Time.UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(data, '\n'))
}
