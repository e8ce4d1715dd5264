// Package outcome records one audit line per network request. The JSONL log
// in the run directory is the source of truth for which addresses of a unit
// failed; other sinks (Postgres) are optional mirrors.
package outcome

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileName is the log's name inside a run directory.
const FileName = "outcomes.jsonl"

// Record is the outcome of a single request.
type Record struct {
	RunID      string    `json:"run_id"`
	Unit       string    `json:"unit"`
	Variant    string    `json:"variant"`
	Address    string    `json:"address"`
	Path       string    `json:"path,omitempty"`
	Status     int       `json:"status"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	SHA256     string    `json:"sha256,omitempty"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// OK reports whether the request produced a stored fragment.
func (r Record) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300
}

// Sink receives outcome records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Log appends records to a JSONL file. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// OpenLog opens path for appending, creating it if needed. Earlier attempts'
// lines are kept so the log covers every request of every resume.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create outcome dir: %w", err)
	}
	// #nosec G304 -- the outcome path is derived from the run directory.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open outcome log: %w", err)
	}
	return &Log{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Append implements Sink.
func (l *Log) Append(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("outcome log is closed")
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to disk and fsyncs.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush outcome log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync outcome log: %w", err)
	}
	return nil
}

// Close flushes and releases the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	ferr := l.flushLocked()
	cerr := l.file.Close()
	l.file = nil
	return errors.Join(ferr, cerr)
}

// Read decodes every record in the log at path. Undecodable lines (for example
// a tail torn by a crash) are skipped.
func Read(path string) ([]Record, error) {
	// #nosec G304 -- the outcome path is derived from the run directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open outcome log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan outcome log: %w", err)
	}
	return out, nil
}

// Latest returns, for one unit, the most recent record per address.
func Latest(records []Record, unit string) map[string]Record {
	latest := map[string]Record{}
	for _, rec := range records {
		if rec.Unit != unit {
			continue
		}
		latest[rec.Address] = rec
	}
	return latest
}

// FailedAddresses returns, for one unit, the addresses whose latest outcome
// was not OK, sorted.
func FailedAddresses(records []Record, unit string) []string {
	var failed []string
	for addr, rec := range Latest(records, unit) {
		if !rec.OK() {
			failed = append(failed, addr)
		}
	}
	sort.Strings(failed)
	return failed
}

// Multi fans a record out to several sinks; every sink is attempted.
type Multi []Sink

// Append implements Sink.
func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
