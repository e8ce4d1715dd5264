// Package checkpoint implements the append-only unit-of-work log that gates
// every harvest phase. The log is a line-oriented file of opaque unit ids; an
// in-memory set rebuilt on load answers membership with exact matching only.
package checkpoint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the log's name inside a run directory.
const FileName = "checkpoint.log"

// ErrInvalidUnit rejects ids that cannot be stored as a single log line.
var ErrInvalidUnit = errors.New("invalid unit id")

// Log is a persisted set of completed unit ids.
type Log struct {
	mu     sync.Mutex
	path   string
	resume bool
	file   *os.File
	done   map[string]struct{}
	order  []string
}

// Open prepares the log at path. A fresh run (resume=false) truncates any
// previous log; a resumed run loads it and rebuilds the index.
func Open(path string, resume bool) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	l := &Log{path: path, resume: resume, done: make(map[string]struct{})}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if resume {
		if err := l.load(); err != nil {
			return nil, err
		}
	} else {
		flags |= os.O_TRUNC
	}
	// #nosec G304 -- the checkpoint path is derived from the configured run directory.
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	l.file = f
	return l, nil
}

func (l *Log) load() error {
	// #nosec G304 -- the checkpoint path is derived from the configured run directory.
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", l.path, err)
	}
	// A final line without its newline was torn by a crash mid-append. It was
	// never acknowledged, so it is dropped before new lines are appended.
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		data = data[:i+1]
		if err := os.Truncate(l.path, int64(len(data))); err != nil {
			return fmt.Errorf("truncate torn checkpoint %s: %w", l.path, err)
		}
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		unit := strings.TrimSpace(sc.Text())
		if unit == "" {
			continue
		}
		l.add(unit)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan checkpoint %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) add(unit string) {
	if _, ok := l.done[unit]; ok {
		return
	}
	l.done[unit] = struct{}{}
	l.order = append(l.order, unit)
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Resuming reports whether the log was opened in resume mode.
func (l *Log) Resuming() bool { return l.resume }

// SkipIfDone reports whether unit was completed by an earlier attempt and
// resume mode is active. Matching is exact; "5-format-react-v4" never matches
// "5-format-react-v4-light".
func (l *Log) SkipIfDone(unit string) bool {
	if !l.resume {
		return false
	}
	return l.Has(unit)
}

// Has reports whether unit is recorded, regardless of resume mode.
func (l *Log) Has(unit string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[unit]
	return ok
}

// MarkDone durably appends unit. Callers must only mark a unit once every
// side effect it produced is already on disk. Marking a recorded unit again is
// a no-op.
func (l *Log) MarkDone(unit string) error {
	if unit == "" || strings.ContainsAny(unit, "\r\n") || strings.TrimSpace(unit) != unit {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("checkpoint %s is closed", l.path)
	}
	if _, ok := l.done[unit]; ok {
		return nil
	}
	if _, err := l.file.WriteString(unit + "\n"); err != nil {
		return fmt.Errorf("append checkpoint %s: %w", unit, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %s: %w", unit, err)
	}
	l.add(unit)
	return nil
}

// Done lists completed units in the order they were recorded.
func (l *Log) Done() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Len counts completed units.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Close releases the file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return nil
}

// View reads a log that another process, or another goroutine's Log, is
// appending to. It never writes, so a torn final line is ignored rather than
// truncated.
type View struct {
	path string
}

// NewView returns a read-only view of the log at path.
func NewView(path string) View { return View{path: path} }

// Done lists the units completed so far; a missing or unreadable log has none.
func (v View) Done() []string {
	// #nosec G304 -- the checkpoint path is derived from the configured run directory.
	data, err := os.ReadFile(v.path)
	if err != nil {
		return []string{}
	}
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		data = data[:i+1]
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, line := range strings.Split(string(data), "\n") {
		unit := strings.TrimSpace(line)
		if unit == "" {
			continue
		}
		if _, ok := seen[unit]; ok {
			continue
		}
		seen[unit] = struct{}{}
		out = append(out, unit)
	}
	return out
}
