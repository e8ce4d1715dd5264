package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/clock/system"
	"github.com/JakeFAU/uiblocks-harvester/internal/metrics"
	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// DefaultReportEvery is how many records pass between progress events.
const DefaultReportEvery = 500

const maxLine = 64 << 20

// Clock provides timestamps for progress events.
type Clock interface {
	Now() time.Time
}

// Stats summarizes a driver run.
type Stats struct {
	Files   int
	Records int
	PerFile map[string]int
}

// Driver strips every record stream in a directory in place.
type Driver struct {
	logger      *zap.Logger
	emitter     progress.Emitter
	clock       Clock
	runID       uuid.UUID
	reportEvery int
}

// Option customises a Driver.
type Option func(*Driver)

// WithEmitter routes progress events to e under runID.
func WithEmitter(e progress.Emitter, runID uuid.UUID) Option {
	return func(d *Driver) {
		if e != nil {
			d.emitter = e
			d.runID = runID
		}
	}
}

// WithReportEvery sets the progress interval in records.
func WithReportEvery(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.reportEvery = n
		}
	}
}

// WithClock overrides the event clock.
func WithClock(c Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// NewDriver builds a Driver.
func NewDriver(logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		logger:      logger.Named("extract"),
		emitter:     progress.Nop{},
		clock:       system.New(),
		reportEvery: DefaultReportEvery,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Streams lists the *.ndjson files in dir in name order.
func Streams(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("list record streams: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run strips every stream in dir. Each file is rewritten through a sibling
// temp file and renamed over the original, so a failure leaves it intact.
func (d *Driver) Run(ctx context.Context, dir string) (Stats, error) {
	stats := Stats{PerFile: map[string]int{}}
	paths, err := Streams(dir)
	if err != nil {
		return stats, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := d.File(ctx, path)
		if err != nil {
			return stats, err
		}
		stats.Files++
		stats.Records += n
		stats.PerFile[filepath.Base(path)] = n
	}
	metrics.AddRecords("extract", stats.Records)
	d.logger.Info("Extraction complete", zap.String("dir", dir), zap.Int("files", stats.Files), zap.Int("records", stats.Records))
	return stats, nil
}

// File strips a single stream in place and returns the record count.
func (d *Driver) File(ctx context.Context, path string) (int, error) {
	name := filepath.Base(path)
	total, err := countRecords(path)
	if err != nil {
		return 0, err
	}

	// #nosec G304 -- record streams live in the run directory.
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close() //nolint:errcheck // read-only handle

	pr, pw := io.Pipe()
	processed := 0
	go func() {
		_ = pw.CloseWithError(d.stripStream(ctx, src, pw, name, total, &processed))
	}()
	if err := local.WriteFileAtomic(path, pr); err != nil {
		_ = pr.CloseWithError(err) //nolint:errcheck // unblocks the writer
		return 0, fmt.Errorf("strip %s: %w", name, err)
	}
	d.report(name, int64(processed), int64(total))
	return processed, nil
}

func (d *Driver) stripStream(ctx context.Context, src io.Reader, dst io.Writer, name string, total int, processed *int) error {
	r := bufio.NewReaderSize(src, 1<<20)
	w := bufio.NewWriter(dst)
	lineNo := 0
	for {
		line, readErr := readLine(r)
		if readErr == nil || len(line) > 0 {
			lineNo++
		}
		if len(bytes.TrimSpace(line)) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := StripLine(line)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, err := w.Write(out); err != nil {
				return err
			}
			*processed++
			if *processed%d.reportEvery == 0 {
				d.report(name, int64(*processed), int64(total))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return w.Flush()
}

func (d *Driver) report(file string, processed, total int64) {
	d.emitter.Emit(progress.Event{
		RunID:     d.runID,
		TS:        d.clock.Now(),
		Stage:     progress.StageExtract,
		File:      file,
		Processed: processed,
		Total:     total,
	})
	d.logger.Debug("Extract progress", zap.String("file", file), zap.Int64("processed", processed), zap.Int64("total", total))
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLine {
			return nil, fmt.Errorf("record exceeds %d bytes", maxLine)
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return bytes.TrimRight(buf, "\r\n"), err
		}
	}
}

func countRecords(path string) (int, error) {
	// #nosec G304 -- record streams live in the run directory.
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	r := bufio.NewReaderSize(f, 1<<20)
	n := 0
	for {
		line, err := readLine(r)
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", filepath.Base(path), err)
		}
	}
}
