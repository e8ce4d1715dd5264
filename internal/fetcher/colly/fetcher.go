// Package collyfetcher downloads one variant's catalog fragments as a single
// bounded-concurrency batch using gocolly. Every request shares the session's
// cookie jar and a header snapshot taken before the batch starts.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/hash/sha256"
	"github.com/JakeFAU/uiblocks-harvester/internal/metrics"
	"github.com/JakeFAU/uiblocks-harvester/internal/outcome"
	"github.com/JakeFAU/uiblocks-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// DefaultConcurrency is the observed ceiling the origin tolerates.
const DefaultConcurrency = 10

const (
	ctxAddress = "harvest.address"
	ctxStart   = "harvest.start"
)

// Config controls collector behavior.
type Config struct {
	Concurrency  int
	Timeout      time.Duration
	RetryPasses  int
	RetryBackoff time.Duration
	MaxBodyBytes int
	UserAgent    string
	LoginPath    string
	RunID        string
}

// Batch is one variant's worth of addresses.
type Batch struct {
	Unit      string
	Variant   catalog.Variant
	Addresses []string
	Dir       string
}

// Result tracks success and failure per address.
type Result struct {
	Requests  int
	Succeeded []string
	// Failed maps an address to the status of its last attempt; 0 means a
	// transport error.
	Failed         map[string]int
	SessionExpired bool
}

// Complete reports whether every address was stored.
func (r Result) Complete() bool {
	return len(r.Failed) == 0 && !r.SessionExpired
}

// FailedAddresses returns the failed subset, sorted.
func (r Result) FailedAddresses() []string {
	out := make([]string, 0, len(r.Failed))
	for addr := range r.Failed {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Fetcher runs fetch batches.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	sink      outcome.Sink
	limiter   *ratelimit.Limiter
	retry     *RetryPolicy
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces requests per host.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// WithClock sets the timestamp source for outcome records.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. sink may be nil.
func New(cfg Config, sink outcome.Sink, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:    cfg,
		sink:   sink,
		retry:  NewRetryPolicy(cfg.RetryPasses, cfg.RetryBackoff),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport(cfg.Concurrency, cfg.Timeout)
	}
	return f
}

// AddressPath maps an address to its fragment file inside dir. The name is
// the slug of the address path, so it is stable across runs.
func AddressPath(dir, address string) string {
	p := address
	if u, err := url.Parse(address); err == nil {
		p = u.Path
	}
	name := catalog.Slug(p)
	if name == "" {
		name = "index"
	}
	return filepath.Join(dir, name+".json")
}

// FetchBatch fetches every address of b in one parallel batch. Individual
// failures never abort the batch; they are recorded and retried per the retry
// policy. A session expiry stops the batch and returns ErrSessionExpired.
func (f *Fetcher) FetchBatch(ctx context.Context, s *session.Session, b Batch) (Result, error) {
	res := Result{Failed: map[string]int{}}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("fetch %s: %w", b.Unit, err)
	}
	if err := os.MkdirAll(b.Dir, 0o750); err != nil {
		return res, fmt.Errorf("create batch dir: %w", err)
	}

	log := f.logger.With(zap.String("unit", b.Unit), zap.String("variant", b.Variant.Key()))
	headers := s.Headers()
	pending := uniqueSorted(b.Addresses)
	succeeded := map[string]struct{}{}
	log.Info("Fetch batch starting", zap.Int("addresses", len(pending)), zap.Int("concurrency", f.cfg.Concurrency))

	finish := func() {
		res.Succeeded = make([]string, 0, len(succeeded))
		for addr := range succeeded {
			res.Succeeded = append(res.Succeeded, addr)
		}
		sort.Strings(res.Succeeded)
	}

	for pass := 0; len(pending) > 0; pass++ {
		if pass > 0 {
			wait := f.retry.Backoff(pass)
			log.Info("Retrying failed addresses",
				zap.Int("pass", pass),
				zap.Int("addresses", len(pending)),
				zap.Duration("backoff", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				finish()
				return res, fmt.Errorf("fetch %s: %w", b.Unit, err)
			}
		}

		st, err := f.runPass(ctx, s, headers, b, pending, pass+1)
		res.Requests += st.requests
		for addr, status := range st.failed {
			res.Failed[addr] = status
		}
		for _, addr := range st.ok {
			delete(res.Failed, addr)
			succeeded[addr] = struct{}{}
		}
		if err != nil {
			finish()
			return res, err
		}
		if st.expired {
			res.SessionExpired = true
			finish()
			log.Error("Session expired during fetch batch", zap.Int("succeeded", len(succeeded)))
			return res, fmt.Errorf("%w: during %s", catalog.ErrSessionExpired, b.Unit)
		}
		if pass >= f.retry.Passes() {
			break
		}
		pending = pending[:0]
		for addr, status := range st.failed {
			if f.retry.Retryable(status) {
				pending = append(pending, addr)
			}
		}
		sort.Strings(pending)
	}

	finish()
	log.Info("Fetch batch finished",
		zap.Int("requests", res.Requests),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

type passState struct {
	mu       sync.Mutex
	requests int
	ok       []string
	failed   map[string]int
	expired  bool
	err      error
}

func (st *passState) succeed(addr string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.requests++
	st.ok = append(st.ok, addr)
}

func (st *passState) fail(addr string, status int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.requests++
	st.failed[addr] = status
}

func (st *passState) expire(addr string, status int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.requests++
	st.failed[addr] = status
	st.expired = true
}

func (st *passState) isExpired() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.expired
}

func (st *passState) setErr(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err == nil {
		st.err = err
	}
}

func (f *Fetcher) runPass(
	ctx context.Context,
	s *session.Session,
	headers http.Header,
	b Batch,
	addresses []string,
	attempt int,
) (*passState, error) {
	st := &passState{failed: map[string]int{}}
	collector, err := f.buildCollector(ctx, s)
	if err != nil {
		return st, err
	}
	f.configureCollectorHooks(ctx, collector, b, attempt, st)

	for _, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		target, err := s.Resolve(addr)
		if err == nil {
			rctx := colly.NewContext()
			rctx.Put(ctxAddress, addr)
			err = collector.Request(http.MethodGet, target, nil, rctx, headers.Clone())
		}
		if err != nil {
			st.fail(addr, 0)
			f.record(ctx, st, outcome.Record{
				Unit: b.Unit, Variant: b.Variant.Key(), Address: addr, Attempt: attempt, Error: err.Error(),
			}, 0)
		}
	}
	collector.Wait()

	if st.err != nil {
		return st, st.err
	}
	if err := ctx.Err(); err != nil {
		return st, fmt.Errorf("fetch %s: %w", b.Unit, err)
	}
	return st, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, s *session.Session) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodyBytes))
	}
	collector := colly.NewCollector(opts...)
	collector.WithTransport(f.transport)
	collector.SetCookieJar(s.Jar())
	collector.SetRequestTimeout(f.cfg.Timeout)
	// A redirect is how the site reports an expired session; it must be seen,
	// not followed.
	collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(
	ctx context.Context,
	hooks collectorHooks,
	b Batch,
	attempt int,
	st *passState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || st.isExpired() {
			r.Abort()
			return
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, r.URL.String()); err != nil {
				r.Abort()
				return
			}
		}
		r.Ctx.Put(ctxStart, time.Now())
	})

	hooks.OnResponse(func(r *colly.Response) {
		addr := r.Ctx.Get(ctxAddress)
		elapsed := sinceStart(r.Ctx)
		rec := outcome.Record{
			Unit:       b.Unit,
			Variant:    b.Variant.Key(),
			Address:    addr,
			Status:     r.StatusCode,
			Bytes:      int64(len(r.Body)),
			DurationMS: elapsed.Milliseconds(),
			Attempt:    attempt,
		}
		switch {
		case f.sessionExpired(r):
			st.expire(addr, r.StatusCode)
			rec.Error = catalog.ErrSessionExpired.Error()
		case r.StatusCode >= 200 && r.StatusCode < 300:
			path := AddressPath(b.Dir, addr)
			if err := local.WriteFileAtomic(path, bytes.NewReader(r.Body)); err != nil {
				st.setErr(fmt.Errorf("store fragment %s: %w", addr, err))
				st.fail(addr, r.StatusCode)
				rec.Error = err.Error()
				break
			}
			st.succeed(addr)
			rec.Path = path
			rec.SHA256 = sha256.Sum(r.Body)
		default:
			st.fail(addr, r.StatusCode)
			rec.Error = fmt.Sprintf("unexpected status %d", r.StatusCode)
			f.logger.Warn("Fetch failed",
				zap.String("unit", b.Unit),
				zap.String("address", addr),
				zap.Int("status", r.StatusCode),
			)
		}
		f.record(ctx, st, rec, elapsed)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		addr, status := "", 0
		var elapsed time.Duration
		if r != nil {
			status = r.StatusCode
			if r.Ctx != nil {
				addr = r.Ctx.Get(ctxAddress)
				elapsed = sinceStart(r.Ctx)
			}
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		st.fail(addr, status)
		f.logger.Warn("Fetch transport error",
			zap.String("unit", b.Unit),
			zap.String("address", addr),
			zap.Error(err),
		)
		f.record(ctx, st, outcome.Record{
			Unit:       b.Unit,
			Variant:    b.Variant.Key(),
			Address:    addr,
			Status:     status,
			DurationMS: elapsed.Milliseconds(),
			Attempt:    attempt,
			Error:      err.Error(),
		}, elapsed)
	})
}

func (f *Fetcher) sessionExpired(r *colly.Response) bool {
	switch r.StatusCode {
	case http.StatusUnauthorized, session.StatusPageExpired:
		return true
	}
	if r.StatusCode >= 300 && r.StatusCode < 400 && r.Headers != nil {
		return session.IsLoginLocation(r.Headers.Get("Location"), f.cfg.LoginPath)
	}
	return false
}

func (f *Fetcher) record(ctx context.Context, st *passState, rec outcome.Record, elapsed time.Duration) {
	rec.RunID = f.cfg.RunID
	rec.At = f.now()
	metrics.ObserveFetch(rec.Variant, rec.Status, int(rec.Bytes), elapsed)
	if f.sink == nil {
		return
	}
	// Audit lines are written even while the batch is being cancelled.
	if err := f.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		st.setErr(fmt.Errorf("record outcome: %w", err))
	}
}

func sinceStart(ctx *colly.Context) time.Duration {
	if start, ok := ctx.GetAny(ctxStart).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func newHTTPTransport(concurrency int, timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   concurrency,
		MaxConnsPerHost:       concurrency * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}
}
