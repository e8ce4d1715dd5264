// Package app builds the harvester's long-lived services from configuration
// and hands them to the pipeline. It is the dependency container used by the
// CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/uiblocks-harvester/internal/api"
	"github.com/JakeFAU/uiblocks-harvester/internal/checkpoint"
	"github.com/JakeFAU/uiblocks-harvester/internal/config"
	"github.com/JakeFAU/uiblocks-harvester/internal/discovery"
	collyfetcher "github.com/JakeFAU/uiblocks-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/uiblocks-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/uiblocks-harvester/internal/logging"
	"github.com/JakeFAU/uiblocks-harvester/internal/metrics"
	"github.com/JakeFAU/uiblocks-harvester/internal/pipeline"
	"github.com/JakeFAU/uiblocks-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
	"github.com/JakeFAU/uiblocks-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/uiblocks-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/gcs"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/postgres"
	"github.com/JakeFAU/uiblocks-harvester/internal/telemetry"
)

var _ session.CookieCapturer = (*headless.Browser)(nil)

// App holds the shared services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	manager    *session.Manager
	discoverer *discovery.Discoverer
	limiter    *ratelimit.Limiter

	pool     *pgxpool.Pool
	outcomes *postgres.OutcomeStore
	runs     *postgres.RunStore

	blobStore *gcs.BlobStore
	mirror    *local.BlobStore
	pubsub    *pubsubpublisher.Publisher

	snapshot    *sinks.SnapshotSink
	progressHub *progress.Hub

	tracerProvider *sdktrace.TracerProvider
}

type buildOptions struct {
	registerer    prometheus.Registerer
	clientOptions []option.ClientOption
	version       string
}

// Option adjusts Build.
type Option func(*buildOptions)

// WithRegisterer registers progress collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithClientOptions passes options to the Cloud Storage and Pub/Sub clients.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *buildOptions) { o.clientOptions = append(o.clientOptions, opts...) }
}

// WithVersion stamps spans with the binary version.
func WithVersion(v string) Option {
	return func(o *buildOptions) { o.version = v }
}

// Build creates every service cfg enables. Optional backends stay nil when
// their settings are empty.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&bo)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building harvester services")

	tp, err := telemetry.InitTracing(ctx, telemetry.Config{ServiceName: "uiblocks-harvester", Version: bo.version})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp

	if err := a.setupSession(); err != nil {
		return nil, err
	}
	if err := a.setupDatabase(ctx); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupPublication(ctx, bo.clientOptions); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupProgress(bo.registerer); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if cfg.Fetch.RequestsPerSecond > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Fetch.RequestsPerSecond, Burst: 1})
		logger.Info("fetch pacing enabled", zap.Float64("rps", cfg.Fetch.RequestsPerSecond))
	}
	return a, nil
}

func (a *App) setupSession() error {
	var err error
	a.manager, err = session.NewManager(a.cfg.SessionManager(), logging.Component(a.logger, "session"))
	if err != nil {
		return fmt.Errorf("session manager init failed: %w", err)
	}
	a.discoverer, err = discovery.New(a.cfg.Discovery(), logging.Component(a.logger, "discovery"))
	if err != nil {
		return fmt.Errorf("discovery init failed: %w", err)
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Outcomes.PostgresDSN == "" {
		a.logger.Info("no postgres dsn; outcome mirror and run history disabled")
		return nil
	}
	var err error
	a.pool, err = postgres.Connect(ctx, postgres.Config{
		DSN:          a.cfg.Outcomes.PostgresDSN,
		OutcomeTable: a.cfg.Outcomes.PostgresTable,
		RunTable:     a.cfg.Outcomes.RunsTable,
	})
	if err != nil {
		return err
	}
	a.outcomes, err = postgres.NewOutcomeStore(a.pool, a.cfg.Outcomes.PostgresTable)
	if err != nil {
		return fmt.Errorf("outcome store init failed: %w", err)
	}
	a.runs, err = postgres.NewRunStore(a.pool, a.cfg.Outcomes.RunsTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.logger.Info("postgres mirror initialized",
		zap.String("outcome_table", a.cfg.Outcomes.PostgresTable),
		zap.String("runs_table", a.cfg.Outcomes.RunsTable),
	)
	return nil
}

func (a *App) setupPublication(ctx context.Context, clientOpts []option.ClientOption) error {
	var err error
	if a.cfg.Publish.GCSBucket != "" {
		a.blobStore, err = gcs.Open(ctx, gcs.Config{
			Bucket: a.cfg.Publish.GCSBucket,
			Prefix: a.cfg.Publish.GCSPrefix,
		}, clientOpts...)
		if err != nil {
			return err
		}
		a.logger.Info("dataset upload enabled", zap.String("bucket", a.cfg.Publish.GCSBucket))
	} else if a.cfg.Publish.LocalDir != "" {
		a.mirror, err = local.New(local.Config{BaseDir: a.cfg.Publish.LocalDir})
		if err != nil {
			return err
		}
		a.logger.Info("dataset mirror enabled", zap.String("dir", a.mirror.BaseDir()))
	}
	if a.cfg.Publish.PubSubTopic != "" {
		a.pubsub, err = pubsubpublisher.Open(ctx, a.cfg.Publish.PubSubProject, a.cfg.Publish.PubSubTopic, clientOpts...)
		if err != nil {
			return err
		}
		a.logger.Info("release notification enabled",
			zap.String("project", a.cfg.Publish.PubSubProject),
			zap.String("topic", a.cfg.Publish.PubSubTopic),
		)
	}
	return nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	a.snapshot = sinks.NewSnapshotSink()
	sinkList := []progress.Sink{
		sinks.NewLogSink(logging.Component(a.logger, "progress_log")),
		promSink,
		a.snapshot,
	}
	if a.runs != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.runs, logging.Component(a.logger, "progress_store")))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:     1024,
		MaxBatchEvents: 64,
		MaxBatchWait:   250 * time.Millisecond,
		SinkTimeout:    5 * time.Second,
		Logger:         logging.Component(a.logger, "progress_hub"),
	}, sinkList...)
	return nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Snapshot returns the live progress of the current run.
func (a *App) Snapshot() sinks.Snapshot { return a.snapshot.Snapshot() }

// RunOptions select what one collect invocation does.
type RunOptions struct {
	Label       string
	Resume      bool
	AllVariants bool
	// BrowserLogin signs in through an interactive browser instead of the
	// credential chain.
	BrowserLogin bool
	Operator     string
}

// Collect runs the pipeline for opts, serving status while it runs when
// status.addr is configured.
func (a *App) Collect(ctx context.Context, opts RunOptions) (pipeline.Summary, error) {
	if opts.Label == "" {
		return pipeline.Summary{}, errors.New("run label is required")
	}
	variants, err := a.cfg.Variants()
	if opts.AllVariants {
		variants, err = a.cfg.AllVariants()
	}
	if err != nil {
		return pipeline.Summary{}, err
	}
	runDir := a.cfg.RunDir(opts.Label)

	var interactive func(context.Context) (*session.Session, error)
	if opts.BrowserLogin {
		browser, err := headless.New(a.cfg.Browser(), logging.Component(a.logger, "browser"))
		if err != nil {
			return pipeline.Summary{}, err
		}
		interactive = a.manager.BrowserLogin(browser)
	}

	var fetchOpts []collyfetcher.Option
	if a.limiter != nil {
		fetchOpts = append(fetchOpts, collyfetcher.WithLimiter(a.limiter))
	}

	p, err := pipeline.New(pipeline.Config{
		RunDir:        runDir,
		Label:         opts.Label,
		Resume:        opts.Resume,
		Operator:      opts.Operator,
		Variants:      variants,
		Kits:          a.cfg.Harvest.Kits,
		KeepFragments: a.cfg.Harvest.KeepFragments,
		MergePolicy:   a.cfg.MergePolicy(),
		Fetch:         a.cfg.Fetcher(""),
		FetchOptions:  fetchOpts,
		Sources:       a.cfg.CredentialSources(),
		Interactive:   interactive,
	}, a.deps())
	if err != nil {
		return pipeline.Summary{}, err
	}

	stopStatus := a.serveStatus(ctx, runDir)
	defer stopStatus()

	a.logger.Info("collect starting",
		zap.String("label", opts.Label),
		zap.String("run_dir", runDir),
		zap.Bool("resume", opts.Resume),
		zap.Int("variants", len(variants)),
	)
	return p.Run(ctx)
}

// deps assigns optional collaborators only when present, so interfaces never
// hold typed nil pointers.
func (a *App) deps() pipeline.Deps {
	d := pipeline.Deps{
		Manager:    a.manager,
		Discoverer: a.discoverer,
		Emitter:    a.progressHub,
		Logger:     logging.Component(a.logger, "pipeline"),
	}
	if a.outcomes != nil {
		d.Outcomes = a.outcomes
	}
	switch {
	case a.blobStore != nil:
		d.Store = a.blobStore
	case a.mirror != nil:
		d.Store = a.mirror
	}
	if a.pubsub != nil {
		d.Publisher = a.pubsub
	}
	return d
}

// StatusServer builds the status API for runDir.
func (a *App) StatusServer(runDir string) *api.Server {
	opts := api.Options{
		Checkpoint: checkpoint.NewView(filepath.Join(runDir, checkpoint.FileName)),
		Progress:   a.snapshot,
		APIKey:     a.cfg.Status.APIKey,
		Logger:     a.logger,
	}
	if a.runs != nil {
		opts.Runs = a.runs
	}
	return api.NewServer(opts)
}

func (a *App) serveStatus(ctx context.Context, runDir string) func() {
	if a.cfg.Status.Addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := a.StatusServer(runDir)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx, a.cfg.Status.Addr); err != nil {
			a.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// Login replaces the persisted session with a fresh one.
func (a *App) Login(ctx context.Context, browser bool) (*session.Session, error) {
	opts := session.Options{Sources: a.cfg.CredentialSources()}
	if browser {
		b, err := headless.New(a.cfg.Browser(), logging.Component(a.logger, "browser"))
		if err != nil {
			return nil, err
		}
		opts.Interactive = a.manager.BrowserLogin(b)
	}
	return a.manager.Authenticate(ctx, opts)
}

// Logout removes the persisted session.
func (a *App) Logout() error {
	return session.Discard(a.manager.StorePath())
}

// SessionStatus restores and probes the persisted session.
func (a *App) SessionStatus(ctx context.Context) (*session.Session, error) {
	return a.manager.Restore(ctx, a.manager.StorePath())
}

// Close flushes progress and releases every backend.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if n := a.progressHub.Dropped(); n > 0 {
			a.logger.Warn("progress events dropped under backpressure", zap.Int64("dropped", n))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.ForceFlush(ctx); err != nil {
			a.logger.Warn("tracer flush failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
