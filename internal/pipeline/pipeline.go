// Package pipeline runs one harvest: authenticate, discover, fetch every
// variant, merge, flatten, index, extract, write the manifest and publish.
// Phases run strictly in that order and every unit is gated by the
// checkpoint log, so an interrupted run can be resumed past everything it
// already finished.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/checkpoint"
	"github.com/JakeFAU/uiblocks-harvester/internal/clock/system"
	"github.com/JakeFAU/uiblocks-harvester/internal/dataset"
	"github.com/JakeFAU/uiblocks-harvester/internal/discovery"
	"github.com/JakeFAU/uiblocks-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/uiblocks-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/uiblocks-harvester/internal/flatten"
	runid "github.com/JakeFAU/uiblocks-harvester/internal/id/uuid"
	"github.com/JakeFAU/uiblocks-harvester/internal/merge"
	"github.com/JakeFAU/uiblocks-harvester/internal/metrics"
	"github.com/JakeFAU/uiblocks-harvester/internal/outcome"
	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
	"github.com/JakeFAU/uiblocks-harvester/internal/publisher"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage"
)

// Run directory layout.
const (
	RawDir        = "raw"
	TreeDir       = "trees"
	ComponentsDir = "components"
	KitDir        = "kits"
)

var tracer = otel.Tracer("github.com/JakeFAU/uiblocks-harvester/internal/pipeline")

// Clock provides timestamps.
type Clock interface {
	Now() time.Time
}

// Config describes one run.
type Config struct {
	RunDir        string
	Label         string
	Resume        bool
	Operator      string
	Variants      []catalog.Variant
	Kits          []string
	KeepFragments bool
	MergePolicy   merge.Policy
	Fetch         collyfetcher.Config
	FetchOptions  []collyfetcher.Option
	// Sources and Interactive feed session.Manager.Authenticate.
	Sources     []session.Source
	Interactive func(ctx context.Context) (*session.Session, error)
}

// Deps are the long-lived collaborators of a run. Manager and Discoverer are
// required; the rest are optional.
type Deps struct {
	Manager    *session.Manager
	Discoverer *discovery.Discoverer
	// Outcomes mirrors every outcome record, e.g. to Postgres.
	Outcomes  outcome.Sink
	Store     storage.BlobStore
	Publisher publisher.Publisher
	Emitter   progress.Emitter
	Clock     Clock
	Logger    *zap.Logger
}

// Pipeline executes runs.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.RunDir == "" {
		return nil, errors.New("run directory is required")
	}
	if len(cfg.Variants) == 0 {
		return nil, errors.New("at least one variant is required")
	}
	if deps.Manager == nil || deps.Discoverer == nil {
		return nil, errors.New("session manager and discoverer are required")
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = merge.LastWriteWins
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// run is the state of one attempt.
type run struct {
	*Pipeline
	id       uuid.UUID
	logger   *zap.Logger
	session  *session.Session
	ckpt     *checkpoint.Log
	outcomes *outcome.Log
	fetcher  *collyfetcher.Fetcher
	summary  Summary

	// completed holds units that ran to the end in this attempt, marked or
	// not. incomplete is set once a format unit left addresses unfetched;
	// later units then run without being marked, so a resume redoes them
	// over the complete fragment set.
	completed  map[string]bool
	incomplete bool
}

// errIncomplete ends a unit whose output is usable but has retryable gaps.
var errIncomplete = errors.New("unit incomplete")

// Run executes every phase. A fatal error aborts immediately; the failing
// unit stays unmarked and the checkpoint log is otherwise untouched, so the
// run can be resumed.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	idStr, err := runid.NewRunID()
	if err != nil {
		return Summary{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Summary{}, fmt.Errorf("parse run id: %w", err)
	}
	r := &run{
		Pipeline: p,
		id:       id,
		logger:   p.deps.Logger.With(zap.String("run_id", idStr), zap.String("run_dir", p.cfg.RunDir)),
		summary: Summary{
			RunID:   idStr,
			RunDir:  p.cfg.RunDir,
			Label:   p.cfg.Label,
			Resumed: p.cfg.Resume,
		},
		completed: map[string]bool{},
	}
	ctx, span := tracer.Start(ctx, "harvest.run", trace.WithAttributes(
		attribute.String("run.id", idStr),
		attribute.String("run.label", p.cfg.Label),
		attribute.Bool("run.resumed", p.cfg.Resume),
	))
	defer span.End()
	r.emit(progress.Event{Stage: progress.StageRunStart, Label: p.cfg.Label, Resumed: p.cfg.Resume})
	start := p.deps.Clock.Now()

	err = r.execute(ctx)
	units := 0
	if r.ckpt != nil {
		units = r.ckpt.Len()
	}
	if cerr := r.close(); cerr != nil && err == nil {
		err = cerr
	}
	dur := p.deps.Clock.Now().Sub(start)
	if err != nil {
		r.logger.Error("Harvest aborted", zap.Error(err), zap.Int("units_done", units))
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest aborted")
		r.emit(progress.Event{Stage: progress.StageRunError, Units: units, Dur: nonNegative(dur), Note: err.Error()})
		return r.summary, err
	}
	r.logger.Info("Harvest finished", zap.Int("units_done", units), zap.Duration("elapsed", dur))
	r.emit(progress.Event{Stage: progress.StageRunDone, Units: units, Dur: nonNegative(dur)})
	return r.summary, nil
}

func (r *run) execute(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.RunDir, 0o750); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	// Authenticate before touching the checkpoint, so a rejected login leaves
	// it exactly as it was.
	s, err := r.deps.Manager.Authenticate(ctx, session.Options{
		Resume:      r.cfg.Resume,
		Sources:     r.cfg.Sources,
		Interactive: r.cfg.Interactive,
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	r.session = s

	r.ckpt, err = checkpoint.Open(filepath.Join(r.cfg.RunDir, checkpoint.FileName), r.cfg.Resume)
	if err != nil {
		return err
	}
	if !r.cfg.Resume {
		if err := r.resetArtifacts(); err != nil {
			return err
		}
	}
	r.outcomes, err = outcome.OpenLog(filepath.Join(r.cfg.RunDir, outcome.FileName))
	if err != nil {
		return err
	}
	var sink outcome.Sink = r.outcomes
	if r.deps.Outcomes != nil {
		sink = outcome.Multi{r.outcomes, r.deps.Outcomes}
	}
	fetchCfg := r.cfg.Fetch
	fetchCfg.RunID = r.summary.RunID
	opts := append([]collyfetcher.Option{collyfetcher.WithClock(r.deps.Clock.Now)}, r.cfg.FetchOptions...)
	r.fetcher = collyfetcher.New(fetchCfg, sink, r.logger.Named("fetcher"), opts...)

	addresses, err := r.discover(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		r.logger.Warn("Discovery found no addresses; nothing to harvest")
		return nil
	}
	if err := r.downloadKits(ctx); err != nil {
		return err
	}
	for _, v := range r.cfg.Variants {
		if err := r.fetchVariant(ctx, v, addresses); err != nil {
			return err
		}
	}
	for _, v := range r.cfg.Variants {
		if err := r.mergeVariant(ctx, v); err != nil {
			return err
		}
	}
	pairs := streamPairs(r.cfg.Variants)
	for _, pair := range pairs {
		if err := r.flattenPair(ctx, pair); err != nil {
			return err
		}
	}
	if err := r.index(ctx); err != nil {
		return err
	}
	for _, pair := range pairs {
		if err := r.extractPair(ctx, pair); err != nil {
			return err
		}
	}
	if err := r.manifest(ctx); err != nil {
		return err
	}
	return r.publish(ctx)
}

func (r *run) close() error {
	var errs []error
	if r.outcomes != nil {
		errs = append(errs, r.outcomes.Close())
	}
	if r.ckpt != nil {
		errs = append(errs, r.ckpt.Close())
	}
	return errors.Join(errs...)
}

// resetArtifacts clears what an earlier attempt under the same run directory
// left behind. It runs after the checkpoint was truncated, so a crash here
// never pairs a stale checkpoint with missing files.
func (r *run) resetArtifacts() error {
	for _, name := range []string{RawDir, TreeDir, ComponentsDir, KitDir} {
		if err := os.RemoveAll(filepath.Join(r.cfg.RunDir, name)); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	for _, name := range []string{outcome.FileName, discovery.FileName, dataset.IndexFile, dataset.ListingFile, dataset.ManifestFile} {
		if err := os.Remove(filepath.Join(r.cfg.RunDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	return nil
}

// step runs fn as unit unless an earlier attempt completed it, then marks it.
// It reports whether fn ran and the unit was marked.
func (r *run) step(ctx context.Context, unit, phase string, fn func(context.Context) error) (bool, error) {
	log := r.logger.With(zap.String("unit", unit), zap.String("phase", phase))
	if r.ckpt.SkipIfDone(unit) {
		log.Info("Unit already done; skipping")
		r.summary.add(UnitResult{Unit: unit, Phase: phase, Status: UnitSkipped})
		metrics.ObserveUnit(phase, string(UnitSkipped))
		r.emit(progress.Event{Stage: progress.StageUnitSkipped, Unit: unit, Phase: phase})
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ctx, span := tracer.Start(ctx, "harvest."+phase, trace.WithAttributes(attribute.String("unit", unit)))
	defer span.End()
	start := r.deps.Clock.Now()
	log.Info("Unit starting")
	err := fn(ctx)
	if errors.Is(err, errIncomplete) {
		span.SetStatus(codes.Error, "unit incomplete")
		dur := nonNegative(r.deps.Clock.Now().Sub(start))
		log.Warn("Unit incomplete; left unmarked", zap.Error(err))
		r.completed[unit] = true
		r.incomplete = true
		r.summary.add(UnitResult{Unit: unit, Phase: phase, Status: UnitIncomplete, Duration: dur, Note: err.Error()})
		metrics.ObserveUnit(phase, string(UnitIncomplete))
		r.emit(progress.Event{Stage: progress.StageUnitFailed, Unit: unit, Phase: phase, Dur: dur, Note: err.Error()})
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unit failed")
		dur := nonNegative(r.deps.Clock.Now().Sub(start))
		r.summary.add(UnitResult{Unit: unit, Phase: phase, Status: UnitFailed, Duration: dur, Note: err.Error()})
		metrics.ObserveUnit(phase, string(UnitFailed))
		r.emit(progress.Event{Stage: progress.StageUnitFailed, Unit: unit, Phase: phase, Dur: dur, Note: err.Error()})
		return false, err
	}
	r.completed[unit] = true
	dur := nonNegative(r.deps.Clock.Now().Sub(start))
	if r.incomplete && phase != PhaseFormat {
		log.Info("Unit done; not checkpointed after an incomplete fetch", zap.Duration("elapsed", dur))
		r.summary.add(UnitResult{Unit: unit, Phase: phase, Status: UnitDone, Duration: dur, Note: "not checkpointed"})
		metrics.ObserveUnit(phase, string(UnitDone))
		r.emit(progress.Event{Stage: progress.StageUnitDone, Unit: unit, Phase: phase, Dur: dur})
		return false, nil
	}
	if err := r.ckpt.MarkDone(unit); err != nil {
		return false, err
	}
	log.Info("Unit done", zap.Duration("elapsed", dur))
	r.summary.add(UnitResult{Unit: unit, Phase: phase, Status: UnitDone, Duration: dur})
	metrics.ObserveUnit(phase, string(UnitDone))
	r.emit(progress.Event{Stage: progress.StageUnitDone, Unit: unit, Phase: phase, Dur: dur})
	return true, nil
}

func (r *run) discover(ctx context.Context) ([]string, error) {
	addrPath := filepath.Join(r.cfg.RunDir, discovery.FileName)
	_, err := r.step(ctx, checkpoint.UnitDiscover, PhaseDiscover, func(ctx context.Context) error {
		found, err := r.deps.Discoverer.Discover(ctx, r.session)
		if err != nil {
			return err
		}
		return discovery.Save(addrPath, found)
	})
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	addresses, err := discovery.Load(addrPath)
	if err != nil {
		return nil, err
	}
	r.summary.Addresses = len(addresses)
	return addresses, nil
}

func (r *run) downloadKits(ctx context.Context) error {
	for _, kit := range r.cfg.Kits {
		dest := filepath.Join(r.cfg.RunDir, KitDir, kitFileName(kit))
		unit := checkpoint.KitUnit(kit)
		_, err := r.step(ctx, unit, PhaseKit, func(ctx context.Context) error {
			n, err := r.deps.Manager.Download(ctx, r.session, kit, dest)
			if err != nil {
				return err
			}
			r.logger.Info("Kit downloaded", zap.String("unit", unit), zap.String("address", kit), zap.Int64("bytes", n))
			return nil
		})
		if err == nil {
			continue
		}
		if catalog.IsFatal(err) {
			return fmt.Errorf("kit %s: %w", kit, err)
		}
		r.logger.Warn("Kit download failed; continuing", zap.String("unit", unit), zap.String("address", kit), zap.Error(err))
	}
	return nil
}

func kitFileName(address string) string {
	p := address
	if u, err := url.Parse(address); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "" || name == "." || name == "/" {
		return catalog.Slug(address)
	}
	return name
}

func (r *run) fetchVariant(ctx context.Context, v catalog.Variant, addresses []string) error {
	unit := checkpoint.FormatUnit(v)
	dir := filepath.Join(r.cfg.RunDir, RawDir, v.Key())
	_, err := r.step(ctx, unit, PhaseFormat, func(ctx context.Context) error {
		pending, err := r.pending(unit, dir, addresses)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			r.logger.Info("Every address already stored", zap.String("unit", unit))
			return nil
		}
		if err := r.deps.Manager.SwitchVariant(ctx, r.session, v); err != nil {
			return err
		}
		res, err := r.fetcher.FetchBatch(ctx, r.session, collyfetcher.Batch{
			Unit:      unit,
			Variant:   v,
			Addresses: pending,
			Dir:       dir,
		})
		r.summary.Fetched += len(res.Succeeded)
		if err != nil {
			return err
		}
		if n := len(res.Failed); n > 0 {
			r.summary.Failed += n
			r.logger.Warn("Addresses failed after retries",
				zap.String("unit", unit),
				zap.String("variant", v.Key()),
				zap.Strings("addresses", res.FailedAddresses()),
			)
			return fmt.Errorf("%d of %d addresses failed: %w", n, len(pending), errIncomplete)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, catalog.ErrVariantSwitchFailed) && !catalog.IsFatal(err) {
		metrics.ObserveVariantSwitchFailure(v.Key())
		r.summary.SkippedVariants = append(r.summary.SkippedVariants, v.Key())
		r.logger.Warn("Variant switch failed; skipping variant", zap.String("variant", v.Key()), zap.Error(err))
		return nil
	}
	return fmt.Errorf("fetch %s: %w", v.Key(), err)
}

// pending lists the addresses of unit still to fetch. A fresh attempt fetches
// everything; a resumed one skips addresses whose latest outcome succeeded
// and whose fragment is still on disk.
func (r *run) pending(unit, dir string, addresses []string) ([]string, error) {
	if !r.ckpt.Resuming() {
		return addresses, nil
	}
	if err := r.outcomes.Flush(); err != nil {
		return nil, err
	}
	records, err := outcome.Read(r.outcomes.Path())
	if err != nil {
		return nil, err
	}
	latest := outcome.Latest(records, unit)
	var out []string
	for _, addr := range addresses {
		rec, ok := latest[addr]
		if ok && rec.OK() {
			if _, err := os.Stat(collyfetcher.AddressPath(dir, addr)); err == nil {
				continue
			}
		}
		out = append(out, addr)
	}
	if skipped := len(addresses) - len(out); skipped > 0 {
		r.logger.Info("Resuming fetch", zap.String("unit", unit), zap.Int("already_stored", skipped), zap.Int("pending", len(out)))
	}
	return out, nil
}

func (r *run) mergeVariant(ctx context.Context, v catalog.Variant) error {
	if !r.has(checkpoint.FormatUnit(v)) {
		return nil
	}
	dir := filepath.Join(r.cfg.RunDir, RawDir, v.Key())
	marked, err := r.step(ctx, checkpoint.MergeUnit(v), PhaseMerge, func(context.Context) error {
		// A variant with no addresses never created its fragment dir.
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create fragment dir: %w", err)
		}
		tree, stats, err := merge.MergeDir(dir, r.cfg.MergePolicy, r.logger.Named("merge"))
		if err != nil {
			return err
		}
		if err := merge.WriteTree(merge.TreePath(r.cfg.RunDir, v), tree); err != nil {
			return err
		}
		r.summary.Merged += stats.Components
		r.summary.Conflicts += stats.Conflicts
		metrics.AddMergeConflicts(v.Key(), stats.Conflicts)
		r.logger.Info("Merged variant",
			zap.String("variant", v.Key()),
			zap.Int("fragments", stats.Fragments),
			zap.Int("components", stats.Components),
			zap.Int("conflicts", stats.Conflicts),
			zap.Int("discarded", stats.Discarded),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge %s: %w", v.Key(), err)
	}
	if marked && !r.cfg.KeepFragments {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("Could not remove fragments", zap.String("dir", dir), zap.Error(err))
		}
	}
	return nil
}

type streamPair struct {
	framework catalog.Framework
	version   catalog.Version
}

func (p streamPair) variant(m catalog.Mode) catalog.Variant {
	return catalog.Variant{Framework: p.framework, Version: p.version, Mode: m}
}

func streamPairs(variants []catalog.Variant) []streamPair {
	seen := map[streamPair]bool{}
	var out []streamPair
	for _, v := range variants {
		p := streamPair{framework: v.Framework, version: v.Version}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// has reports whether unit completed in this attempt or an earlier one.
func (r *run) has(unit string) bool {
	return r.completed[unit] || r.ckpt.Has(unit)
}

// tree loads the merged tree of v, or nil when v was never merged.
func (r *run) tree(v catalog.Variant) (catalog.Tree, error) {
	if !r.has(checkpoint.MergeUnit(v)) {
		return nil, nil
	}
	return merge.ReadTree(merge.TreePath(r.cfg.RunDir, v))
}

func (r *run) flattenPair(ctx context.Context, p streamPair) error {
	unit := checkpoint.FlattenUnit(p.framework, p.version)
	if !r.has(checkpoint.MergeUnit(p.variant(catalog.ModeLight))) {
		r.summary.add(UnitResult{Unit: unit, Phase: PhaseFlatten, Status: UnitFailed, Note: "light tree missing"})
		r.logger.Warn("Light tree missing; flatten skipped", zap.String("unit", unit))
		return nil
	}
	_, err := r.step(ctx, unit, PhaseFlatten, func(context.Context) error {
		light, err := r.tree(p.variant(catalog.ModeLight))
		if err != nil {
			return err
		}
		dark, err := r.tree(p.variant(catalog.ModeDark))
		if err != nil {
			return err
		}
		system, err := r.tree(p.variant(catalog.ModeSystem))
		if err != nil {
			return err
		}
		records := flatten.Flatten(light, dark, system, p.version)
		if err := flatten.WriteNDJSON(flatten.StreamPath(r.cfg.RunDir, p.framework, p.version), records); err != nil {
			return err
		}
		r.summary.Flattened += len(records)
		metrics.AddRecords(PhaseFlatten, len(records))
		return nil
	})
	if err != nil {
		return fmt.Errorf("flatten %s: %w", catalog.StreamKey(p.framework, p.version), err)
	}
	return nil
}

func (r *run) index(ctx context.Context) error {
	_, err := r.step(ctx, checkpoint.UnitIndex, PhaseIndex, func(context.Context) error {
		streams, err := dataset.LoadStreams(filepath.Join(r.cfg.RunDir, ComponentsDir))
		if err != nil {
			return err
		}
		idx, err := dataset.WriteIndex(r.cfg.RunDir, streams)
		if err != nil {
			return err
		}
		r.logger.Info("Index written", zap.Int("components", idx.Total), zap.Int("products", len(idx.Products)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return nil
}

func (r *run) extractPair(ctx context.Context, p streamPair) error {
	if !r.has(checkpoint.FlattenUnit(p.framework, p.version)) {
		return nil
	}
	driver := extract.NewDriver(r.logger, extract.WithEmitter(r.deps.Emitter, r.id), extract.WithClock(r.deps.Clock))
	_, err := r.step(ctx, checkpoint.ExtractUnit(p.framework, p.version), PhaseExtract, func(ctx context.Context) error {
		n, err := driver.File(ctx, flatten.StreamPath(r.cfg.RunDir, p.framework, p.version))
		if err != nil {
			return err
		}
		r.summary.Extracted += n
		metrics.AddRecords(PhaseExtract, n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", catalog.StreamKey(p.framework, p.version), err)
	}
	return nil
}

func (r *run) manifest(ctx context.Context) error {
	_, err := r.step(ctx, checkpoint.UnitManifest, PhaseManifest, func(context.Context) error {
		streams, err := dataset.LoadStreams(filepath.Join(r.cfg.RunDir, ComponentsDir))
		if err != nil {
			return err
		}
		var variants []string
		for _, v := range r.cfg.Variants {
			if r.has(checkpoint.MergeUnit(v)) {
				variants = append(variants, v.Key())
			}
		}
		m := dataset.NewManifest(dataset.ManifestInput{
			RunID:            r.summary.RunID,
			RunLabel:         r.cfg.Label,
			Operator:         r.cfg.Operator,
			GeneratedAt:      r.deps.Clock.Now(),
			SiteAssetVersion: r.session.AssetVersion(),
			Variants:         variants,
		}, streams)
		if m.Checksums, err = dataset.Checksums(r.cfg.RunDir); err != nil {
			return err
		}
		return dataset.WriteManifest(r.cfg.RunDir, m)
	})
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}

func (r *run) publish(ctx context.Context) error {
	if r.deps.Store == nil && r.deps.Publisher == nil {
		return nil
	}
	_, err := r.step(ctx, checkpoint.UnitPublish, PhasePublish, func(ctx context.Context) error {
		m, err := dataset.ReadManifest(r.cfg.RunDir)
		if err != nil {
			return err
		}
		rel, err := dataset.Publish(ctx, r.cfg.RunDir, m, r.deps.Store, r.deps.Publisher, r.logger.Named("publish"))
		if err != nil {
			return err
		}
		r.summary.Published = len(rel.Objects)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.deps.Clock.Now()
	r.deps.Emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
