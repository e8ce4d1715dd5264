package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/checkpoint"
	"github.com/JakeFAU/uiblocks-harvester/internal/dataset"
	"github.com/JakeFAU/uiblocks-harvester/internal/discovery"
	"github.com/JakeFAU/uiblocks-harvester/internal/fakesite"
	collyfetcher "github.com/JakeFAU/uiblocks-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/uiblocks-harvester/internal/flatten"
	"github.com/JakeFAU/uiblocks-harvester/internal/publisher/memory"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

const (
	testUser = "ops@example.test"
	testPass = "s3cret"
)

func reactV4(m catalog.Mode) catalog.Variant {
	return catalog.Variant{Framework: catalog.FrameworkReact, Version: catalog.VersionV4, Mode: m}
}

var allModes = []catalog.Variant{reactV4(catalog.ModeLight), reactV4(catalog.ModeDark), reactV4(catalog.ModeSystem)}

type harness struct {
	site   *fakesite.Site
	root   string
	runDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, fakesite.Default())
}

func newHarnessWith(t *testing.T, subcategories []fakesite.Subcategory) *harness {
	t.Helper()
	site := fakesite.New(testUser, testPass, subcategories)
	t.Cleanup(site.Close)
	root := t.TempDir()
	return &harness{site: site, root: root, runDir: filepath.Join(root, "weekly")}
}

func (h *harness) pipeline(t *testing.T, resume bool, variants []catalog.Variant, deps Deps) *Pipeline {
	t.Helper()
	mgr, err := session.NewManager(session.Config{
		BaseURL:        h.site.URL,
		LoginPath:      fakesite.LoginPath,
		ProbePath:      fakesite.IndexPath,
		VariantPath:    fakesite.VariantPath,
		VariantContext: "ui-blocks",
		StorePath:      filepath.Join(h.root, "session.json"),
	}, zap.NewNop())
	require.NoError(t, err)
	disc, err := discovery.New(discovery.Config{IndexPaths: []string{fakesite.IndexPath}, LoginPath: fakesite.LoginPath}, zap.NewNop())
	require.NoError(t, err)

	deps.Manager = mgr
	deps.Discoverer = disc
	p, err := New(Config{
		RunDir:        h.runDir,
		Label:         "weekly",
		Resume:        resume,
		Operator:      "ops",
		Variants:      variants,
		KeepFragments: true,
		Fetch: collyfetcher.Config{
			Concurrency:  4,
			RetryPasses:  1,
			RetryBackoff: time.Millisecond,
			LoginPath:    fakesite.LoginPath,
		},
		Sources: []session.Source{session.OverrideSource{Identifier: testUser, Secret: testPass}},
	}, deps)
	require.NoError(t, err)
	return p
}

func (h *harness) checkpoint(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.runDir, checkpoint.FileName))
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	_, err = New(Config{RunDir: "x", Variants: allModes}, Deps{})
	require.Error(t, err)
}

func TestRunProducesDataset(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	mirror, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	pub := memory.New()

	sum, err := h.pipeline(t, false, allModes, Deps{Store: mirror, Publisher: pub}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Warnings())

	assert.Equal(t, 2, sum.Addresses)
	assert.Equal(t, 6, sum.Fetched)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 3, sum.Flattened)
	assert.Equal(t, 3, sum.Extracted)
	assert.Equal(t, 4, sum.Published)
	assert.Equal(t, []string{"react-v4-light", "react-v4-dark", "react-v4-system"}, h.site.Switches())

	assert.Equal(t, []string{
		"2-discover",
		"5-format-react-v4-light",
		"5-format-react-v4-dark",
		"5-format-react-v4-system",
		"6-merge-react-v4-light",
		"6-merge-react-v4-dark",
		"6-merge-react-v4-system",
		"7-flatten-react-v4",
		"8-index",
		"9-extract-react-v4",
		"10-manifest",
		"11-publish",
	}, h.checkpoint(t))

	stream := flatten.StreamPath(h.runDir, catalog.FrameworkReact, catalog.VersionV4)
	body, err := os.ReadFile(stream)
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"code"`)
	assert.NotContains(t, string(body), "export default")

	recs, err := dataset.ReadStream(stream)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	byName := map[string]catalog.MetadataRecord{}
	for _, rec := range recs {
		byName[rec.Name] = rec
	}
	hero := byName["Simple centered"]
	assert.Equal(t, "marketing/page-sections/hero-sections/simple-centered", hero.ID)
	assert.Equal(t, catalog.Availability{Light: true, Dark: true, System: true}, hero.Availability)
	assert.Equal(t, []string{"ArrowRightIcon"}, hero.Dependencies.Icons)
	assert.Empty(t, hero.Previews.System, "inline previews are dropped")
	split := byName["Split with image"]
	assert.Equal(t, catalog.Availability{Light: true}, split.Availability)

	m, err := dataset.ReadManifest(h.runDir)
	require.NoError(t, err)
	assert.Equal(t, sum.RunID, m.RunID)
	assert.Equal(t, "weekly", m.RunLabel)
	assert.Equal(t, fakesite.AssetVer, m.SiteAssetVersion)
	assert.Equal(t, []string{"react-v4-dark", "react-v4-light", "react-v4-system"}, m.Variants)
	assert.Equal(t, 3, m.Counts.Unique)
	assert.Len(t, m.Checksums, 3)
	assert.Contains(t, m.Checksums, "components/react-v4.ndjson")

	var idx dataset.Index
	require.NoError(t, dataset.ReadJSON(filepath.Join(h.runDir, dataset.IndexFile), &idx))
	assert.Equal(t, 3, idx.Total)
	assert.Equal(t, 2, idx.Products["Marketing"].Total)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, dataset.ReadyKind, msgs[0].Kind)
	assert.FileExists(t, filepath.Join(mirror.BaseDir(), sum.RunID, dataset.ManifestFile))
}

func TestResumeSkipsCheckpointedFormatUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.runDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(h.runDir, checkpoint.FileName), []byte("5-format-react-v4-light\n"), 0o600))

	light := []catalog.Variant{reactV4(catalog.ModeLight)}
	sum, err := h.pipeline(t, true, light, Deps{}).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, h.site.FragmentHits(), "a checkpointed format unit issues no fetches")
	assert.Empty(t, h.site.Switches())
	assert.Equal(t, 1, sum.Count(PhaseFormat, UnitSkipped))
	assert.Contains(t, sum.Warnings(), "merge ran but merged no components")
}

func TestResumeAfterSessionExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// Light takes fragments 1-2; the session dies on the second dark read.
	h.site.SetExpireAfter(3)
	_, err := h.pipeline(t, false, allModes, Deps{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrSessionExpired)
	assert.True(t, catalog.IsFatal(err))
	assert.Equal(t, []string{"2-discover", "5-format-react-v4-light"}, h.checkpoint(t))

	h.site.SetExpireAfter(1000)
	hits := h.site.FragmentHits()
	switches := len(h.site.Switches())

	sum, err := h.pipeline(t, true, allModes, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"react-v4-dark", "react-v4-system"}, h.site.Switches()[switches:])
	// One dark address was already stored; system needs both.
	assert.Equal(t, 3, h.site.FragmentHits()-hits)
	assert.Equal(t, 1, sum.Count(PhaseFormat, UnitSkipped))
	assert.Equal(t, 1, sum.Count(PhaseDiscover, UnitSkipped))
	assert.Equal(t, 3, sum.Flattened)
	assert.Len(t, h.checkpoint(t), 11)
}

func TestAuthenticationFailureLeavesCheckpointUntouched(t *testing.T) {
	t.Parallel()

	for _, resume := range []bool{false, true} {
		h := newHarness(t)
		h.site.SetLoginStatus(http.StatusUnauthorized)
		require.NoError(t, os.MkdirAll(h.runDir, 0o750))
		before := []byte("2-discover\n5-format-react-v4-light\n")
		path := filepath.Join(h.runDir, checkpoint.FileName)
		require.NoError(t, os.WriteFile(path, before, 0o600))

		_, err := h.pipeline(t, resume, allModes, Deps{}).Run(context.Background())
		require.Error(t, err)
		var authErr *catalog.AuthenticationFailedError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, http.StatusUnauthorized, authErr.Status)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after, "resume=%v", resume)
		assert.Zero(t, h.site.FragmentHits())
	}
}

func TestVariantSwitchFailureSkipsVariant(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.SetSwitchStatus(reactV4(catalog.ModeDark), http.StatusInternalServerError)

	sum, err := h.pipeline(t, false, allModes, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"react-v4-dark"}, sum.SkippedVariants)
	assert.Equal(t, 1, sum.Count(PhaseFormat, UnitFailed))
	assert.NotContains(t, h.checkpoint(t), "5-format-react-v4-dark")
	assert.NotContains(t, h.checkpoint(t), "6-merge-react-v4-dark")

	stripped, err := dataset.ReadStream(flatten.StreamPath(h.runDir, catalog.FrameworkReact, catalog.VersionV4))
	require.NoError(t, err)
	require.Len(t, stripped, 3)
	for _, rec := range stripped {
		assert.False(t, rec.Availability.Dark, rec.ID)
		assert.True(t, rec.Availability.Light, rec.ID)
	}

	m, err := dataset.ReadManifest(h.runDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"react-v4-light", "react-v4-system"}, m.Variants)

	warnings := sum.Warnings()
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "5-format-react-v4-dark")
}

func TestFailedAddressIsRecordedNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	forms := fakesite.Default()[1].Address()
	h.site.Fail(forms, http.StatusNotFound, 10)

	light := []catalog.Variant{reactV4(catalog.ModeLight)}
	sum, err := h.pipeline(t, false, light, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Flattened)
	assert.Equal(t, 1, sum.Count(PhaseFormat, UnitIncomplete))
	assert.Equal(t, []string{"2-discover"}, h.checkpoint(t), "units after an incomplete fetch stay unmarked")
	assert.Contains(t, sum.Warnings(), "unit 5-format-react-v4-light incomplete: 1 of 2 addresses failed: unit incomplete; resume to retry")

	var lines []map[string]any
	data, err := os.ReadFile(filepath.Join(h.runDir, "outcomes.jsonl"))
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		lines = append(lines, rec)
	}
	assert.Len(t, lines, 2, "404 is not retried")
}

func TestResumeRetriesFailedAddresses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	forms := fakesite.Default()[1].Address()
	hero := fakesite.Default()[0].Address()
	// The main pass and the single retry pass both see 503.
	h.site.Fail(forms, http.StatusServiceUnavailable, 2)

	light := []catalog.Variant{reactV4(catalog.ModeLight)}
	sum, err := h.pipeline(t, false, light, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, h.site.Hits(forms))
	assert.NotContains(t, h.checkpoint(t), "5-format-react-v4-light")

	heroHits := h.site.Hits(hero)
	sum, err = h.pipeline(t, true, light, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.site.Hits(forms), "only the failed address is fetched again")
	assert.Equal(t, heroHits, h.site.Hits(hero))
	assert.Equal(t, 1, sum.Fetched)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 3, sum.Flattened)
	assert.Empty(t, sum.Warnings())
	assert.Equal(t, []string{
		"2-discover",
		"5-format-react-v4-light",
		"6-merge-react-v4-light",
		"7-flatten-react-v4",
		"8-index",
		"9-extract-react-v4",
		"10-manifest",
	}, h.checkpoint(t))

	recs, err := dataset.ReadStream(flatten.StreamPath(h.runDir, catalog.FrameworkReact, catalog.VersionV4))
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestEmptyDiscoveryWarnsAndStaysResumable(t *testing.T) {
	t.Parallel()

	h := newHarnessWith(t, nil)
	light := []catalog.Variant{reactV4(catalog.ModeLight)}
	sum, err := h.pipeline(t, false, light, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Addresses)
	assert.Contains(t, sum.Warnings(), "discover ran but found no subcategory addresses")
	assert.Equal(t, []string{"2-discover"}, h.checkpoint(t))
	assert.Empty(t, h.site.Switches())

	sum, err = h.pipeline(t, true, light, Deps{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count(PhaseDiscover, UnitSkipped))
	assert.Zero(t, sum.Addresses)
	assert.Zero(t, h.site.FragmentHits())
}

func TestKitFailureIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.Kits["catalyst.zip"] = []byte("PK\x03\x04")
	p := h.pipeline(t, false, []catalog.Variant{reactV4(catalog.ModeLight)}, Deps{})
	p.cfg.Kits = []string{"/kits/catalyst.zip", "/kits/missing.zip"}

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(h.runDir, KitDir, "catalyst.zip"))
	assert.Contains(t, h.checkpoint(t), checkpoint.KitUnit("/kits/catalyst.zip"))
	assert.NotContains(t, h.checkpoint(t), checkpoint.KitUnit("/kits/missing.zip"))
	assert.Equal(t, 1, sum.Count(PhaseKit, UnitFailed))
}

func TestSummaryWarnings(t *testing.T) {
	t.Parallel()

	s := Summary{
		Failed:    2,
		Conflicts: 1,
		Units: []UnitResult{
			{Unit: "2-discover", Phase: PhaseDiscover, Status: UnitDone},
			{Unit: "7-flatten-vue-v3", Phase: PhaseFlatten, Status: UnitSkipped},
			{Unit: "5-format-vue-v3-dark", Phase: PhaseFormat, Status: UnitFailed, Note: "switch rejected"},
		},
	}
	assert.Equal(t, []string{
		"discover ran but found no subcategory addresses",
		"2 addresses failed after retries; see the outcome log",
		"1 merge conflicts resolved by policy",
		"unit 5-format-vue-v3-dark not completed: switch rejected",
	}, s.Warnings())
}
