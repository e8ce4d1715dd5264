package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/merge"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  base_url: https://catalog.example.com
  index_paths: ["/plus/ui-blocks", "/plus/ui-blocks/marketing"]
credentials:
  identifier: dev@example.com
  secret: hunter2
  file: /etc/harvest/credentials.toml
  secret_manager:
    enabled: true
fetch:
  concurrency: 6
  timeout: 45s
  requests_per_second: 2.5
  retry_passes: 4
harvest:
  output_root: /var/harvest
  frameworks: [react]
  versions: [v3, v4]
  modes: [light, dark]
  kits: ["/kits/catalyst.zip"]
  merge_conflict_policy: first-write-wins
publish:
  gcs_bucket: bucket
  pubsub_project: proj
  pubsub_topic: datasets
status:
  addr: ":9090"
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.BaseURL != "https://catalog.example.com" || len(cfg.Site.IndexPaths) != 2 {
		t.Fatalf("expected site overrides to apply: %+v", cfg.Site)
	}
	if cfg.Fetch.Concurrency != 6 || cfg.Fetch.Timeout != 45*time.Second || cfg.Fetch.RetryPasses != 4 {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if cfg.Fetch.RequestsPerSecond != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.Fetch.RequestsPerSecond)
	}
	if cfg.MergePolicy() != merge.FirstWriteWins {
		t.Fatalf("expected first-write-wins, got %s", cfg.MergePolicy())
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development=false")
	}
	if len(cfg.Harvest.Kits) != 1 || cfg.Harvest.Kits[0] != "/kits/catalyst.zip" {
		t.Fatalf("expected kit list to be loaded: %+v", cfg.Harvest.Kits)
	}

	variants, err := cfg.Variants()
	if err != nil {
		t.Fatalf("Variants() error = %v", err)
	}
	if len(variants) != 4 {
		t.Fatalf("expected 4 variants, got %d", len(variants))
	}
	if variants[0].Key() != "react-v3-light" || variants[3].Key() != "react-v4-dark" {
		t.Fatalf("unexpected variant order: %v", variants)
	}

	all, err := cfg.AllVariants()
	if err != nil {
		t.Fatalf("AllVariants() error = %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected every mode, got %v", all)
	}

	sources := cfg.CredentialSources()
	if len(sources) != 3 {
		t.Fatalf("expected override, secret manager and file sources, got %d", len(sources))
	}
	if _, ok := sources[0].(session.OverrideSource); !ok {
		t.Fatalf("expected override source first, got %T", sources[0])
	}
	if _, ok := sources[2].(session.FileSource); !ok {
		t.Fatalf("expected file source last, got %T", sources[2])
	}

	if got := cfg.RunDir("Nightly Run"); got != filepath.Join("/var/harvest", "nightly-run") {
		t.Fatalf("unexpected run dir %q", got)
	}
	if got := cfg.SessionStore(); got != filepath.Join("/var/harvest", "session.json") {
		t.Fatalf("unexpected session store %q", got)
	}
	if got := cfg.Fetcher("run-1"); got.Concurrency != 6 || got.RunID != "run-1" || got.LoginPath != "/login" {
		t.Fatalf("unexpected fetcher config %+v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.MergePolicy() != merge.LastWriteWins {
		t.Fatalf("expected last-write-wins by default, got %s", cfg.MergePolicy())
	}
	variants, err := cfg.Variants()
	if err != nil {
		t.Fatalf("Variants() error = %v", err)
	}
	if len(variants) != 9 || variants[0].Mode != catalog.ModeLight {
		t.Fatalf("unexpected default variants %v", variants)
	}
	if len(cfg.CredentialSources()) != 1 {
		t.Fatalf("expected only the override source by default")
	}
	sm := cfg.SessionManager()
	if sm.VariantPath == "" || sm.StorePath == "" {
		t.Fatalf("expected session defaults: %+v", sm)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_FETCH_CONCURRENCY", "3")
	t.Setenv("HARVEST_CREDENTIALS_SECRET", "from-env")
	t.Setenv("HARVEST_HARVEST_OUTPUT_ROOT", "/tmp/out")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 3 {
		t.Fatalf("expected env concurrency 3, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.Credentials.Secret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Credentials.Secret)
	}
	if cfg.Harvest.OutputRoot != "/tmp/out" {
		t.Fatalf("expected env output root, got %q", cfg.Harvest.OutputRoot)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.Site.BaseURL = "/plus" }, "site.base_url"},
		{"no index paths", func(c *Config) { c.Site.IndexPaths = nil }, "site.index_paths"},
		{"zero concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }, "fetch.concurrency"},
		{"zero timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"negative retries", func(c *Config) { c.Fetch.RetryPasses = -1 }, "fetch.retry_passes"},
		{"unknown framework", func(c *Config) { c.Harvest.Frameworks = []string{"svelte"} }, "harvest.frameworks"},
		{"unknown mode", func(c *Config) { c.Harvest.Modes = []string{"sepia"} }, "harvest.modes"},
		{"no versions", func(c *Config) { c.Harvest.Versions = nil }, "must not be empty"},
		{"bad policy", func(c *Config) { c.Harvest.MergeConflictPolicy = "coin-flip" }, "merge_conflict_policy"},
		{"topic without project", func(c *Config) { c.Publish.PubSubTopic = "t" }, "publish.pubsub_project"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Site.IndexPaths = append([]string(nil), base.Site.IndexPaths...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
