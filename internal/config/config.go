// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/discovery"
	collyfetcher "github.com/JakeFAU/uiblocks-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/uiblocks-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/uiblocks-harvester/internal/merge"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
)

// Config captures every harvester knob loaded via Viper.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Session     SessionConfig     `mapstructure:"session"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Harvest     HarvestConfig     `mapstructure:"harvest"`
	Outcomes    OutcomesConfig    `mapstructure:"outcomes"`
	Publish     PublishConfig     `mapstructure:"publish"`
	Status      StatusConfig      `mapstructure:"status"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SiteConfig describes the catalog site's endpoints.
type SiteConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	LoginPath      string   `mapstructure:"login_path"`
	ProbePath      string   `mapstructure:"probe_path"`
	VariantPath    string   `mapstructure:"variant_path"`
	VariantContext string   `mapstructure:"variant_context"`
	IndexPaths     []string `mapstructure:"index_paths"`
	AddressPattern string   `mapstructure:"address_pattern"`
	UserAgent      string   `mapstructure:"user_agent"`
	SuccessMarkers []string `mapstructure:"success_markers"`
}

// CredentialsConfig configures the credential chain.
type CredentialsConfig struct {
	Identifier    string              `mapstructure:"identifier"`
	Secret        string              `mapstructure:"secret"`
	File          string              `mapstructure:"file"`
	SecretManager SecretManagerConfig `mapstructure:"secret_manager"`
}

// SecretManagerConfig toggles the password-manager CLI lookup.
type SecretManagerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Binary  string `mapstructure:"binary"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	StorePath    string        `mapstructure:"store_path"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
}

// FetchConfig governs the bulk fetcher.
type FetchConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RetryPasses       int           `mapstructure:"retry_passes"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
}

// HarvestConfig selects what a run collects and where it lands.
type HarvestConfig struct {
	OutputRoot          string   `mapstructure:"output_root"`
	Frameworks          []string `mapstructure:"frameworks"`
	Versions            []string `mapstructure:"versions"`
	Modes               []string `mapstructure:"modes"`
	Kits                []string `mapstructure:"kits"`
	KeepFragments       bool     `mapstructure:"keep_fragments"`
	MergeConflictPolicy string   `mapstructure:"merge_conflict_policy"`
}

// OutcomesConfig enables the Postgres audit mirror.
type OutcomesConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	RunsTable     string `mapstructure:"runs_table"`
}

// PublishConfig enables dataset upload and notification.
type PublishConfig struct {
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
	// LocalDir mirrors the dataset to a directory when no bucket is set.
	LocalDir string `mapstructure:"local_dir"`
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://tailwindcss.com")
	v.SetDefault("site.login_path", "/login")
	v.SetDefault("site.probe_path", "/plus/ui-blocks")
	v.SetDefault("site.variant_path", "/plus/ui-blocks/preferences")
	v.SetDefault("site.variant_context", "ui-blocks")
	v.SetDefault("site.index_paths", []string{"/plus/ui-blocks"})
	v.SetDefault("site.address_pattern", discovery.DefaultPattern)
	v.SetDefault("site.user_agent", "uiblocks-harvester/0.1")
	v.SetDefault("site.success_markers", []string{"/plus/ui-blocks", "/plus/templates"})
	v.SetDefault("credentials.identifier", "")
	v.SetDefault("credentials.secret", "")
	v.SetDefault("credentials.file", "")
	v.SetDefault("credentials.secret_manager.enabled", false)
	v.SetDefault("credentials.secret_manager.binary", "op")
	v.SetDefault("session.store_path", "")
	v.SetDefault("session.login_timeout", "5m")
	v.SetDefault("fetch.concurrency", collyfetcher.DefaultConcurrency)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.retry_passes", 2)
	v.SetDefault("fetch.retry_backoff", "2s")
	v.SetDefault("fetch.max_body_bytes", 32<<20)
	v.SetDefault("harvest.output_root", "data")
	v.SetDefault("harvest.frameworks", []string{"html", "react", "vue"})
	v.SetDefault("harvest.versions", []string{"v4"})
	v.SetDefault("harvest.modes", []string{"light", "dark", "system"})
	v.SetDefault("harvest.kits", []string{})
	v.SetDefault("harvest.keep_fragments", true)
	v.SetDefault("harvest.merge_conflict_policy", string(merge.LastWriteWins))
	v.SetDefault("outcomes.postgres_dsn", "")
	v.SetDefault("outcomes.postgres_table", "harvest_outcomes")
	v.SetDefault("outcomes.runs_table", "harvest_runs")
	v.SetDefault("publish.gcs_bucket", "")
	v.SetDefault("publish.gcs_prefix", "uiblocks")
	v.SetDefault("publish.pubsub_project", "")
	v.SetDefault("publish.pubsub_topic", "")
	v.SetDefault("publish.local_dir", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("status.api_key", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute url")
	}
	if c.Site.VariantPath == "" {
		return fmt.Errorf("site.variant_path must be set")
	}
	if len(c.Site.IndexPaths) == 0 {
		return fmt.Errorf("site.index_paths must list at least one path")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RetryPasses < 0 {
		return fmt.Errorf("fetch.retry_passes must be >= 0")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must be >= 0")
	}
	if c.Harvest.OutputRoot == "" {
		return fmt.Errorf("harvest.output_root must be set")
	}
	if _, err := c.Variants(); err != nil {
		return err
	}
	if _, err := merge.ParsePolicy(c.Harvest.MergeConflictPolicy); err != nil {
		return fmt.Errorf("harvest.merge_conflict_policy: %w", err)
	}
	if c.Publish.PubSubTopic != "" && c.Publish.PubSubProject == "" {
		return fmt.Errorf("publish.pubsub_project must be set when publish.pubsub_topic is set")
	}
	return nil
}

// Variants expands the configured frameworks, versions and modes.
func (c Config) Variants() ([]catalog.Variant, error) {
	var (
		frameworks []catalog.Framework
		versions   []catalog.Version
		modes      []catalog.Mode
	)
	for _, s := range c.Harvest.Frameworks {
		f, err := catalog.ParseFramework(s)
		if err != nil {
			return nil, fmt.Errorf("harvest.frameworks: %w", err)
		}
		frameworks = append(frameworks, f)
	}
	for _, s := range c.Harvest.Versions {
		v, err := catalog.ParseVersion(s)
		if err != nil {
			return nil, fmt.Errorf("harvest.versions: %w", err)
		}
		versions = append(versions, v)
	}
	for _, s := range c.Harvest.Modes {
		m, err := catalog.ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("harvest.modes: %w", err)
		}
		modes = append(modes, m)
	}
	if len(frameworks) == 0 || len(versions) == 0 || len(modes) == 0 {
		return nil, fmt.Errorf("harvest.frameworks, harvest.versions and harvest.modes must not be empty")
	}
	return catalog.Expand(frameworks, versions, modes), nil
}

// AllVariants keeps the configured frameworks and versions but selects every mode.
func (c Config) AllVariants() ([]catalog.Variant, error) {
	all := c
	all.Harvest.Modes = nil
	for _, m := range catalog.Modes {
		all.Harvest.Modes = append(all.Harvest.Modes, string(m))
	}
	return all.Variants()
}

// MergePolicy returns the parsed conflict policy.
func (c Config) MergePolicy() merge.Policy {
	p, err := merge.ParsePolicy(c.Harvest.MergeConflictPolicy)
	if err != nil {
		return merge.LastWriteWins
	}
	return p
}

// RunDir is where a labelled run keeps its state and artifacts.
func (c Config) RunDir(label string) string {
	return filepath.Join(c.Harvest.OutputRoot, catalog.Slug(label))
}

// SessionStore is the session file, defaulting to the output root.
func (c Config) SessionStore() string {
	if c.Session.StorePath != "" {
		return c.Session.StorePath
	}
	return filepath.Join(c.Harvest.OutputRoot, "session.json")
}

// SessionManager converts the site section into session.Config.
func (c Config) SessionManager() session.Config {
	return session.Config{
		BaseURL:        c.Site.BaseURL,
		LoginPath:      c.Site.LoginPath,
		ProbePath:      c.Site.ProbePath,
		VariantPath:    c.Site.VariantPath,
		VariantContext: c.Site.VariantContext,
		UserAgent:      c.Site.UserAgent,
		Timeout:        c.Fetch.Timeout,
		StorePath:      c.SessionStore(),
	}
}

// CredentialSources builds the ordered credential chain.
func (c Config) CredentialSources() []session.Source {
	sources := []session.Source{session.OverrideSource{
		Identifier: c.Credentials.Identifier,
		Secret:     c.Credentials.Secret,
	}}
	if c.Credentials.SecretManager.Enabled {
		sources = append(sources, session.SecretManagerSource{
			Binary: c.Credentials.SecretManager.Binary,
			Site:   c.Site.BaseURL,
		})
	}
	if c.Credentials.File != "" {
		sources = append(sources, session.FileSource{Path: c.Credentials.File, Site: c.Site.BaseURL})
	}
	return sources
}

// Discovery converts the site section into discovery.Config.
func (c Config) Discovery() discovery.Config {
	return discovery.Config{
		IndexPaths: c.Site.IndexPaths,
		Pattern:    c.Site.AddressPattern,
		LoginPath:  c.Site.LoginPath,
	}
}

// Fetcher converts the fetch section into the collector config for runID.
func (c Config) Fetcher(runID string) collyfetcher.Config {
	return collyfetcher.Config{
		Concurrency:  c.Fetch.Concurrency,
		Timeout:      c.Fetch.Timeout,
		RetryPasses:  c.Fetch.RetryPasses,
		RetryBackoff: c.Fetch.RetryBackoff,
		MaxBodyBytes: c.Fetch.MaxBodyBytes,
		UserAgent:    c.Site.UserAgent,
		LoginPath:    c.Site.LoginPath,
		RunID:        runID,
	}
}

// Browser converts the site section into the interactive login config.
func (c Config) Browser() headless.Config {
	return headless.Config{
		SuccessMarkers: c.Site.SuccessMarkers,
		UserAgent:      c.Site.UserAgent,
		Timeout:        c.Session.LoginTimeout,
	}
}
