// Package discovery harvests every subcategory address from the catalog's
// index pages. It runs once per run; the sorted address list is cached in the
// run directory and reused for every variant and every resume.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/inertia"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// FileName is the cached address list inside a run directory.
const FileName = "addresses.json"

// DefaultPattern matches subcategory page paths.
const DefaultPattern = `^/plus/ui-blocks/[^/]+/[^/]+/[^/]+/?$`

// Config lists the index pages and the address shape to harvest.
type Config struct {
	IndexPaths []string
	Pattern    string
	LoginPath  string
}

// Discoverer walks index pages.
type Discoverer struct {
	cfg     Config
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// New compiles the address pattern.
func New(cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if len(cfg.IndexPaths) == 0 {
		return nil, fmt.Errorf("at least one index path is required")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile address pattern: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, pattern: re, logger: logger}, nil
}

// Discover fetches each index page and returns the absolute addresses of every
// subcategory it references, de-duplicated and sorted.
func (d *Discoverer) Discover(ctx context.Context, s *session.Session) ([]string, error) {
	base := s.BaseURL()
	seen := map[string]struct{}{}
	for _, path := range d.cfg.IndexPaths {
		res, err := s.Client().R().
			SetContext(ctx).
			SetHeaderMultiValues(s.Headers()).
			Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("discover: %w", ctx.Err())
			}
			return nil, &catalog.FetchFailedError{Address: path, Err: err}
		}
		status := res.StatusCode()
		switch {
		case status == http.StatusUnauthorized || status == session.StatusPageExpired:
			return nil, fmt.Errorf("%w: index %s status %d", catalog.ErrSessionExpired, path, status)
		case status >= 300 && status < 400 && session.IsLoginLocation(res.Header().Get("Location"), d.cfg.LoginPath):
			return nil, fmt.Errorf("%w: index %s redirected to login", catalog.ErrSessionExpired, path)
		case status != http.StatusOK:
			return nil, &catalog.FetchFailedError{Address: path, Status: status}
		}
		page, err := inertia.Decode(res.Body())
		if err != nil {
			return nil, fmt.Errorf("decode index %s: %w", path, err)
		}
		s.SetAssetVersion(page.Version)
		found := d.Harvest(base, page.Props)
		for _, addr := range found {
			seen[addr] = struct{}{}
		}
		d.logger.Info("Index scanned", zap.String("path", path), zap.Int("addresses", len(found)))
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

// Harvest walks arbitrary page props and collects every string that names a
// subcategory address on base's host.
func (d *Discoverer) Harvest(base *url.URL, props json.RawMessage) []string {
	var tree any
	if err := json.Unmarshal(props, &tree); err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	walk(tree, func(s string) {
		if addr, ok := d.normalize(base, s); ok {
			seen[addr] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (d *Discoverer) normalize(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.Contains(raw, "/") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Host != base.Host {
		return "", false
	}
	path := strings.TrimRight(abs.Path, "/")
	if !d.pattern.MatchString(path) {
		return "", false
	}
	return (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: path}).String(), true
}

func walk(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case []any:
		for _, item := range t {
			walk(item, visit)
		}
	case map[string]any:
		for _, item := range t {
			walk(item, visit)
		}
	}
}

// Save caches addresses atomically.
func Save(path string, addresses []string) error {
	payload, err := json.MarshalIndent(addresses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal addresses: %w", err)
	}
	if err := local.WriteFileAtomic(path, strings.NewReader(string(payload)+"\n")); err != nil {
		return fmt.Errorf("save addresses: %w", err)
	}
	return nil
}

// Load reads a cached address list. An empty list is valid: discovery ran
// and found nothing.
func Load(path string) ([]string, error) {
	// #nosec G304 -- the address cache lives in the run directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode addresses %s: %w", path, err)
	}
	return out, nil
}
