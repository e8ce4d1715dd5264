package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
)

// Credentials identify the harvesting account.
type Credentials struct {
	Identifier string
	Secret     string
}

// Complete reports whether both halves are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Identifier) != "" && c.Secret != ""
}

// Source is one link of the credential fallback chain.
type Source interface {
	Name() string
	Lookup(ctx context.Context) (Credentials, error)
}

// Resolve walks sources in order and returns the first complete pair. Source
// errors are logged and the chain moves on.
func Resolve(ctx context.Context, logger *zap.Logger, sources ...Source) (Credentials, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Credentials{}, fmt.Errorf("resolve credentials: %w", err)
		}
		creds, err := src.Lookup(ctx)
		if err != nil {
			logger.Warn("Credential source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if creds.Complete() {
			logger.Info("Credentials resolved", zap.String("source", src.Name()))
			return creds, nil
		}
		logger.Debug("Credential source had nothing", zap.String("source", src.Name()))
	}
	return Credentials{}, catalog.ErrCredentialsNotFound
}

// OverrideSource returns explicitly configured values (config file or
// HARVEST_CREDENTIALS_* environment variables).
type OverrideSource struct {
	Identifier string
	Secret     string
}

// Name implements Source.
func (OverrideSource) Name() string { return "override" }

// Lookup implements Source.
func (s OverrideSource) Lookup(context.Context) (Credentials, error) {
	return Credentials{Identifier: s.Identifier, Secret: s.Secret}, nil
}

// CommandRunner executes an external binary and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- the binary name comes from operator configuration.
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// SecretManagerSource looks up a login item in a 1Password-compatible CLI and
// picks the first item whose URL host matches Site.
type SecretManagerSource struct {
	Binary string
	Site   string
	Run    CommandRunner
}

// Name implements Source.
func (SecretManagerSource) Name() string { return "secret-manager" }

type vaultItem struct {
	ID   string `json:"id"`
	URLs []struct {
		Href string `json:"href"`
	} `json:"urls"`
}

type vaultField struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Purpose string `json:"purpose"`
	Value   string `json:"value"`
}

// Lookup implements Source.
func (s SecretManagerSource) Lookup(ctx context.Context) (Credentials, error) {
	run := s.Run
	if run == nil {
		run = execRunner
	}
	bin := s.Binary
	if bin == "" {
		bin = "op"
	}
	if s.Site == "" {
		return Credentials{}, nil
	}

	out, err := run(ctx, bin, "item", "list", "--categories", "Login", "--format", "json")
	if err != nil {
		return Credentials{}, fmt.Errorf("list items: %w", err)
	}
	var items []vaultItem
	if err := json.Unmarshal(out, &items); err != nil {
		return Credentials{}, fmt.Errorf("decode item list: %w", err)
	}
	id := ""
	for _, item := range items {
		for _, u := range item.URLs {
			if hostMatches(u.Href, s.Site) {
				id = item.ID
				break
			}
		}
		if id != "" {
			break
		}
	}
	if id == "" {
		return Credentials{}, nil
	}

	out, err = run(ctx, bin, "item", "get", id, "--fields", "label=username,label=password", "--reveal", "--format", "json")
	if err != nil {
		return Credentials{}, fmt.Errorf("get item %s: %w", id, err)
	}
	var fields []vaultField
	if err := json.Unmarshal(out, &fields); err != nil {
		return Credentials{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	var creds Credentials
	for _, f := range fields {
		switch {
		case f.Purpose == "USERNAME" || strings.EqualFold(f.Label, "username"):
			creds.Identifier = f.Value
		case f.Purpose == "PASSWORD" || strings.EqualFold(f.Label, "password"):
			creds.Secret = f.Value
		}
	}
	return creds, nil
}

// FileSource reads a TOML credential file. Site-specific [[site]] entries win
// over the top-level pair. A missing file yields nothing, not an error.
type FileSource struct {
	Path string
	Site string
}

type credentialFile struct {
	Identifier string          `toml:"identifier"`
	Secret     string          `toml:"secret"`
	Sites      []credentialRow `toml:"site"`
}

type credentialRow struct {
	Host       string `toml:"host"`
	Identifier string `toml:"identifier"`
	Secret     string `toml:"secret"`
}

// Name implements Source.
func (FileSource) Name() string { return "file" }

// Lookup implements Source.
func (s FileSource) Lookup(context.Context) (Credentials, error) {
	if s.Path == "" {
		return Credentials{}, nil
	}
	// #nosec G304 -- the credential path comes from operator configuration.
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credential file: %w", err)
	}
	var file credentialFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return Credentials{}, fmt.Errorf("decode credential file %s: %w", s.Path, err)
	}
	for _, row := range file.Sites {
		if hostMatches(row.Host, s.Site) {
			return Credentials{Identifier: row.Identifier, Secret: row.Secret}, nil
		}
	}
	return Credentials{Identifier: file.Identifier, Secret: file.Secret}, nil
}

// hostMatches compares the host part of candidate (URL or bare host) with site,
// accepting subdomains of site.
func hostMatches(candidate, site string) bool {
	host := hostOf(candidate)
	want := hostOf(site)
	if host == "" || want == "" {
		return false
	}
	return host == want || strings.HasSuffix(host, "."+want)
}

func hostOf(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
