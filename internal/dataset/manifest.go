package dataset

import (
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"github.com/JakeFAU/uiblocks-harvester/internal/hash/sha256"
)

// Version is stamped at build time with -ldflags "-X .../dataset.Version=...".
// When empty the main module version from the build info is used.
var Version = ""

// Module is one dependency compiled into the harvester.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Counts summarizes what the run produced.
type Counts struct {
	Records  int            `json:"records"`
	Unique   int            `json:"unique"`
	Products int            `json:"products"`
	Streams  map[string]int `json:"streams"`
}

// Manifest describes a finished run.
type Manifest struct {
	RunID            string    `json:"run_id"`
	RunLabel         string    `json:"run_label,omitempty"`
	Operator         string    `json:"operator,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
	HarvesterVersion string    `json:"harvester_version"`
	SiteAssetVersion string    `json:"site_asset_version,omitempty"`
	Dependencies     []Module  `json:"dependencies"`
	Variants         []string  `json:"variants"`
	Counts           Counts    `json:"counts"`
	// Checksums maps run-relative artifact paths to their SHA-256.
	Checksums map[string]string `json:"checksums,omitempty"`
}

// ManifestInput carries the run facts the manifest cannot derive itself.
type ManifestInput struct {
	RunID            string
	RunLabel         string
	Operator         string
	GeneratedAt      time.Time
	SiteAssetVersion string
	Variants         []string
}

// NewManifest assembles a manifest from run facts, the stripped streams and
// the binary's build info.
func NewManifest(in ManifestInput, streams Streams) Manifest {
	idx, _ := Build(streams)
	counts := Counts{Unique: idx.Total, Products: len(idx.Products), Streams: map[string]int{}}
	for key, recs := range streams {
		counts.Streams[key] = len(recs)
		counts.Records += len(recs)
	}
	variants := append([]string{}, in.Variants...)
	sort.Strings(variants)

	version, deps := buildInfo()
	return Manifest{
		RunID:            in.RunID,
		RunLabel:         in.RunLabel,
		Operator:         in.Operator,
		GeneratedAt:      in.GeneratedAt.UTC(),
		HarvesterVersion: version,
		SiteAssetVersion: in.SiteAssetVersion,
		Dependencies:     deps,
		Variants:         variants,
		Counts:           counts,
	}
}

// Checksums fingerprints the stripped streams, index and listing of runDir.
func Checksums(runDir string) (map[string]string, error) {
	files, err := filepath.Glob(filepath.Join(runDir, "components", "*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("list record streams: %w", err)
	}
	files = append(files, filepath.Join(runDir, IndexFile), filepath.Join(runDir, ListingFile))
	out := make(map[string]string, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(runDir, file)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", file, err)
		}
		sum, err := sha256.SumFile(file)
		if err != nil {
			return nil, err
		}
		out[filepath.ToSlash(rel)] = sum
	}
	return out, nil
}

// WriteManifest writes manifest.json under runDir.
func WriteManifest(runDir string, m Manifest) error {
	return WriteJSON(filepath.Join(runDir, ManifestFile), m)
}

// ReadManifest loads manifest.json from runDir.
func ReadManifest(runDir string) (Manifest, error) {
	var m Manifest
	err := ReadJSON(filepath.Join(runDir, ManifestFile), &m)
	return m, err
}

func buildInfo() (string, []Module) {
	version := Version
	deps := []Module{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		if version == "" {
			version = "devel"
		}
		return version, deps
	}
	if version == "" {
		version = info.Main.Version
	}
	if version == "" {
		version = "devel"
	}
	for _, dep := range info.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		deps = append(deps, Module{Path: dep.Path, Version: mod.Version})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })
	return version, deps
}
