// Package dataset builds the catalog-level artifacts that accompany the
// stripped record streams: the count index, the flat listing and the manifest.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/extract"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// Artifact file names under the run directory.
const (
	IndexFile    = "index.json"
	ListingFile  = "listing.json"
	ManifestFile = "manifest.json"
)

// Streams maps a stream key such as "react-v4" to its stripped records.
type Streams map[string][]catalog.MetadataRecord

// Index counts unique record ids per hierarchy level.
type Index struct {
	Total    int                     `json:"total"`
	Products map[string]ProductCount `json:"products"`
}

// ProductCount is one product's share of the index.
type ProductCount struct {
	Total      int                      `json:"total"`
	Categories map[string]CategoryCount `json:"categories"`
}

// CategoryCount is one category's share of the index.
type CategoryCount struct {
	Total         int            `json:"total"`
	Subcategories map[string]int `json:"subcategories"`
}

// ListingEntry is one component across every stream it appears in.
type ListingEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        [3]string `json:"path"`
	Frameworks  []string  `json:"frameworks"`
	HasDarkMode bool      `json:"has_dark_mode"`
}

// Build derives the index and the id-sorted listing from streams. A record
// present in several streams is counted once.
func Build(streams Streams) (Index, []ListingEntry) {
	byID := map[string]*ListingEntry{}
	frameworks := map[string]map[string]struct{}{}
	for _, key := range sortedKeys(streams) {
		fw := frameworkOf(key)
		for _, rec := range streams[key] {
			entry, ok := byID[rec.ID]
			if !ok {
				entry = &ListingEntry{
					ID:   rec.ID,
					Name: rec.Name,
					Path: [3]string{rec.Category, rec.Subcategory, rec.SubSubcategory},
				}
				byID[rec.ID] = entry
				frameworks[rec.ID] = map[string]struct{}{}
			}
			frameworks[rec.ID][fw] = struct{}{}
			if rec.Availability.Dark {
				entry.HasDarkMode = true
			}
		}
	}

	idx := Index{Products: map[string]ProductCount{}}
	listing := make([]ListingEntry, 0, len(byID))
	for _, id := range sortedKeys(byID) {
		entry := byID[id]
		entry.Frameworks = sortedKeys(frameworks[id])
		listing = append(listing, *entry)

		product := idx.Products[entry.Path[0]]
		if product.Categories == nil {
			product.Categories = map[string]CategoryCount{}
		}
		category := product.Categories[entry.Path[1]]
		if category.Subcategories == nil {
			category.Subcategories = map[string]int{}
		}
		category.Subcategories[entry.Path[2]]++
		category.Total++
		product.Categories[entry.Path[1]] = category
		product.Total++
		idx.Products[entry.Path[0]] = product
		idx.Total++
	}
	return idx, listing
}

// frameworkOf returns "react" for the stream key "react-v4".
func frameworkOf(streamKey string) string {
	if i := strings.LastIndexByte(streamKey, '-'); i > 0 {
		return streamKey[:i]
	}
	return streamKey
}

// LoadStreams reads every *.ndjson stream in dir, keyed by file stem.
func LoadStreams(dir string) (Streams, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("list record streams: %w", err)
	}
	out := Streams{}
	for _, path := range paths {
		recs, err := ReadStream(path)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(filepath.Base(path), ".ndjson")] = recs
	}
	return out, nil
}

// ReadStream decodes a record stream as metadata records. Flattened streams
// are stripped on the fly, so the index can be built before extraction.
func ReadStream(path string) ([]catalog.MetadataRecord, error) {
	// #nosec G304 -- record streams live in the run directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []catalog.MetadataRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var in extract.Input
		if err := json.Unmarshal(sc.Bytes(), &in); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, extract.Strip(in))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := local.WriteFileAtomic(path, &buf); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON decodes path into v.
func ReadJSON(path string, v any) error {
	// #nosec G304 -- artifacts live in the run directory.
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteIndex builds and writes index.json and listing.json under runDir.
func WriteIndex(runDir string, streams Streams) (Index, error) {
	idx, listing := Build(streams)
	if err := WriteJSON(filepath.Join(runDir, IndexFile), idx); err != nil {
		return Index{}, err
	}
	if err := WriteJSON(filepath.Join(runDir, ListingFile), listing); err != nil {
		return Index{}, err
	}
	return idx, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
