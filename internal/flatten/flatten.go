// Package flatten correlates the light, dark and system trees of one
// (framework, version) pair into one record per light leaf.
package flatten

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// Flatten emits a record for every complete leaf of light, in path order.
// Dark and system payloads are looked up at the same path and stay nil when
// that tree has no complete leaf there. Nil dark or system trees are allowed.
func Flatten(light, dark, system catalog.Tree, version catalog.Version) []catalog.Record {
	var out []catalog.Record
	for _, p := range light.Paths() {
		leaf, _ := light.Get(p)
		if !leaf.Complete() {
			continue
		}
		out = append(out, catalog.Record{
			ID:             catalog.RecordID(p),
			UUID:           leaf.UUID,
			Name:           p[3],
			Version:        string(version),
			Category:       p[0],
			Subcategory:    p[1],
			SubSubcategory: p[2],
			Light:          leaf.Snippet,
			Dark:           lookup(dark, p),
			System:         lookup(system, p),
		})
	}
	return out
}

func lookup(t catalog.Tree, p catalog.Path) *catalog.Snippet {
	if t == nil {
		return nil
	}
	leaf, ok := t.Get(p)
	if !ok || !leaf.Complete() {
		return nil
	}
	return leaf.Snippet
}

// FileName is the record stream name for a (framework, version) pair.
func FileName(f catalog.Framework, v catalog.Version) string {
	return catalog.StreamKey(f, v) + ".ndjson"
}

// StreamPath is where a pair's record stream lives under the run directory.
func StreamPath(runDir string, f catalog.Framework, v catalog.Version) string {
	return filepath.Join(runDir, "components", FileName(f, v))
}

// Marshal encodes v as one NDJSON line without HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteNDJSON writes records one per line, replacing path atomically.
func WriteNDJSON(path string, records []catalog.Record) error {
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := Marshal(rec)
		if err != nil {
			return err
		}
		buf.Write(line)
	}
	if err := local.WriteFileAtomic(path, &buf); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// ReadNDJSON decodes every non-empty line of path as a Record.
func ReadNDJSON(path string) ([]catalog.Record, error) {
	// #nosec G304 -- record streams live in the run directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []catalog.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec catalog.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}
