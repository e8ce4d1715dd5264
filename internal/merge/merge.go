// Package merge folds one variant's fragments into a single hierarchical
// tree keyed product / category / subcategory / component name.
package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/inertia"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// Policy decides what happens when two fragments write the same leaf path
// with different content.
type Policy string

const (
	// LastWriteWins keeps the leaf from the fragment processed last. Fragments
	// are processed in file-name order, so the result is deterministic.
	LastWriteWins Policy = "last-write-wins"
	// FirstWriteWins keeps the leaf from the fragment processed first.
	FirstWriteWins Policy = "first-write-wins"
	// FailOnConflict aborts the merge.
	FailOnConflict Policy = "fail-on-conflict"
)

// ParsePolicy validates a policy name. Empty means LastWriteWins.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LastWriteWins, nil
	case LastWriteWins, FirstWriteWins, FailOnConflict:
		return p, nil
	}
	return "", fmt.Errorf("unknown merge conflict policy %q", s)
}

// ErrNotFragment means a stored body carries no subcategory payload.
var ErrNotFragment = errors.New("body is not a subcategory fragment")

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("merge conflict")

// ConflictError reports a second, different write to the same leaf.
type ConflictError struct {
	Path   catalog.Path
	Source string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %s (from %s)", strings.Join(e.Path[:], " / "), e.Source)
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Stats summarizes one merge.
type Stats struct {
	Fragments  int `json:"fragments"`
	Components int `json:"components"`
	Skipped    int `json:"skipped"`
	Conflicts  int `json:"conflicts"`
	Discarded  int `json:"discarded"`
}

type fragmentProps struct {
	Subcategory *struct {
		Name     string `json:"name"`
		Category struct {
			Name    string `json:"name"`
			Product struct {
				Name string `json:"name"`
			} `json:"product"`
		} `json:"category"`
		Components []catalog.Component `json:"components"`
	} `json:"subcategory"`
}

// ParseFragment reads the subcategory context and components from a stored
// response body (Inertia JSON or an HTML page carrying data-page).
func ParseFragment(body []byte) (catalog.Fragment, error) {
	page, err := inertia.Decode(body)
	if err != nil {
		return catalog.Fragment{}, fmt.Errorf("%w: %w", ErrNotFragment, err)
	}
	var props fragmentProps
	if err := json.Unmarshal(page.Props, &props); err != nil {
		return catalog.Fragment{}, fmt.Errorf("%w: %w", ErrNotFragment, err)
	}
	sub := props.Subcategory
	if sub == nil || sub.Name == "" || sub.Category.Name == "" || sub.Category.Product.Name == "" {
		return catalog.Fragment{}, ErrNotFragment
	}
	frag := catalog.Fragment{
		Product:     sub.Category.Product.Name,
		Category:    sub.Category.Name,
		Subcategory: sub.Name,
		Components:  make([]catalog.Component, 0, len(sub.Components)),
	}
	for _, c := range sub.Components {
		c.Snippet = normalize(c.Snippet)
		frag.Components = append(frag.Components, c)
	}
	return frag, nil
}

func normalize(s *catalog.Snippet) *catalog.Snippet {
	if s == nil {
		return nil
	}
	out := *s
	out.Language = strings.ToLower(strings.TrimSpace(out.Language))
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	return &out
}

// Reducer accumulates fragments of a single variant.
type Reducer struct {
	policy Policy
	tree   catalog.Tree
	stats  Stats
	logger *zap.Logger
}

// NewReducer returns an empty reducer using policy.
func NewReducer(policy Policy, logger *zap.Logger) *Reducer {
	if policy == "" {
		policy = LastWriteWins
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{policy: policy, tree: catalog.Tree{}, logger: logger}
}

// Add writes every named component of f into the tree. source names the
// fragment in conflict reports.
func (r *Reducer) Add(source string, f catalog.Fragment) error {
	r.stats.Fragments++
	for _, c := range f.Components {
		if strings.TrimSpace(c.Name) == "" {
			r.stats.Skipped++
			continue
		}
		path := catalog.Path{f.Product, f.Category, f.Subcategory, c.Name}
		leaf := catalog.Leaf{UUID: c.UUID, Snippet: c.Snippet}
		prev, existed := r.tree.Get(path)
		if existed && !reflect.DeepEqual(prev, leaf) {
			r.stats.Conflicts++
			r.logger.Warn("Merge conflict",
				zap.Strings("path", path[:]),
				zap.String("source", source),
				zap.String("policy", string(r.policy)),
			)
			switch r.policy {
			case FailOnConflict:
				return &ConflictError{Path: path, Source: source}
			case FirstWriteWins:
				r.stats.Discarded++
				continue
			}
		}
		r.tree.Set(path, leaf)
		r.stats.Components++
	}
	return nil
}

// Tree returns the accumulated tree.
func (r *Reducer) Tree() catalog.Tree { return r.tree }

// Stats returns the counters so far.
func (r *Reducer) Stats() Stats { return r.stats }

// MergeDir merges every *.json fragment in dir in file-name order. Files that
// do not hold a fragment are skipped with a warning.
func MergeDir(dir string, policy Policy, logger *zap.Logger) (catalog.Tree, Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read fragment dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	r := NewReducer(policy, logger)
	for _, name := range names {
		path := filepath.Join(dir, name)
		// #nosec G304 -- fragments live in the run directory.
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, r.Stats(), fmt.Errorf("read fragment %s: %w", name, err)
		}
		frag, err := ParseFragment(body)
		if err != nil {
			r.stats.Skipped++
			logger.Warn("Skipping stored body", zap.String("file", name), zap.Error(err))
			continue
		}
		if err := r.Add(name, frag); err != nil {
			return nil, r.Stats(), err
		}
	}
	return r.Tree(), r.Stats(), nil
}

// TreePath is where a variant's merged tree lives under the run directory.
func TreePath(runDir string, v catalog.Variant) string {
	return filepath.Join(runDir, "trees", v.Key()+".json")
}

// Encode renders a tree deterministically: encoding/json sorts map keys.
func Encode(tree catalog.Tree) ([]byte, error) {
	if tree == nil {
		tree = catalog.Tree{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTree persists tree atomically.
func WriteTree(path string, tree catalog.Tree) error {
	data, err := Encode(tree)
	if err != nil {
		return err
	}
	if err := local.WriteFileAtomic(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write tree: %w", err)
	}
	return nil
}

// ReadTree loads a persisted tree.
func ReadTree(path string) (catalog.Tree, error) {
	// #nosec G304 -- trees live in the run directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	tree := catalog.Tree{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", path, err)
	}
	return tree, nil
}
