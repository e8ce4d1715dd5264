package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Text is a string that also accepts a bare JSON number when decoding.
// Upstream responses are inconsistent about snippet versions.
type Text string

// UnmarshalJSON accepts a string, a number or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode text: %w", err)
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode text: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*t = Text(strconv.FormatInt(i, 10))
		return nil
	}
	*t = Text(n.String())
	return nil
}

// Snippet is one rendered example of a component in a single variant.
type Snippet struct {
	Code             string `json:"code"`
	Language         string `json:"language"`
	Version          Text   `json:"version"`
	Mode             string `json:"mode"`
	SupportsDarkMode bool   `json:"supportsDarkMode"`
	Preview          string `json:"preview"`
}

// Component is one entry of a fragment.
type Component struct {
	UUID    string   `json:"uuid"`
	Name    string   `json:"name"`
	Snippet *Snippet `json:"snippet"`
}

// Fragment is one per-subcategory response. Product, Category and Subcategory
// come from the response body, never from the file it was stored under.
type Fragment struct {
	Product     string      `json:"product"`
	Category    string      `json:"category"`
	Subcategory string      `json:"subcategory"`
	Components  []Component `json:"components"`
}

// Leaf is the payload stored at a depth-4 tree path.
type Leaf struct {
	UUID    string   `json:"uuid"`
	Snippet *Snippet `json:"snippet"`
}

// Complete reports whether the leaf carries both a uuid and a snippet.
func (l Leaf) Complete() bool {
	return l.UUID != "" && l.Snippet != nil
}

// Tree is product -> category -> subcategory -> component name -> leaf.
// Map keys marshal sorted, so equal trees encode to identical bytes.
type Tree map[string]map[string]map[string]map[string]Leaf

// Get returns the leaf at p.
func (t Tree) Get(p Path) (Leaf, bool) {
	leaf, ok := t[p[0]][p[1]][p[2]][p[3]]
	return leaf, ok
}

// Set stores leaf at p and reports the previous value, if any.
func (t Tree) Set(p Path, leaf Leaf) (Leaf, bool) {
	categories, ok := t[p[0]]
	if !ok {
		categories = make(map[string]map[string]map[string]Leaf)
		t[p[0]] = categories
	}
	subcategories, ok := categories[p[1]]
	if !ok {
		subcategories = make(map[string]map[string]Leaf)
		categories[p[1]] = subcategories
	}
	leaves, ok := subcategories[p[2]]
	if !ok {
		leaves = make(map[string]Leaf)
		subcategories[p[2]] = leaves
	}
	prev, existed := leaves[p[3]]
	leaves[p[3]] = leaf
	return prev, existed
}

// Paths lists every leaf path in lexical order.
func (t Tree) Paths() []Path {
	var out []Path
	for _, product := range sortedKeys(t) {
		categories := t[product]
		for _, category := range sortedKeys(categories) {
			subcategories := categories[category]
			for _, subcategory := range sortedKeys(subcategories) {
				for _, name := range sortedKeys(subcategories[subcategory]) {
					out = append(out, Path{product, category, subcategory, name})
				}
			}
		}
	}
	return out
}

// Len counts leaves.
func (t Tree) Len() int {
	n := 0
	for _, categories := range t {
		for _, subcategories := range categories {
			for _, leaves := range subcategories {
				n += len(leaves)
			}
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is one catalog leaf correlated across modes. Light is always set;
// Dark and System encode as explicit null when that mode has no entry.
type Record struct {
	ID             string   `json:"id"`
	UUID           string   `json:"uuid"`
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Category       string   `json:"category"`
	Subcategory    string   `json:"subcategory"`
	SubSubcategory string   `json:"sub_subcategory"`
	Light          *Snippet `json:"light"`
	Dark           *Snippet `json:"dark"`
	System         *Snippet `json:"system"`
}

// Availability flags which modes exist for a record.
type Availability struct {
	Light  bool `json:"light"`
	Dark   bool `json:"dark"`
	System bool `json:"system"`
}

// Previews keeps preview references per mode. Only URL-like references survive stripping.
type Previews struct {
	Light  string `json:"light,omitempty"`
	Dark   string `json:"dark,omitempty"`
	System string `json:"system,omitempty"`
}

// Dependencies lists what a snippet imports.
type Dependencies struct {
	Packages []string `json:"packages"`
	Icons    []string `json:"icons"`
}

// Tokens lists the design tokens a snippet uses.
type Tokens struct {
	Colors     []string `json:"colors"`
	Spacing    []string `json:"spacing"`
	Typography []string `json:"typography"`
}

// TailwindFlags records styling-version gated features.
type TailwindFlags struct {
	V4Only       []string `json:"v4_only"`
	V3Compatible bool     `json:"v3_compatible"`
}

// MetadataRecord is the redistribution-safe derivative of a Record. It never
// carries snippet code.
type MetadataRecord struct {
	ID             string        `json:"id"`
	UUID           string        `json:"uuid"`
	Name           string        `json:"name"`
	Version        string        `json:"version"`
	Category       string        `json:"category"`
	Subcategory    string        `json:"subcategory"`
	SubSubcategory string        `json:"sub_subcategory"`
	Availability   Availability  `json:"availability"`
	Previews       Previews      `json:"previews"`
	Dependencies   Dependencies  `json:"dependencies"`
	Tokens         Tokens        `json:"tokens"`
	Tailwind       TailwindFlags `json:"tailwind"`
}
