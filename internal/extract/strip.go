package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/flatten"
)

// Input decodes either a flattened catalog.Record or an already stripped
// catalog.MetadataRecord, so a stream can be stripped any number of times.
type Input struct {
	ID             string           `json:"id"`
	UUID           string           `json:"uuid"`
	Name           string           `json:"name"`
	Version        string           `json:"version"`
	Category       string           `json:"category"`
	Subcategory    string           `json:"subcategory"`
	SubSubcategory string           `json:"sub_subcategory"`
	Light          *catalog.Snippet `json:"light"`
	Dark           *catalog.Snippet `json:"dark"`
	System         *catalog.Snippet `json:"system"`

	Availability *catalog.Availability  `json:"availability"`
	Previews     *catalog.Previews      `json:"previews"`
	Dependencies *catalog.Dependencies  `json:"dependencies"`
	Tokens       *catalog.Tokens        `json:"tokens"`
	Tailwind     *catalog.TailwindFlags `json:"tailwind"`
}

// FromRecord wraps a flattened record.
func FromRecord(r catalog.Record) Input {
	return Input{
		ID:             r.ID,
		UUID:           r.UUID,
		Name:           r.Name,
		Version:        r.Version,
		Category:       r.Category,
		Subcategory:    r.Subcategory,
		SubSubcategory: r.SubSubcategory,
		Light:          r.Light,
		Dark:           r.Dark,
		System:         r.System,
	}
}

// FromMetadata wraps an already stripped record.
func FromMetadata(m catalog.MetadataRecord) Input {
	return Input{
		ID:             m.ID,
		UUID:           m.UUID,
		Name:           m.Name,
		Version:        m.Version,
		Category:       m.Category,
		Subcategory:    m.Subcategory,
		SubSubcategory: m.SubSubcategory,
		Availability:   &m.Availability,
		Previews:       &m.Previews,
		Dependencies:   &m.Dependencies,
		Tokens:         &m.Tokens,
		Tailwind:       &m.Tailwind,
	}
}

// Code returns the first non-empty snippet code, preferring light, then
// dark, then system.
func (in Input) Code() string {
	for _, s := range []*catalog.Snippet{in.Light, in.Dark, in.System} {
		if s != nil && s.Code != "" {
			return s.Code
		}
	}
	return ""
}

// Analysis is every derived set for one piece of code.
type Analysis struct {
	Dependencies catalog.Dependencies
	Tokens       catalog.Tokens
	Tailwind     catalog.TailwindFlags
}

// Analyze runs every rule over code. Empty code yields empty sets.
func Analyze(code string) Analysis {
	v4 := V4Only(code)
	return Analysis{
		Dependencies: catalog.Dependencies{Packages: Packages(code), Icons: Icons(code)},
		Tokens: catalog.Tokens{
			Colors:     Colors(code),
			Spacing:    Spacing(code),
			Typography: Typography(code),
		},
		Tailwind: catalog.TailwindFlags{V4Only: v4, V3Compatible: len(v4) == 0},
	}
}

// Strip reduces in to its metadata record. Sets are derived from code when
// any snippet carries some; otherwise previously derived sets pass through
// normalized. The result never contains code and Strip is idempotent.
func Strip(in Input) catalog.MetadataRecord {
	out := catalog.MetadataRecord{
		ID:             in.ID,
		UUID:           in.UUID,
		Name:           in.Name,
		Version:        in.Version,
		Category:       in.Category,
		Subcategory:    in.Subcategory,
		SubSubcategory: in.SubSubcategory,
		Availability: catalog.Availability{
			Light:  in.Light != nil,
			Dark:   in.Dark != nil,
			System: in.System != nil,
		},
		Previews: catalog.Previews{
			Light:  previewRef(in.Light),
			Dark:   previewRef(in.Dark),
			System: previewRef(in.System),
		},
	}
	if in.Light == nil && in.Dark == nil && in.System == nil {
		if in.Availability != nil {
			out.Availability = *in.Availability
		}
		if in.Previews != nil {
			out.Previews = catalog.Previews{
				Light:  reference(in.Previews.Light),
				Dark:   reference(in.Previews.Dark),
				System: reference(in.Previews.System),
			}
		}
	}

	if code := in.Code(); code != "" {
		a := Analyze(code)
		out.Dependencies, out.Tokens, out.Tailwind = a.Dependencies, a.Tokens, a.Tailwind
		return out
	}

	a := Analyze("")
	if in.Dependencies != nil {
		a.Dependencies = catalog.Dependencies{
			Packages: normalize(in.Dependencies.Packages),
			Icons:    normalize(in.Dependencies.Icons),
		}
	}
	if in.Tokens != nil {
		a.Tokens = catalog.Tokens{
			Colors:     normalize(in.Tokens.Colors),
			Spacing:    normalize(in.Tokens.Spacing),
			Typography: normalize(in.Tokens.Typography),
		}
	}
	if in.Tailwind != nil {
		v4 := normalize(in.Tailwind.V4Only)
		a.Tailwind = catalog.TailwindFlags{V4Only: v4, V3Compatible: len(v4) == 0}
	}
	out.Dependencies, out.Tokens, out.Tailwind = a.Dependencies, a.Tokens, a.Tailwind
	return out
}

// StripLine strips one NDJSON line and returns the encoded result, newline included.
func StripLine(line []byte) ([]byte, error) {
	var in Input
	if err := json.Unmarshal(line, &in); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if in.ID == "" {
		return nil, errors.New("decode record: missing id")
	}
	return flatten.Marshal(Strip(in))
}

func previewRef(s *catalog.Snippet) string {
	if s == nil {
		return ""
	}
	return reference(s.Preview)
}

// reference keeps URLs and absolute or relative paths. Inline markup and
// anything else that could carry source text is dropped.
func reference(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsAny(p, "<> \t\n\"'") {
		return ""
	}
	switch {
	case strings.HasPrefix(p, "https://"),
		strings.HasPrefix(p, "http://"),
		strings.HasPrefix(p, "/"),
		strings.HasPrefix(p, "./"):
		return p
	}
	return ""
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return set(out)
}
