// Package extract derives dependency and design-token sets from snippet code
// and strips records down to their redistributable metadata.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Rule maps snippet code to a sorted, de-duplicated set of strings. Rules
// share no state and may run in any order.
type Rule func(code string) []string

// IconPackage is the only module icon identifiers are collected from.
const IconPackage = "@heroicons/react"

var (
	importFromRe = regexp.MustCompile(`\bimport\s+(?:[^'"();]*?\s+from\s+)?['"]([^'"]+)['"]`)
	requireRe    = regexp.MustCompile(`\b(?:require|import)\(\s*['"]([^'"]+)['"]\s*\)`)
	namedFromRe  = regexp.MustCompile(`\bimport\s*(?:type\s+)?(?:[A-Za-z_$][\w$]*\s*,\s*)?\{([^}]*)\}\s*from\s*['"]([^'"]+)['"]`)
	iconNameRe   = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*Icon$`)

	classAttrRe = regexp.MustCompile(`(?:\bclass|\bclassName|:class)\s*=\s*(?:"([^"]*)"|'([^']*)'|\{\s*["'` + "`" + `]([^"'` + "`" + `]*)["'` + "`" + `]\s*\})`)
	classFnRe   = regexp.MustCompile(`\b(?:clsx|classNames|cn|twMerge)\(([^()]*(?:\([^()]*\)[^()]*)*)\)`)
	literalRe   = regexp.MustCompile(`'([^']*)'|"([^"]*)"|` + "`([^`]*)`")

	colorRe = regexp.MustCompile(`^(?:bg|text|border(?:-[xytrblse])?|ring(?:-offset)?|outline|divide|fill|stroke|from|via|to|placeholder|accent|caret|decoration|shadow|inset-ring|inset-shadow)-` +
		`((?:slate|gray|zinc|neutral|stone|red|orange|amber|yellow|lime|green|emerald|teal|cyan|sky|blue|indigo|violet|purple|fuchsia|pink|rose)-(?:50|[1-9]00|950))$`)
	spacingRe    = regexp.MustCompile(`^(?:p[xytrblse]?|m[xytrblse]?|gap(?:-[xy])?|space-[xy])-\d+(?:\.\d+)?$`)
	typographyRe = regexp.MustCompile(`^(?:text-(?:xs|sm|base|lg|xl|[2-9]xl)|` +
		`font-(?:thin|extralight|light|normal|medium|semibold|bold|extrabold|black)|` +
		`tracking-(?:tighter|tight|normal|wide|wider|widest)|` +
		`leading-(?:none|tight|snug|normal|relaxed|loose|\d+)|` +
		`truncate|line-clamp-(?:\d+|none)|sr-only|not-sr-only)$`)
)

// v4Markers are class fragments only the newer styling framework understands.
// Variant markers match a variant prefix, utility markers match the utility.
var (
	v4VariantMarkers = []string{
		"data-active", "data-checked", "data-closed", "data-disabled", "data-enter",
		"data-focus", "data-hover", "data-leave", "data-open", "data-selected",
		"data-transition", "inert", "not-", "starting",
	}
	v4UtilityMarkers = []string{
		"bg-conic", "bg-linear-", "bg-radial", "field-sizing-", "inset-ring",
		"inset-shadow", "mask-", "outline-hidden", "rounded-xs", "shadow-xs",
		"size-", "text-shadow",
	}
)

// Rules lists every rule in output order.
var Rules = []struct {
	Name  string
	Apply Rule
}{
	{"packages", Packages},
	{"icons", Icons},
	{"colors", Colors},
	{"spacing", Spacing},
	{"typography", Typography},
	{"v4_only", V4Only},
}

// Packages returns the package roots code imports or requires. Relative
// imports and project aliases such as "@/lib" are excluded.
func Packages(code string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{importFromRe, requireRe} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			if root := packageRoot(m[1]); root != "" {
				out = append(out, root)
			}
		}
	}
	return set(out)
}

func packageRoot(specifier string) string {
	specifier = strings.TrimSpace(specifier)
	switch {
	case specifier == "",
		strings.HasPrefix(specifier, "."),
		strings.HasPrefix(specifier, "/"),
		strings.HasPrefix(specifier, "@/"),
		strings.HasPrefix(specifier, "~"),
		strings.HasPrefix(specifier, "#"),
		strings.Contains(specifier, "://"):
		return ""
	}
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// Icons returns the icon components imported by name from IconPackage.
func Icons(code string) []string {
	var out []string
	for _, m := range namedFromRe.FindAllStringSubmatch(code, -1) {
		if packageRoot(m[2]) != IconPackage {
			continue
		}
		for _, specifier := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(specifier), "type "))
			if i := strings.Index(name, " as "); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			if iconNameRe.MatchString(name) {
				out = append(out, name)
			}
		}
	}
	return set(out)
}

// Colors returns family-shade pairs used by color utilities, e.g. "gray-900".
func Colors(code string) []string {
	var out []string
	for _, tok := range classTokens(code) {
		if m := colorRe.FindStringSubmatch(utility(tok)); m != nil {
			out = append(out, m[1])
		}
	}
	return set(out)
}

// Spacing returns padding, margin, gap and space utilities with a numeric step.
func Spacing(code string) []string {
	return matchUtilities(code, spacingRe)
}

// Typography returns font size, weight, tracking, leading, truncation and
// screen-reader utilities.
func Typography(code string) []string {
	return matchUtilities(code, typographyRe)
}

// V4Only returns the v4-only markers present in class lists.
func V4Only(code string) []string {
	var out []string
	for _, tok := range classTokens(code) {
		variants, util := splitVariants(tok)
		for _, v := range variants {
			for _, marker := range v4VariantMarkers {
				if v == marker || (strings.HasSuffix(marker, "-") && strings.HasPrefix(v, marker)) {
					out = append(out, marker)
				}
			}
		}
		util = trimUtility(util)
		for _, marker := range v4UtilityMarkers {
			if util == strings.TrimSuffix(marker, "-") || strings.HasPrefix(util, marker) {
				out = append(out, marker)
			}
		}
	}
	return set(out)
}

func matchUtilities(code string, re *regexp.Regexp) []string {
	var out []string
	for _, tok := range classTokens(code) {
		if u := utility(tok); re.MatchString(u) {
			out = append(out, u)
		}
	}
	return set(out)
}

// classTokens returns the raw whitespace-separated tokens of every class
// attribute and class-helper string literal in code.
func classTokens(code string) []string {
	var lists []string
	for _, m := range classAttrRe.FindAllStringSubmatchIndex(code, -1) {
		for g := 2; g < len(m); g += 2 {
			if m[g] < 0 {
				continue
			}
			val := code[m[g]:m[g+1]]
			if strings.HasPrefix(code[m[0]:m[1]], ":class") {
				lists = append(lists, literals(val)...)
				continue
			}
			lists = append(lists, val)
		}
	}
	for _, m := range classFnRe.FindAllStringSubmatch(code, -1) {
		lists = append(lists, literals(m[1])...)
	}
	var out []string
	for _, l := range lists {
		out = append(out, strings.Fields(l)...)
	}
	return out
}

func literals(expr string) []string {
	var out []string
	for _, m := range literalRe.FindAllStringSubmatch(expr, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
			}
		}
	}
	return out
}

// splitVariants separates "sm:hover:bg-x" into its variants and utility.
// Colons inside arbitrary values do not split.
func splitVariants(tok string) ([]string, string) {
	var variants []string
	depth, start := 0, 0
	for i, r := range tok {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ':':
			if depth == 0 {
				variants = append(variants, tok[start:i])
				start = i + 1
			}
		}
	}
	return variants, tok[start:]
}

func trimUtility(u string) string {
	u = strings.TrimPrefix(u, "!")
	u = strings.TrimSuffix(u, "!")
	u = strings.TrimPrefix(u, "-")
	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	return u
}

// utility strips variants, important and negative markers and opacity or
// line-height modifiers from a class token.
func utility(tok string) string {
	_, u := splitVariants(tok)
	return trimUtility(u)
}

func set(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
