package catalog

import (
	"fmt"
	"strings"
)

// Framework is the markup flavour a snippet is rendered in.
type Framework string

// Version is the styling framework generation a snippet targets.
type Version string

// Mode is the color scheme a snippet was rendered for.
type Mode string

const (
	FrameworkHTML  Framework = "html"
	FrameworkReact Framework = "react"
	FrameworkVue   Framework = "vue"

	VersionV3 Version = "v3"
	VersionV4 Version = "v4"

	ModeLight  Mode = "light"
	ModeDark   Mode = "dark"
	ModeSystem Mode = "system"
)

// Frameworks lists every supported framework in harvest order.
var Frameworks = []Framework{FrameworkHTML, FrameworkReact, FrameworkVue}

// Versions lists every supported version in harvest order.
var Versions = []Version{VersionV3, VersionV4}

// Modes lists every mode; light is canonical and always first.
var Modes = []Mode{ModeLight, ModeDark, ModeSystem}

// ParseFramework validates a framework name.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Frameworks {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown framework %q", s)
}

// ParseVersion validates a version name. A bare number such as "4" is accepted.
func ParseVersion(s string) (Version, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	for _, known := range Versions {
		if Version(v) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown version %q", s)
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Number returns the numeric generation ("4" for v4).
func (v Version) Number() string {
	return strings.TrimPrefix(string(v), "v")
}

// Variant is one server-side rendering configuration that needs an explicit switch.
type Variant struct {
	Framework Framework `json:"framework"`
	Version   Version   `json:"version"`
	Mode      Mode      `json:"mode"`
}

// Key renders the variant as "react-v4-light".
func (v Variant) Key() string {
	return fmt.Sprintf("%s-%s-%s", v.Framework, v.Version, v.Mode)
}

// Stream renders the (framework, version) pair as "react-v4".
func (v Variant) Stream() string {
	return StreamKey(v.Framework, v.Version)
}

func (v Variant) String() string { return v.Key() }

// StreamKey names the record-stream shared by all modes of a framework/version pair.
func StreamKey(f Framework, v Version) string {
	return fmt.Sprintf("%s-%s", f, v)
}

// Expand builds the cross product of the given dimensions, frameworks outermost
// and modes innermost, so light always precedes dark and system.
func Expand(frameworks []Framework, versions []Version, modes []Mode) []Variant {
	out := make([]Variant, 0, len(frameworks)*len(versions)*len(modes))
	for _, f := range frameworks {
		for _, v := range versions {
			for _, m := range modes {
				out = append(out, Variant{Framework: f, Version: v, Mode: m})
			}
		}
	}
	return out
}
