package catalog

import (
	"regexp"
	"strings"
)

// PathDepth is the fixed depth of every catalog leaf:
// product / category / subcategory / component.
const PathDepth = 4

// Path addresses one leaf of a merged tree.
type Path [PathDepth]string

var (
	idUnsafe   = regexp.MustCompile(`[^A-Za-z0-9/]+`)
	slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)
)

// RecordID derives the stable identifier of a catalog leaf. It is a pure
// function of the path: segments are joined with "/", every run of characters
// other than ASCII letters, digits and "/" becomes "-", and the result is
// lower-cased.
func RecordID(p Path) string {
	joined := strings.Join(p[:], "/")
	return strings.ToLower(idUnsafe.ReplaceAllString(joined, "-"))
}

// Slug lower-cases s and collapses every non-alphanumeric run into a single "-".
func Slug(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
