package checkpoint

import (
	"fmt"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
)

// Unit ids are opaque to the log; these helpers keep their spelling in one place.
const (
	UnitDiscover = "2-discover"
	UnitIndex    = "8-index"
	UnitManifest = "10-manifest"
	UnitPublish  = "11-publish"
)

// KitUnit names the download of one content kit.
func KitUnit(kit string) string { return "4-kit-" + catalog.Slug(kit) }

// FormatUnit names the bulk fetch of one variant, e.g. "5-format-react-v4-light".
func FormatUnit(v catalog.Variant) string { return "5-format-" + v.Key() }

// MergeUnit names the merge of one variant's fragments.
func MergeUnit(v catalog.Variant) string { return "6-merge-" + v.Key() }

// FlattenUnit names the correlation of one framework/version stream.
func FlattenUnit(f catalog.Framework, v catalog.Version) string {
	return fmt.Sprintf("7-flatten-%s", catalog.StreamKey(f, v))
}

// ExtractUnit names the strip pass over one framework/version stream.
func ExtractUnit(f catalog.Framework, v catalog.Version) string {
	return fmt.Sprintf("9-extract-%s", catalog.StreamKey(f, v))
}
