package flatten

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
)

func snippet(code, mode string) *catalog.Snippet {
	return &catalog.Snippet{Code: code, Language: "html", Version: "4", Mode: mode, Preview: "/p/" + mode + ".png"}
}

func tree(leaves map[catalog.Path]catalog.Leaf) catalog.Tree {
	t := catalog.Tree{}
	for p, l := range leaves {
		t.Set(p, l)
	}
	return t
}

var (
	heroPath  = catalog.Path{"Marketing", "Heroes", "Simple", "Centered CTA"}
	splitPath = catalog.Path{"Marketing", "Heroes", "Split", "With image"}
)

func TestFlattenDisjointLeaves(t *testing.T) {
	t.Parallel()

	light := tree(map[catalog.Path]catalog.Leaf{
		heroPath:  {UUID: "u-1", Snippet: snippet("<a>", "light")},
		splitPath: {UUID: "u-2", Snippet: snippet("<b>", "light")},
	})
	records := Flatten(light, nil, nil, catalog.VersionV4)
	require.Len(t, records, 2)
	assert.Equal(t, "marketing/heroes/simple/centered-cta", records[0].ID)
	assert.Equal(t, "marketing/heroes/split/with-image", records[1].ID)
	assert.Equal(t, "Marketing", records[0].Category)
	assert.Equal(t, "Heroes", records[0].Subcategory)
	assert.Equal(t, "Simple", records[0].SubSubcategory)
	assert.Equal(t, "Centered CTA", records[0].Name)
	assert.Equal(t, "v4", records[0].Version)
}

func TestFlattenModeCompleteness(t *testing.T) {
	t.Parallel()

	light := tree(map[catalog.Path]catalog.Leaf{
		heroPath:  {UUID: "u-1", Snippet: snippet("<a>", "light")},
		splitPath: {UUID: "u-2", Snippet: snippet("<b>", "light")},
		{"Marketing", "Heroes", "Split", "No snippet"}: {UUID: "u-3"},
	})
	dark := tree(map[catalog.Path]catalog.Leaf{
		heroPath: {UUID: "u-1", Snippet: snippet("<a dark>", "dark")},
		{"Marketing", "Only", "In", "Dark"}: {UUID: "u-9", Snippet: snippet("x", "dark")},
	})
	system := tree(map[catalog.Path]catalog.Leaf{
		splitPath: {UUID: "u-2", Snippet: snippet("<b system>", "system")},
	})

	records := Flatten(light, dark, system, catalog.VersionV3)
	require.Len(t, records, 2, "incomplete light leaves and dark-only leaves are not emitted")
	for _, rec := range records {
		assert.NotNil(t, rec.Light)
	}
	assert.Equal(t, "<a dark>", records[0].Dark.Code)
	assert.Nil(t, records[0].System)
	assert.Nil(t, records[1].Dark)
	assert.Equal(t, "<b system>", records[1].System.Code)
}

func TestIDsAreDeterministic(t *testing.T) {
	t.Parallel()

	light := tree(map[catalog.Path]catalog.Leaf{
		heroPath:  {UUID: "u-1", Snippet: snippet("<a>", "light")},
		splitPath: {UUID: "u-2", Snippet: snippet("<b>", "light")},
	})
	first := Flatten(light, nil, nil, catalog.VersionV4)
	second := Flatten(light, nil, nil, catalog.VersionV4)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("flatten is not deterministic (-first +second):\n%s", diff)
	}
}

func TestNDJSONRoundTrip(t *testing.T) {
	t.Parallel()

	light := tree(map[catalog.Path]catalog.Leaf{
		heroPath: {UUID: "u-1", Snippet: snippet(`<div class="p-4">&</div>`, "light")},
	})
	records := Flatten(light, catalog.Tree{}, nil, catalog.VersionV4)
	path := StreamPath(t.TempDir(), catalog.FrameworkHTML, catalog.VersionV4)
	assert.Equal(t, "html-v4.ndjson", filepath.Base(path))
	require.NoError(t, WriteNDJSON(path, records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"dark":null`)
	assert.Contains(t, lines[0], `"system":null`)
	assert.Contains(t, lines[0], `<div class=\"p-4\">&</div>`)

	got, err := ReadNDJSON(path)
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadNDJSONReportsBadLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n\nnot-json\n"), 0o600))
	_, err := ReadNDJSON(path)
	require.ErrorContains(t, err, "line 3")
}
