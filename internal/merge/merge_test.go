package merge

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
)

func fragmentJSON(product, category, subcategory, uuid, name, code string) string {
	return fmt.Sprintf(`{"component":"UiBlocks/Subcategory","version":"a1","url":"/x","props":{"subcategory":{
		"name":%q,"category":{"name":%q,"product":{"name":%q}},
		"components":[{"uuid":%q,"name":%q,"snippet":{"code":%q,"language":"JSX","version":4,"mode":"LIGHT","supportsDarkMode":true,"preview":"/p.png"}}]
	}}}`, subcategory, category, product, uuid, name, code)
}

func writeFragments(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestParseFragmentNormalizes(t *testing.T) {
	t.Parallel()

	frag, err := ParseFragment([]byte(fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "<div/>")))
	require.NoError(t, err)
	assert.Equal(t, "Marketing", frag.Product)
	assert.Equal(t, "Heroes", frag.Category)
	assert.Equal(t, "Simple", frag.Subcategory)
	require.Len(t, frag.Components, 1)
	s := frag.Components[0].Snippet
	require.NotNil(t, s)
	assert.Equal(t, "jsx", s.Language)
	assert.Equal(t, "light", s.Mode)
	assert.Equal(t, catalog.Text("4"), s.Version)
	assert.Equal(t, "<div/>", s.Code)
}

func TestParseFragmentFromHTML(t *testing.T) {
	t.Parallel()

	page := fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "<div/>")
	body := `<html><body><div id="app" data-page="` + html.EscapeString(page) + `"></div></body></html>`
	frag, err := ParseFragment([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Simple", frag.Subcategory)
}

func TestParseFragmentRejectsOtherPages(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{"component":"Auth/Login","props":{}}`,
		`<html><body>login</body></html>`,
		``,
	} {
		_, err := ParseFragment([]byte(body))
		require.ErrorIs(t, err, ErrNotFragment, body)
	}
}

func TestMergeDirDisjointSubcategories(t *testing.T) {
	t.Parallel()

	dir := writeFragments(t, map[string]string{
		"z-file-name-is-irrelevant.json": fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "a"),
		"a.json":                         fragmentJSON("Marketing", "Heroes", "Split", "u-2", "With image", "b"),
		"notes.txt":                      "ignored",
	})

	tree, stats, err := MergeDir(dir, LastWriteWins, nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Fragments: 2, Components: 2}, stats)
	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, []catalog.Path{
		{"Marketing", "Heroes", "Simple", "Centered CTA"},
		{"Marketing", "Heroes", "Split", "With image"},
	}, tree.Paths())
	leaf, ok := tree.Get(catalog.Path{"Marketing", "Heroes", "Simple", "Centered CTA"})
	require.True(t, ok)
	assert.Equal(t, "u-1", leaf.UUID)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"one.json": fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "a"),
		"two.json": fragmentJSON("Application UI", "Forms", "Sign-in", "u-2", "Card", "<form class=\"p-4\">"),
	}
	first, _, err := MergeDir(writeFragments(t, files), LastWriteWins, nil)
	require.NoError(t, err)
	second, _, err := MergeDir(writeFragments(t, files), LastWriteWins, nil)
	require.NoError(t, err)

	a, err := Encode(first)
	require.NoError(t, err)
	b, err := Encode(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	path := filepath.Join(t.TempDir(), "trees", "html-v4-light.json")
	require.NoError(t, WriteTree(path, first))
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(onDisk))

	loaded, err := ReadTree(path)
	require.NoError(t, err)
	if diff := cmp.Diff(first, loaded); diff != "" {
		t.Fatalf("tree round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, string(onDisk), `<form class=\"p-4\">`, "markup is not HTML-escaped")
}

func TestConflictPolicies(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"a.json": fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "first"),
		"b.json": fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "second"),
	}
	path := catalog.Path{"Marketing", "Heroes", "Simple", "Centered CTA"}

	tests := []struct {
		policy     Policy
		want       string
		components int
		discarded  int
	}{
		{LastWriteWins, "second", 2, 0},
		{FirstWriteWins, "first", 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			tree, stats, err := MergeDir(writeFragments(t, files), tt.policy, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Conflicts)
			assert.Equal(t, tt.components, stats.Components)
			assert.Equal(t, tt.discarded, stats.Discarded)
			leaf, ok := tree.Get(path)
			require.True(t, ok)
			assert.Equal(t, tt.want, leaf.Snippet.Code)
		})
	}

	t.Run(string(FailOnConflict), func(t *testing.T) {
		t.Parallel()
		_, _, err := MergeDir(writeFragments(t, files), FailOnConflict, nil)
		require.ErrorIs(t, err, ErrConflict)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, path, conflict.Path)
		assert.Equal(t, "b.json", conflict.Source)
	})
}

func TestIdenticalRewriteIsNotAConflict(t *testing.T) {
	t.Parallel()

	body := fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "same")
	_, stats, err := MergeDir(writeFragments(t, map[string]string{"a.json": body, "b.json": body}), FailOnConflict, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Conflicts)
}

func TestMergeDirSkipsNonFragments(t *testing.T) {
	t.Parallel()

	dir := writeFragments(t, map[string]string{
		"ok.json":    fragmentJSON("Marketing", "Heroes", "Simple", "u-1", "Centered CTA", "a"),
		"login.json": `{"component":"Auth/Login","props":{}}`,
	})
	tree, stats, err := MergeDir(dir, LastWriteWins, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 1, stats.Skipped)

	_, _, err = MergeDir(filepath.Join(dir, "missing"), LastWriteWins, nil)
	require.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, p)
	p, err = ParsePolicy("First-Write-Wins")
	require.NoError(t, err)
	assert.Equal(t, FirstWriteWins, p)
	_, err = ParsePolicy("random")
	require.Error(t, err)
}

func TestTreePath(t *testing.T) {
	t.Parallel()

	v := catalog.Variant{Framework: catalog.FrameworkVue, Version: catalog.VersionV3, Mode: catalog.ModeDark}
	assert.Equal(t, filepath.Join("run", "trees", "vue-v3-dark.json"), TreePath("run", v))
}
