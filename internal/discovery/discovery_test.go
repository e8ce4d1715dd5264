package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/fakesite"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
)

func login(t *testing.T) (*fakesite.Site, *session.Session) {
	t.Helper()
	site := fakesite.New("ops@example.test", "s3cret", fakesite.Default())
	t.Cleanup(site.Close)
	m, err := session.NewManager(session.Config{
		BaseURL:        site.URL,
		LoginPath:      fakesite.LoginPath,
		ProbePath:      fakesite.IndexPath,
		VariantPath:    fakesite.VariantPath,
		VariantContext: "ui-blocks",
	}, zap.NewNop())
	require.NoError(t, err)
	s, err := m.Login(context.Background(), session.Credentials{Identifier: "ops@example.test", Secret: "s3cret"})
	require.NoError(t, err)
	return site, s
}

func newDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	d, err := New(Config{IndexPaths: []string{fakesite.IndexPath}, LoginPath: fakesite.LoginPath}, nil)
	require.NoError(t, err)
	return d
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{IndexPaths: []string{"/"}, Pattern: "("}, nil)
	require.Error(t, err)
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	site, s := login(t)
	addrs, err := newDiscoverer(t).Discover(context.Background(), s)
	require.NoError(t, err)

	subs := fakesite.Default()
	assert.Equal(t, []string{
		site.URL + subs[1].Address(),
		site.URL + subs[0].Address(),
	}, addrs, "featured duplicate collapses; non-subcategory links are dropped")
	assert.Equal(t, fakesite.AssetVer, s.AssetVersion())
}

func TestDiscoverDetectsExpiredSession(t *testing.T) {
	t.Parallel()

	site, s := login(t)
	site.ExpireSessions()

	_, err := newDiscoverer(t).Discover(context.Background(), s)
	require.ErrorIs(t, err, catalog.ErrSessionExpired)
}

func TestDiscoverIndexFailure(t *testing.T) {
	t.Parallel()

	site, s := login(t)
	site.Fail(fakesite.IndexPath, http.StatusBadGateway, 1)

	_, err := newDiscoverer(t).Discover(context.Background(), s)
	var fetchErr *catalog.FetchFailedError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadGateway, fetchErr.Status)
}

func TestHarvest(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://catalog.test")
	require.NoError(t, err)
	props := json.RawMessage(`{
		"nav": [
			{"href": "/plus/ui-blocks/marketing/sections/heroes/"},
			{"href": "https://catalog.test/plus/ui-blocks/marketing/sections/heroes"},
			{"href": "https://elsewhere.test/plus/ui-blocks/a/b/c"},
			{"href": "/plus/ui-blocks/marketing/sections"},
			{"href": "/plus/ui-blocks/a/b/c/d"}
		],
		"title": "UI Blocks",
		"count": 42
	}`)

	got := newDiscoverer(t).Harvest(base, props)
	assert.Equal(t, []string{"https://catalog.test/plus/ui-blocks/marketing/sections/heroes"}, got)
	assert.Empty(t, newDiscoverer(t).Harvest(base, json.RawMessage(`not json`)))
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	addrs := []string{"https://catalog.test/plus/ui-blocks/a/b/c"}
	require.NoError(t, Save(path, addrs))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, addrs, got)

	require.NoError(t, Save(path, []string{}))
	got, err = Load(path)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
