// Package session owns the authenticated state shared by every network phase:
// the cookie jar, the rotating anti-forgery token and the Inertia asset
// version. A Session is passed explicitly to each caller; its token is re-read
// from the jar with Refresh before every state-changing request.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/inertia"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// Cookie names set by the site.
const (
	XSRFCookie    = "XSRF-TOKEN"
	SessionCookie = "laravel_session"
)

// Session is an authenticated cookie store plus its current anti-forgery token.
// It is read-mostly while a fetch batch is in flight; callers mutate it only
// between batches.
type Session struct {
	mu           sync.RWMutex
	base         *url.URL
	jar          http.CookieJar
	client       *resty.Client
	userAgent    string
	assetVersion string
	xsrf         string
}

func newSession(base *url.URL, jar http.CookieJar, client *resty.Client, userAgent string) *Session {
	return &Session{base: base, jar: jar, client: client, userAgent: userAgent}
}

// NewJar builds the cookie jar sessions use.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// Refresh re-reads the anti-forgery token from the cookie jar. The site
// rotates the token, so a value cached from an earlier response is stale.
func (s *Session) Refresh() error {
	token, ok := s.cookie(XSRFCookie)
	if !ok || token == "" {
		return fmt.Errorf("%w: no %s cookie", catalog.ErrSessionExpired, XSRFCookie)
	}
	decoded, err := url.QueryUnescape(token)
	if err != nil {
		return fmt.Errorf("decode %s: %w", XSRFCookie, err)
	}
	s.mu.Lock()
	s.xsrf = decoded
	s.mu.Unlock()
	return nil
}

func (s *Session) cookie(name string) (string, bool) {
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Token returns the token captured by the last Refresh.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.xsrf
}

// AssetVersion returns the Inertia asset version the site last reported.
func (s *Session) AssetVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assetVersion
}

// SetAssetVersion records a newer asset version.
func (s *Session) SetAssetVersion(v string) {
	if v == "" {
		return
	}
	s.mu.Lock()
	s.assetVersion = v
	s.mu.Unlock()
}

// Headers snapshots the Inertia and anti-forgery headers for a batch of reads.
func (s *Session) Headers() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return inertia.Headers(s.assetVersion, s.xsrf, s.userAgent)
}

// Jar exposes the cookie store so other transports can share it.
func (s *Session) Jar() http.CookieJar { return s.jar }

// BaseURL returns the site root.
func (s *Session) BaseURL() *url.URL {
	u := *s.base
	return &u
}

// Client returns the session's HTTP client.
func (s *Session) Client() *resty.Client { return s.client }

// Resolve turns a site path or absolute URL into an absolute URL.
func (s *Session) Resolve(address string) (string, error) {
	ref, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	return s.base.ResolveReference(ref).String(), nil
}

// storedCookie keeps what the jar reports for the site root. The jar hides
// expiry and path, so restored cookies are session cookies scoped to "/".
type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type storedSession struct {
	BaseURL      string         `json:"base_url"`
	AssetVersion string         `json:"asset_version"`
	SavedAt      time.Time      `json:"saved_at"`
	Cookies      []storedCookie `json:"cookies"`
}

// Save persists the cookie store so a later process can reuse the session.
func (s *Session) Save(path string) error {
	state := storedSession{
		BaseURL:      s.base.String(),
		AssetVersion: s.AssetVersion(),
		SavedAt:      time.Now().UTC(),
	}
	for _, c := range s.jar.Cookies(s.base) {
		state.Cookies = append(state.Cookies, storedCookie{Name: c.Name, Value: c.Value})
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := local.WriteFileAtomic(path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func loadStored(path string) (storedSession, error) {
	// #nosec G304 -- the session path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return storedSession{}, fmt.Errorf("read session: %w", err)
	}
	var state storedSession
	if err := json.Unmarshal(data, &state); err != nil {
		return storedSession{}, fmt.Errorf("decode session %s: %w", path, err)
	}
	return state, nil
}

// Discard removes a persisted session. A missing file is not an error.
func Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard session: %w", err)
	}
	return nil
}
