package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
	"github.com/JakeFAU/uiblocks-harvester/internal/inertia"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

// StatusPageExpired is Laravel's "419 Page Expired" for a stale anti-forgery token.
const StatusPageExpired = 419

// Config describes the site endpoints the manager talks to.
type Config struct {
	BaseURL        string
	LoginPath      string
	ProbePath      string
	VariantPath    string
	VariantContext string
	UserAgent      string
	Timeout        time.Duration
	StorePath      string
}

// Manager performs login, restore and variant switches.
type Manager struct {
	cfg    Config
	base   *url.URL
	logger *zap.Logger
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, base: base, logger: logger}, nil
}

// StorePath returns where sessions are persisted.
func (m *Manager) StorePath() string { return m.cfg.StorePath }

func (m *Manager) newSession() (*Session, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}
	return m.sessionWithJar(jar), nil
}

func (m *Manager) sessionWithJar(jar http.CookieJar) *Session {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(m.base.String(), "/"))
	client.SetCookieJar(jar)
	client.SetTimeout(m.cfg.Timeout)
	if m.cfg.UserAgent != "" {
		client.SetHeader("User-Agent", m.cfg.UserAgent)
	}
	// Redirects are observed, not followed: a 302 is both the login success
	// signal and the symptom of an expired session.
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	return newSession(m.base, jar, client, m.cfg.UserAgent)
}

// Login runs the anti-forgery handshake and submits creds.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	s, err := m.newSession()
	if err != nil {
		return nil, err
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html").
		Get(m.cfg.LoginPath)
	if err != nil {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}
	if page, derr := inertia.Decode(res.Body()); derr == nil {
		s.SetAssetVersion(page.Version)
	}
	if err := s.Refresh(); err != nil {
		m.logger.Error("Login page set no anti-forgery cookie", zap.Int("status", res.StatusCode()))
		return nil, &catalog.AuthenticationFailedError{Status: res.StatusCode()}
	}

	res, err = s.client.R().
		SetContext(ctx).
		SetHeader(inertia.HeaderXSRF, s.Token()).
		SetHeader(inertia.HeaderRequestedWith, "XMLHttpRequest").
		SetHeader("Accept", "application/json").
		SetBody(map[string]any{
			"email":    creds.Identifier,
			"password": creds.Secret,
			"remember": true,
		}).
		Post(m.cfg.LoginPath)
	if err != nil {
		return nil, fmt.Errorf("submit login: %w", err)
	}
	status := res.StatusCode()
	if !loginAccepted(status) || m.redirectsToLogin(res) {
		m.logger.Error("Login rejected", zap.Int("status", status))
		return nil, &catalog.AuthenticationFailedError{Status: status}
	}
	if err := s.Refresh(); err != nil {
		return nil, fmt.Errorf("after login: %w", err)
	}
	m.logger.Info("Logged in", zap.Int("status", status), zap.String("asset_version", s.AssetVersion()))
	return s, nil
}

func loginAccepted(status int) bool {
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusFound, http.StatusSeeOther:
		return true
	}
	return false
}

func (m *Manager) redirectsToLogin(res *resty.Response) bool {
	if res.StatusCode() < 300 || res.StatusCode() >= 400 {
		return false
	}
	return IsLoginLocation(res.Header().Get("Location"), m.cfg.LoginPath)
}

// IsLoginLocation reports whether a redirect target points at the login page.
func IsLoginLocation(location, loginPath string) bool {
	if location == "" {
		return false
	}
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Path == loginPath || strings.HasSuffix(u.Path, "/login")
}

// Restore loads a persisted session and probes it. A stale session yields
// ErrSessionExpired; a missing store yields os.ErrNotExist.
func (m *Manager) Restore(ctx context.Context, path string) (*Session, error) {
	state, err := loadStored(path)
	if err != nil {
		return nil, err
	}
	s, err := m.newSession()
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	s.jar.SetCookies(m.base, cookies)
	s.SetAssetVersion(state.AssetVersion)
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	if err := m.Probe(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("Restored session", zap.Time("saved_at", state.SavedAt))
	return s, nil
}

// Probe issues a cheap authenticated read to confirm the session is alive.
func (m *Manager) Probe(ctx context.Context, s *Session) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(s.Headers()).
		Get(m.cfg.ProbePath)
	if err != nil {
		return fmt.Errorf("probe session: %w", err)
	}
	if err := m.expired(res); err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK && res.StatusCode() != http.StatusConflict {
		return fmt.Errorf("%w: probe status %d", catalog.ErrSessionExpired, res.StatusCode())
	}
	if page, derr := inertia.Decode(res.Body()); derr == nil {
		s.SetAssetVersion(page.Version)
	}
	return s.Refresh()
}

func (m *Manager) expired(res *resty.Response) error {
	switch {
	case res.StatusCode() == http.StatusUnauthorized, res.StatusCode() == StatusPageExpired:
		return fmt.Errorf("%w: status %d", catalog.ErrSessionExpired, res.StatusCode())
	case m.redirectsToLogin(res):
		return fmt.Errorf("%w: redirected to login", catalog.ErrSessionExpired)
	}
	return nil
}

// Options tune Authenticate.
type Options struct {
	// Resume reuses a persisted session when it is still valid.
	Resume bool
	// Sources is the credential chain used when a fresh login is needed.
	Sources []Source
	// Interactive replaces the credential login, e.g. with a browser flow.
	Interactive func(ctx context.Context) (*Session, error)
}

// Authenticate yields a live session. A non-resumed run always discards the
// persisted session first. The resulting session is saved for later resumes.
func (m *Manager) Authenticate(ctx context.Context, opts Options) (*Session, error) {
	if !opts.Resume {
		if err := Discard(m.cfg.StorePath); err != nil {
			return nil, err
		}
	} else if m.cfg.StorePath != "" {
		s, err := m.Restore(ctx, m.cfg.StorePath)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, os.ErrNotExist):
			m.logger.Info("No saved session; logging in")
		default:
			m.logger.Warn("Saved session unusable; logging in", zap.Error(err))
		}
	}

	var (
		s   *Session
		err error
	)
	if opts.Interactive != nil {
		s, err = opts.Interactive(ctx)
	} else {
		var creds Credentials
		creds, err = Resolve(ctx, m.logger, opts.Sources...)
		if err != nil {
			return nil, err
		}
		s, err = m.Login(ctx, creds)
	}
	if err != nil {
		return nil, err
	}
	if m.cfg.StorePath != "" {
		if err := s.Save(m.cfg.StorePath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SwitchVariant changes the server-rendered variant for the configured context.
func (m *Manager) SwitchVariant(ctx context.Context, s *Session, v catalog.Variant) error {
	if err := s.Refresh(); err != nil {
		return err
	}
	res, err := s.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(s.Headers()).
		SetHeader("Accept", "application/json").
		SetBody(map[string]string{
			"context":   m.cfg.VariantContext,
			"framework": string(v.Framework),
			"version":   v.Version.Number(),
			"mode":      string(v.Mode),
		}).
		Put(m.cfg.VariantPath)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("switch variant: %w", ctx.Err())
		}
		m.logger.Warn("Variant switch transport error", zap.String("variant", v.Key()), zap.Error(err))
		return &catalog.VariantSwitchFailedError{Variant: v}
	}
	if err := m.expired(res); err != nil {
		return err
	}
	if res.StatusCode() >= 400 {
		return &catalog.VariantSwitchFailedError{Variant: v, Status: res.StatusCode()}
	}
	return s.Refresh()
}

// Download fetches an authenticated asset and writes it atomically to dest.
func (m *Manager) Download(ctx context.Context, s *Session, address, dest string) (int64, error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetHeader(inertia.HeaderXSRF, s.Token()).
		Get(address)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("download %s: %w", address, ctx.Err())
		}
		return 0, &catalog.FetchFailedError{Address: address, Err: err}
	}
	if err := m.expired(res); err != nil {
		return 0, err
	}
	if res.StatusCode() != http.StatusOK {
		return 0, &catalog.FetchFailedError{Address: address, Status: res.StatusCode()}
	}
	body := res.Body()
	if err := local.WriteFileAtomic(dest, bytes.NewReader(body)); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func mustRef(path string) *url.URL {
	u, err := url.Parse(path)
	if err != nil {
		return &url.URL{Path: "/"}
	}
	return u
}
