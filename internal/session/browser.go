package session

import (
	"context"
	"fmt"
	"net/http"
)

// CookieCapturer signs an operator in out of band and returns the cookies the
// site set for cookieURL.
type CookieCapturer interface {
	CaptureCookies(ctx context.Context, loginURL, cookieURL string) ([]*http.Cookie, error)
}

// BrowserLogin returns an Interactive login func that lets an operator sign in
// through a real browser and adopts the captured cookies.
func (m *Manager) BrowserLogin(browser CookieCapturer) func(ctx context.Context) (*Session, error) {
	return func(ctx context.Context) (*Session, error) {
		loginURL := m.base.ResolveReference(mustRef(m.cfg.LoginPath)).String()
		cookies, err := browser.CaptureCookies(ctx, loginURL, m.base.String())
		if err != nil {
			return nil, fmt.Errorf("browser login: %w", err)
		}
		return m.Adopt(ctx, cookies)
	}
}

// Adopt builds a session from externally obtained cookies and probes it.
func (m *Manager) Adopt(ctx context.Context, cookies []*http.Cookie) (*Session, error) {
	s, err := m.newSession()
	if err != nil {
		return nil, err
	}
	for _, c := range cookies {
		// The jar scopes by request URL; explicit domains from the browser
		// may not match a test host.
		c.Domain = ""
	}
	s.jar.SetCookies(m.base, cookies)
	if err := m.Probe(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
