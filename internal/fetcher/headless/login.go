// Package headless drives a visible Chrome window through an interactive
// login and captures the resulting session cookies, for accounts whose login
// cannot be scripted (SSO, passkeys, captchas).
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the browser login.
type Config struct {
	// SuccessMarkers are URL substrings that signal a completed login.
	SuccessMarkers []string
	UserAgent      string
	Timeout        time.Duration
	PollInterval   time.Duration
	// Headless is only useful for automated tests against a fake site.
	Headless bool
}

// Capture is what a finished browser login yields.
type Capture struct {
	FinalURL string
	Cookies  []*http.Cookie
}

// Browser runs interactive logins.
type Browser struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Browser.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if len(cfg.SuccessMarkers) == 0 {
		return nil, fmt.Errorf("at least one success marker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger}, nil
}

// CaptureLogin opens loginURL and waits until the operator lands on a page
// matching a success marker, then returns the cookies set for cookieURL.
func (b *Browser) CaptureLogin(ctx context.Context, loginURL, cookieURL string) (Capture, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.timeout())
	defer cancel()

	if err := chromedp.Run(taskCtx, b.setupAction(), chromedp.Navigate(loginURL)); err != nil {
		return Capture{}, fmt.Errorf("open login page: %w", err)
	}
	b.logger.Info("Waiting for browser login", zap.String("url", loginURL), zap.Duration("timeout", b.timeout()))

	finalURL, err := b.waitForSuccess(taskCtx)
	if err != nil {
		return Capture{}, err
	}

	var cookies []*network.Cookie
	err = chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var gerr error
		cookies, gerr = network.GetCookies().WithURLs([]string{cookieURL}).Do(ctx)
		return gerr
	}))
	if err != nil {
		return Capture{}, fmt.Errorf("read browser cookies: %w", err)
	}
	b.logger.Info("Browser login captured", zap.String("final_url", finalURL), zap.Int("cookies", len(cookies)))
	return Capture{FinalURL: finalURL, Cookies: toHTTPCookies(cookies)}, nil
}

// CaptureCookies runs CaptureLogin and keeps only the cookies.
func (b *Browser) CaptureCookies(ctx context.Context, loginURL, cookieURL string) ([]*http.Cookie, error) {
	capture, err := b.CaptureLogin(ctx, loginURL, cookieURL)
	if err != nil {
		return nil, err
	}
	return capture.Cookies, nil
}

func (b *Browser) waitForSuccess(ctx context.Context) (string, error) {
	ticker := time.NewTicker(b.pollInterval())
	defer ticker.Stop()
	for {
		var location string
		if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
			return "", fmt.Errorf("read browser location: %w", err)
		}
		if LoginSucceeded(location, b.cfg.SuccessMarkers) {
			return location, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("browser login not completed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) timeout() time.Duration {
	if b.cfg.Timeout > 0 {
		return b.cfg.Timeout
	}
	return 5 * time.Minute
}

func (b *Browser) pollInterval() time.Duration {
	if b.cfg.PollInterval > 0 {
		return b.cfg.PollInterval
	}
	return 500 * time.Millisecond
}

// LoginSucceeded reports whether location matches a success marker and is not
// itself a login page.
func LoginSucceeded(location string, markers []string) bool {
	if location == "" || strings.Contains(strings.ToLower(location), "login") {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(location, m) {
			return true
		}
	}
	return false
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}
