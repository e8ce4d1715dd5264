// Package fakesite serves an in-process imitation of the catalog site for
// tests: cookie-based login with a rotating anti-forgery token, a per-session
// rendering variant, an index of subcategory addresses and Inertia fragment
// responses.
package fakesite

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/uiblocks-harvester/internal/catalog"
)

// Paths served by the site.
const (
	LoginPath   = "/login"
	IndexPath   = "/plus/ui-blocks"
	VariantPath = "/plus/ui-blocks/preferences"
	AssetVer    = "fake-asset-1"
)

// Component is one catalog entry. Modes lists the modes it exists in; nil means all.
type Component struct {
	UUID  string
	Name  string
	Code  string
	Modes []catalog.Mode
}

// Subcategory is one leaf page of the catalog.
type Subcategory struct {
	Product    string
	Category   string
	Name       string
	Components []Component
}

// Address is the page path of the subcategory.
func (s Subcategory) Address() string {
	return fmt.Sprintf("%s/%s/%s/%s", IndexPath, catalog.Slug(s.Product), catalog.Slug(s.Category), catalog.Slug(s.Name))
}

// Site is the fake server state.
type Site struct {
	*httptest.Server

	Identifier string
	Secret     string
	Catalog    []Subcategory
	Kits       map[string][]byte

	mu sync.Mutex
	// LoginStatus forces the credential POST response status when non-zero.
	LoginStatus int
	// SwitchStatus forces a variant switch status per variant key.
	SwitchStatus map[string]int
	// FailStatus makes a page return the given status FailTimes[path] times.
	FailStatus map[string]int
	FailTimes  map[string]int
	// ExpireAfter invalidates the session after that many fragment reads when non-zero.
	ExpireAfter int

	token    int
	sessions map[string]catalog.Variant
	hits     map[string]int
	fragment int
	switches []string
}

// New starts a site with the given catalog.
func New(identifier, secret string, subcategories []Subcategory) *Site {
	s := &Site{
		Identifier:   identifier,
		Secret:       secret,
		Catalog:      subcategories,
		Kits:         map[string][]byte{},
		SwitchStatus: map[string]int{},
		FailStatus:   map[string]int{},
		FailTimes:    map[string]int{},
		sessions:     map[string]catalog.Variant{},
		hits:         map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Default returns a small two-subcategory catalog.
func Default() []Subcategory {
	return []Subcategory{
		{
			Product: "Marketing", Category: "Page Sections", Name: "Hero Sections",
			Components: []Component{
				{UUID: "u-hero-1", Name: "Simple centered", Code: heroCode},
				{UUID: "u-hero-2", Name: "Split with image", Code: splitCode, Modes: []catalog.Mode{catalog.ModeLight}},
			},
		},
		{
			Product: "Application UI", Category: "Forms", Name: "Sign-in & Registration",
			Components: []Component{
				{UUID: "u-form-1", Name: "Simple card", Code: formCode},
			},
		},
	}
}

const heroCode = `import { ArrowRightIcon } from '@heroicons/react/20/solid'
export default function Example() {
  return <div className="bg-blue-500 px-4 text-sm {mode}">{framework}<ArrowRightIcon /></div>
}`

const splitCode = `import { Fragment } from 'react'
import clsx from 'clsx'
import Image from './image'
export default function Example() {
  return <div className="size-12 inset-ring data-closed:opacity-0 text-gray-900 mt-6 font-semibold">{mode}</div>
}`

const formCode = `<form class="space-y-6 p-8 text-base/7 tracking-tight"><input class="bg-white text-indigo-600 sr-only"></form>`

// Hits returns how often path was requested.
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// FragmentHits counts fragment page requests across all paths.
func (s *Site) FragmentHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fragment
}

// Switches lists accepted variant switches in order.
func (s *Site) Switches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.switches...)
}

// Fail makes path answer status for the next times requests.
func (s *Site) Fail(path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailStatus[path] = status
	s.FailTimes[path] = times
}

// SetLoginStatus forces the credential POST status.
func (s *Site) SetLoginStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoginStatus = status
}

// SetSwitchStatus forces the switch status for a variant.
func (s *Site) SetSwitchStatus(v catalog.Variant, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SwitchStatus[v.Key()] = status
}

// SetExpireAfter invalidates the session after n more fragment reads.
func (s *Site) SetExpireAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpireAfter = s.fragment + n
}

// ExpireSessions invalidates every logged-in session.
func (s *Site) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]catalog.Variant{}
}

func (s *Site) currentToken() string {
	return fmt.Sprintf("tok=%d", s.token)
}

func (s *Site) rotate(w http.ResponseWriter) {
	s.token++
	http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: url.QueryEscape(s.currentToken()), Path: "/"})
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	if status, ok := s.FailStatus[r.URL.Path]; ok && s.FailTimes[r.URL.Path] > 0 {
		s.FailTimes[r.URL.Path]--
		w.WriteHeader(status)
		return
	}

	switch {
	case r.URL.Path == LoginPath && r.Method == http.MethodGet:
		s.rotate(w)
		http.SetCookie(w, &http.Cookie{Name: "laravel_session", Value: "guest", Path: "/"})
		s.writePage(w, r, "Auth/Login", map[string]any{})
	case r.URL.Path == LoginPath && r.Method == http.MethodPost:
		s.login(w, r)
	case strings.HasPrefix(r.URL.Path, "/kits/"):
		s.kit(w, r)
	case r.URL.Path == VariantPath && r.Method == http.MethodPut:
		s.switchVariant(w, r)
	case r.URL.Path == IndexPath:
		if _, ok := s.authed(w, r); !ok {
			return
		}
		s.writePage(w, r, "UiBlocks/Index", s.indexProps())
	case strings.HasPrefix(r.URL.Path, IndexPath+"/"):
		s.page(w, r)
	case r.URL.Path == "/":
		if _, ok := s.authed(w, r); !ok {
			return
		}
		s.writePage(w, r, "Home", map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func (s *Site) validToken(r *http.Request) bool {
	return r.Header.Get("X-XSRF-TOKEN") == s.currentToken()
}

func (s *Site) login(w http.ResponseWriter, r *http.Request) {
	if !s.validToken(r) {
		w.WriteHeader(419)
		return
	}
	if s.LoginStatus != 0 {
		w.WriteHeader(s.LoginStatus)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if body.Email != s.Identifier || body.Password != s.Secret {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	id := fmt.Sprintf("sess-%d", len(s.sessions)+1)
	s.sessions[id] = catalog.Variant{Framework: catalog.FrameworkHTML, Version: catalog.VersionV4, Mode: catalog.ModeLight}
	http.SetCookie(w, &http.Cookie{Name: "laravel_session", Value: id, Path: "/"})
	s.rotate(w)
	w.Header().Set("Location", IndexPath)
	w.WriteHeader(http.StatusFound)
}

func (s *Site) authed(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, err := r.Cookie("laravel_session")
	if err == nil {
		if _, ok := s.sessions[c.Value]; ok {
			return c.Value, true
		}
	}
	w.Header().Set("Location", LoginPath)
	w.WriteHeader(http.StatusFound)
	return "", false
}

func (s *Site) switchVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authed(w, r)
	if !ok {
		return
	}
	if !s.validToken(r) {
		w.WriteHeader(419)
		return
	}
	var body struct {
		Context   string `json:"context"`
		Framework string `json:"framework"`
		Version   string `json:"version"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f, ferr := catalog.ParseFramework(body.Framework)
	v, verr := catalog.ParseVersion(body.Version)
	m, merr := catalog.ParseMode(body.Mode)
	if ferr != nil || verr != nil || merr != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	variant := catalog.Variant{Framework: f, Version: v, Mode: m}
	if status := s.SwitchStatus[variant.Key()]; status != 0 {
		w.WriteHeader(status)
		return
	}
	s.sessions[id] = variant
	s.switches = append(s.switches, variant.Key())
	s.rotate(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Site) kit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(w, r); !ok {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/kits/")
	data, ok := s.Kits[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(data) //nolint:errcheck // test server
}

func (s *Site) page(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authed(w, r)
	if !ok {
		return
	}
	s.fragment++
	if s.ExpireAfter > 0 && s.fragment > s.ExpireAfter {
		delete(s.sessions, id)
		w.WriteHeader(419)
		return
	}
	variant := s.sessions[id]
	for _, sub := range s.Catalog {
		if sub.Address() == r.URL.Path {
			s.writePage(w, r, "UiBlocks/Subcategory", subcategoryProps(sub, variant))
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Site) indexProps() map[string]any {
	var products []map[string]any
	for _, sub := range s.Catalog {
		products = append(products, map[string]any{
			"name": sub.Product,
			"categories": []map[string]any{{
				"name": sub.Category,
				"subcategories": []map[string]any{{
					"name": sub.Name,
					"url":  sub.Address(),
				}},
			}},
		})
	}
	featured := ""
	if len(s.Catalog) > 0 {
		featured = s.Server.URL + s.Catalog[0].Address()
	}
	return map[string]any{
		"products": products,
		"featured": map[string]any{"href": featured},
		"links":    []string{"/plus/templates", IndexPath},
	}
}

func subcategoryProps(sub Subcategory, v catalog.Variant) map[string]any {
	repl := strings.NewReplacer("{mode}", string(v.Mode), "{framework}", string(v.Framework))
	components := []map[string]any{}
	for _, c := range sub.Components {
		if !hasMode(c.Modes, v.Mode) {
			continue
		}
		preview := fmt.Sprintf("/plus/img/previews/%s-%s.png", c.UUID, v.Mode)
		if v.Mode == catalog.ModeSystem {
			preview = "<div class=\"preview\">inline</div>"
		}
		components = append(components, map[string]any{
			"uuid": c.UUID,
			"name": c.Name,
			"snippet": map[string]any{
				"code":             repl.Replace(c.Code),
				"language":         language(v.Framework),
				"version":          4,
				"mode":             strings.ToUpper(string(v.Mode)),
				"supportsDarkMode": true,
				"preview":          preview,
			},
		})
	}
	return map[string]any{
		"subcategory": map[string]any{
			"name": sub.Name,
			"category": map[string]any{
				"name":    sub.Category,
				"product": map[string]any{"name": sub.Product},
			},
			"components": components,
		},
	}
}

func hasMode(modes []catalog.Mode, m catalog.Mode) bool {
	if modes == nil {
		return true
	}
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

func language(f catalog.Framework) string {
	switch f {
	case catalog.FrameworkReact:
		return "jsx"
	case catalog.FrameworkVue:
		return "vue"
	default:
		return "html"
	}
}

func (s *Site) writePage(w http.ResponseWriter, r *http.Request, component string, props map[string]any) {
	page := map[string]any{
		"component": component,
		"props":     props,
		"url":       r.URL.Path,
		"version":   AssetVer,
	}
	payload, err := json.Marshal(page)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if r.Header.Get("X-Inertia") == "true" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Inertia", "true")
		_, _ = w.Write(payload) //nolint:errcheck // test server
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!doctype html><html><body><div id="app" data-page="%s"></div></body></html>`, html.EscapeString(string(payload))) //nolint:errcheck // test server
}
