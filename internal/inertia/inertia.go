// Package inertia decodes Inertia.js page objects and builds the request
// headers the protocol expects. A page arrives either as a JSON response to an
// X-Inertia request or embedded in the data-page attribute of the first HTML
// load.
package inertia

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Header names used by the protocol.
const (
	HeaderInertia       = "X-Inertia"
	HeaderVersion       = "X-Inertia-Version"
	HeaderRequestedWith = "X-Requested-With"
	HeaderXSRF          = "X-XSRF-TOKEN"
	AcceptPage          = "text/html, application/xhtml+xml, application/json"
)

// ErrNoPage means the body held neither page JSON nor a data-page attribute.
var ErrNoPage = errors.New("no inertia page in response")

// Page is the Inertia page object.
type Page struct {
	Component string          `json:"component"`
	Props     json.RawMessage `json:"props"`
	URL       string          `json:"url"`
	Version   string          `json:"version"`
}

// Decode extracts the page object from a JSON or HTML body.
func Decode(body []byte) (Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page{}, ErrNoPage
	}
	if trimmed[0] == '{' {
		return decodeJSON(trimmed)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	raw, ok := doc.Find("[data-page]").First().Attr("data-page")
	if !ok || strings.TrimSpace(raw) == "" {
		return Page{}, ErrNoPage
	}
	return decodeJSON([]byte(raw))
}

func decodeJSON(data []byte) (Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	if len(page.Props) == 0 && page.Component == "" {
		return Page{}, ErrNoPage
	}
	return page, nil
}

// Headers builds the request headers for a partial Inertia visit.
func Headers(version, xsrf, userAgent string) http.Header {
	h := http.Header{}
	h.Set(HeaderInertia, "true")
	h.Set(HeaderRequestedWith, "XMLHttpRequest")
	h.Set("Accept", AcceptPage)
	if version != "" {
		h.Set(HeaderVersion, version)
	}
	if xsrf != "" {
		h.Set(HeaderXSRF, xsrf)
	}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}
