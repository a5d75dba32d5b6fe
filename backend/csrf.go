package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

const (
	csrfCookieName = "csrftoken"
	csrfTokenPath  = "/api/users/csrf-token/"
)

// csrfCache keeps the last discovered token, shared by all sessions since it
// pairs with the client's cookie jar.
type csrfCache struct {
	mu    sync.Mutex
	token string
}

// csrfToken returns the token for a state-changing call. Order: the token
// the caller brought, a cached one, the storefront page markup, the cookie,
// the token endpoint.
func (c *Client) csrfToken(ctx context.Context, sess *Session) string {
	if sess != nil && sess.CSRFToken() != "" {
		return sess.CSRFToken()
	}

	c.csrf.mu.Lock()
	defer c.csrf.mu.Unlock()
	if c.csrf.token != "" {
		return c.csrf.token
	}

	token := c.discoverCSRFToken(ctx)
	if token == "" {
		c.logger.Warn("No se encontró token CSRF, la petición puede ser rechazada")
		return ""
	}
	c.csrf.token = token
	if sess != nil {
		sess.setCSRFToken(token)
	}
	return token
}

// InvalidateCSRF drops the cached token after the backend rejected it.
func (c *Client) InvalidateCSRF() {
	c.csrf.mu.Lock()
	defer c.csrf.mu.Unlock()
	c.csrf.token = ""
}

func (c *Client) discoverCSRFToken(ctx context.Context) string {
	if _, page, err := c.send(ctx, request{op: "csrf_page", method: http.MethodGet, path: c.csrfPage}, nil); err == nil {
		if token := CSRFFromHTML(page); token != "" {
			return token
		}
	}
	if token := c.csrfFromCookie(); token != "" {
		return token
	}

	status, body, err := c.send(ctx, request{op: "csrf_token", method: http.MethodGet, path: csrfTokenPath}, nil)
	if err != nil || status != http.StatusOK {
		return ""
	}
	var resp struct {
		CSRFToken string `json:"csrfToken"`
		Token     string `json:"csrf_token"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return ""
	}
	if resp.CSRFToken != "" {
		return resp.CSRFToken
	}
	if resp.Token != "" {
		return resp.Token
	}
	return c.csrfFromCookie()
}

func (c *Client) csrfFromCookie() string {
	for _, cookie := range c.http.Jar.Cookies(c.baseURL) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

// CSRFFromHTML extracts the token from <meta name="csrf-token"> or, failing
// that, from the hidden csrfmiddlewaretoken input.
func CSRFFromHTML(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	if token, ok := doc.Find(`meta[name="csrf-token"]`).First().Attr("content"); ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}
	if token, ok := doc.Find(`input[name="csrfmiddlewaretoken"]`).First().Attr("value"); ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}
	return ""
}
