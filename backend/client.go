package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
	"financing-wizard/repository"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultLoginPath  = "/login.html"
	defaultCSRFPage   = "/solicitud-financiamiento.html"
	defaultLeeway     = 30 * time.Second
	maxErrorBodyBytes = 64 * 1024
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// LoginURL is where the applicant is sent when the session cannot be
	// refreshed.
	LoginURL string
	// CSRFPagePath is the storefront page whose markup carries the CSRF token.
	CSRFPagePath string
	// RefreshLeeway refreshes access tokens that expire within this window.
	RefreshLeeway time.Duration
}

// Client talks to the financing REST backend.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	loginURL string
	csrfPage string
	leeway   time.Duration
	csrf     csrfCache
	now      func() time.Time
	logger   *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("URL del backend inválida: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginPath
	}
	if cfg.CSRFPagePath == "" {
		cfg.CSRFPagePath = defaultCSRFPage
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = defaultLeeway
	}

	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		loginURL: cfg.LoginURL,
		csrfPage: cfg.CSRFPagePath,
		leeway:   cfg.RefreshLeeway,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// request describes one backend call. Body is kept as bytes so the call can
// be replayed after a token refresh.
type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	auth        bool
}

// needsCSRF is true for authenticated calls that change state.
func (r request) needsCSRF() bool {
	return r.auth && r.method != http.MethodGet && r.method != http.MethodHead
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) jsonRequest(op, method, path string, payload any, auth bool) (request, error) {
	req := request{op: op, method: method, path: path, auth: auth}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return request{}, fmt.Errorf("%s: serializar: %w", op, err)
		}
		req.body = body
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends r, refreshing the session once on a 401.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var sess *Session
	if r.auth {
		s, ok := SessionFrom(ctx)
		if !ok || s.AccessToken() == "" {
			return nil, &domain.AuthError{Status: http.StatusUnauthorized, RedirectTo: c.loginURL,
				Message: "Debe iniciar sesión para continuar"}
		}
		sess = s
		if c.expiresSoon(sess.AccessToken()) {
			if err := c.refresh(ctx, sess); err != nil {
				return nil, err
			}
		}
	}

	status, body, err := c.send(ctx, r, sess)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && sess != nil {
		c.logger.WithField("op", r.op).Info("Token rechazado, intentando refrescar la sesión")
		if err := c.refresh(ctx, sess); err != nil {
			return nil, err
		}
		status, body, err = c.send(ctx, r, sess)
		if err != nil {
			return nil, err
		}
	}
	if status == http.StatusForbidden && r.needsCSRF() {
		c.InvalidateCSRF()
	}
	return body, c.statusError(r.op, status, body)
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("respuesta inválida del backend: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, r request, sess *Session) (int, []byte, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", r.op, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken())
	}
	if r.needsCSRF() {
		token := c.csrfToken(ctx, sess)
		if token != "" {
			req.Header.Set("X-CSRFToken", token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return 0, nil, ctxErr
		}
		return 0, nil, &domain.NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &domain.NetworkError{Op: r.op, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"op":         r.op,
		"method":     r.method,
		"path":       r.path,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"elapsed":    time.Since(started).String(),
	}).Debug("Llamada al backend")
	return resp.StatusCode, data, nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func (c *Client) statusError(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &domain.AuthError{Status: status, RedirectTo: c.loginURL,
			Message: "Su sesión ha expirado. Inicie sesión nuevamente."}
	case status == http.StatusForbidden:
		return &domain.AuthError{Status: status,
			Message: "Token de seguridad inválido. Recargue la página."}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, repository.ErrApplicationNotFound)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return parseValidationError(status, body)
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("HTTP %d", status)}
	}
	return fmt.Errorf("%s: HTTP %d: %s", op, status, truncate(body))
}

// parseValidationError reads DRF-style bodies: {"field": ["msg"], ...} or
// {"detail": "msg"} or {"error": "msg"}.
func parseValidationError(status int, body []byte) *domain.BackendValidationError {
	verr := &domain.BackendValidationError{Status: status, Fields: map[string][]string{}}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		verr.Detail = truncate(body)
		return verr
	}
	for key, val := range raw {
		var msgs []string
		var msg string
		switch {
		case json.Unmarshal(val, &msgs) == nil:
		case json.Unmarshal(val, &msg) == nil:
			msgs = []string{msg}
		default:
			continue
		}
		switch key {
		case "detail", "error", "message", "non_field_errors":
			verr.Detail = strings.Join(msgs, " ")
		default:
			verr.Fields[key] = msgs
		}
	}
	return verr
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return strings.TrimSpace(string(body))
}
