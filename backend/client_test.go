package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testToken(exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	signed, _ := token.SignedString([]byte("test"))
	return signed
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 2 * time.Second, LoginURL: "/login.html"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

// recorder counts requests per "METHOD path".
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}}
}

func (r *recorder) hit(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[req.Method+" "+req.URL.Path]++
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func TestNewClient_InvalidURL(t *testing.T) {

	_, err := NewClient(Config{BaseURL: "no-es-una-url"}, testLogger())

	if err == nil {
		t.Errorf("expected error for invalid base URL")
	}
}

func TestFetchConfig(t *testing.T) {

	bodies := []string{
		`{"modes":[{"mode_type":"credito","down_payment_options":[35,45],"term_options":[12,24],"interest_rate":12}]}`,
		`{"success":true,"data":{"modes":[{"mode_type":"credito","down_payment_options":[35,45],"term_options":[12,24],"interest_rate":12}]}}`,
	}

	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != configPath {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "" {
				t.Errorf("config must not send credentials")
			}
			w.Write([]byte(body))
		}))
		client := newTestClient(t, server)

		cfg, err := client.FetchConfig(context.Background())
		server.Close()

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		mode, ok := cfg.Mode(domain.ModeImmediateCredit)
		if !ok {
			t.Fatalf("expected credit mode in %s", body)
		}
		if len(mode.DownPaymentOptions) != 2 || mode.InterestRate != 12 {
			t.Errorf("unexpected mode config %+v", mode)
		}
	}
}

func TestDo_RefreshesOn401(t *testing.T) {

	rec := newRecorder()
	fresh := testToken(time.Now().Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.hit(r)
		switch r.URL.Path {
		case refreshPath:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refresh"] != "refresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"access": fresh})
		case requestPath(7, ""):
			if r.Header.Get("Authorization") != "Bearer "+fresh {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"id":7,"product_price":"4500.00","payment_frequency":"monthly"}`))
		}
	}))
	defer server.Close()
	client := newTestClient(t, server)

	sess := NewSession("opaque-old-token", "refresh-token", "csrf")
	app, err := client.Get(WithSession(context.Background(), sess), 7)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if app.ID != 7 || app.ProductPrice.String() != "4500" {
		t.Errorf("unexpected application %+v", app)
	}
	if rec.count("POST "+refreshPath) != 1 {
		t.Errorf("expected exactly one refresh, got %d", rec.count("POST "+refreshPath))
	}
	if sess.AccessToken() != fresh {
		t.Errorf("expected session to carry the refreshed token")
	}
}

func TestDo_RefreshesExpiredTokenBeforeCalling(t *testing.T) {

	rec := newRecorder()
	fresh := testToken(time.Now().Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.hit(r)
		if r.URL.Path == refreshPath {
			json.NewEncoder(w).Encode(map[string]string{"access": fresh})
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			t.Errorf("request sent with the expired token")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	client := newTestClient(t, server)

	sess := NewSession(testToken(time.Now().Add(-time.Minute)), "refresh-token", "csrf")
	err := client.Submit(WithSession(context.Background(), sess), 3)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count("POST "+requestPath(3, "submit")) != 1 {
		t.Errorf("expected one submit call")
	}
}

func TestDo_RefreshFailureRedirectsToLogin(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	client := newTestClient(t, server)

	sess := NewSession("opaque-token", "refresh-token", "csrf")
	err := client.Submit(WithSession(context.Background(), sess), 3)

	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Status != http.StatusUnauthorized || authErr.RedirectTo != "/login.html" {
		t.Errorf("unexpected auth error %+v", authErr)
	}
}

func TestDo_MissingSession(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected without a session")
	}))
	defer server.Close()
	client := newTestClient(t, server)

	err := client.Submit(context.Background(), 3)

	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("expected AuthError, got %v", err)
	}
}

func TestDo_Forbidden(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	client := newTestClient(t, server)

	sess := NewSession(testToken(time.Now().Add(time.Hour)), "refresh", "stale-csrf")
	err := client.Submit(WithSession(context.Background(), sess), 3)

	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || authErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 AuthError, got %v", err)
	}
	if !strings.Contains(authErr.Message, "Recargue la página") {
		t.Errorf("unexpected message %q", authErr.Message)
	}
}

func TestDo_ValidationError(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"monthly_income":["Debe ser mayor a 0."],"employment_type":"Opción inválida.","success":false}`))
	}))
	defer server.Close()
	client := newTestClient(t, server)

	sess := NewSession(testToken(time.Now().Add(time.Hour)), "refresh", "csrf")
	_, err := client.Create(WithSession(context.Background(), sess), domain.WirePayload{})

	var verr *domain.BackendValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected BackendValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("expected 2 field errors, got %v", verr.Fields)
	}
	want := "employment_type: Opción inválida.; monthly_income: Debe ser mayor a 0."
	if verr.Message() != want {
		t.Errorf("expected %q, got %q", want, verr.Message())
	}
}

func TestDo_ServerErrorIsNetworkError(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client := newTestClient(t, server)

	_, err := client.FetchConfig(context.Background())

	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected NetworkError, got %v", err)
	}
}

func TestDo_Timeout(t *testing.T) {

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.FetchConfig(context.Background())

	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected NetworkError on timeout, got %v", err)
	}
}
