package backend

import (
	"context"
	"sync"
)

// Session holds the applicant's credentials for one request flow. The
// access token is replaced in place when it gets refreshed.
type Session struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	csrfToken    string
}

func NewSession(accessToken, refreshToken, csrfToken string) *Session {
	return &Session{
		accessToken:  accessToken,
		refreshToken: refreshToken,
		csrfToken:    csrfToken,
	}
}

func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

func (s *Session) CSRFToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfToken
}

func (s *Session) setAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

func (s *Session) setCSRFToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrfToken = token
}

type sessionKey struct{}

// WithSession attaches credentials to ctx for the authenticated endpoints.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
