package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"financing-wizard/domain"
)

const refreshPath = "/api/users/token/refresh/"

// expiresSoon inspects the exp claim without verifying the signature; the
// backend does the verification, this only avoids a round trip that would
// certainly fail.
func (c *Client) expiresSoon(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(c.now().Add(c.leeway))
}

// refresh trades the refresh token for a new access token.
func (c *Client) refresh(ctx context.Context, sess *Session) error {
	expired := &domain.AuthError{
		Status:     http.StatusUnauthorized,
		RedirectTo: c.loginURL,
		Message:    "Su sesión ha expirado. Inicie sesión nuevamente.",
	}
	if sess.RefreshToken() == "" {
		return expired
	}

	r, err := c.jsonRequest("refresh", http.MethodPost, refreshPath,
		map[string]string{"refresh": sess.RefreshToken()}, false)
	if err != nil {
		return err
	}
	status, body, err := c.send(ctx, r, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		c.logger.WithField("status", status).Warn("No se pudo refrescar el token")
		return expired
	}

	var resp struct {
		Access string `json:"access"`
	}
	if err := decodeJSON(body, &resp); err != nil || resp.Access == "" {
		return errors.Join(expired, err)
	}
	sess.setAccessToken(resp.Access)
	c.logger.Info("Token de acceso refrescado")
	return nil
}
