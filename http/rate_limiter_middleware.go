package http

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// clientKey identifies the caller by IP. RealIP has already rewritten
// RemoteAddr when the request came through a proxy.
func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func RateLimitMiddleware(limiter *RateLimiter, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			key := clientKey(r)
			ok, wait := limiter.Allow(key)
			if !ok {
				logger.WithFields(logrus.Fields{
					"client":     key,
					"path":       r.URL.Path,
					"request_id": middleware.GetReqID(r.Context()),
				}).Warn("Límite de solicitudes excedido")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSON(w, logger, http.StatusTooManyRequests, apiError{
					Error: "Demasiadas solicitudes. Intente nuevamente en unos momentos.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
