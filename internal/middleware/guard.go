package middlewareinternal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Schera-ole/vmwatch/internal/auth"
	"github.com/Schera-ole/vmwatch/internal/cache"
)

// APIKeyHeader carries the agent credential.
const APIKeyHeader = "X-API-KEY"

// APIKeyAuthenticator resolves an API key to the agent it was issued for.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, key string) (string, error)
}

// BearerAuthenticator resolves an Authorization header to an admin username.
type BearerAuthenticator interface {
	AuthenticateBearer(header string) (string, error)
}

// WriteMessage writes {"message": msg} with the given status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func unauthorized(w http.ResponseWriter) {
	WriteMessage(w, http.StatusUnauthorized, "Unauthorized")
}

// APIKeyAuth admits requests with a valid X-API-KEY and stores the agent id
// in the request context.
func APIKeyAuth(a APIKeyAuthenticator, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID, err := a.AuthenticateAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				logger.Debugw("api key rejected", "remote", r.RemoteAddr, "error", err)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAgent(r.Context(), agentID)))
		})
	}
}

// BearerAuth admits requests with a valid bearer token and stores the admin
// username in the request context.
func BearerAuth(a BearerAuthenticator, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := a.AuthenticateBearer(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debugw("bearer token rejected", "remote", r.RemoteAddr, "error", err)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAdmin(r.Context(), username)))
		})
	}
}

// clientLimiters tracks one token bucket per client address. Idle clients
// expire out of the table.
type clientLimiters struct {
	limit   rate.Limit
	burst   int
	buckets cache.Cache[string, *rate.Limiter]
}

func (c *clientLimiters) get(client string) *rate.Limiter {
	if l, ok := c.buckets.Get(client); ok {
		return l
	}
	c.buckets.PutIfAbsent(client, rate.NewLimiter(c.limit, c.burst))
	l, ok := c.buckets.Get(client)
	if !ok {
		// table is full and evicted us immediately; fall back to a fresh bucket
		return rate.NewLimiter(c.limit, c.burst)
	}
	return l
}

// RateLimit throttles each client address to limit requests per second with
// the given burst, answering 429 once the bucket is empty. A non-positive
// limit disables throttling.
func RateLimit(limit float64, burst int, settings cache.Settings) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiters := &clientLimiters{
		limit:   rate.Limit(limit),
		burst:   burst,
		buckets: cache.NewExpiringLRU[string, *rate.Limiter](settings),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(clientAddress(r)).Allow() {
				WriteMessage(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
