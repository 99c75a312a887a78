// Package api implements the pressroom REST API using chi.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/starford/pressroom/internal/apperr"
)

// Auth modes.
const (
	AuthDisabled = "disabled"
	AuthJWT      = "jwt"
)

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode string
	// Secret signs HS256 tokens in jwt mode.
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// DefaultOwner is the owner of every request in disabled mode.
	DefaultOwner string
}

type ownerKey struct{}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the authenticated owner of a request context.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// AuthMiddleware resolves the request owner. In disabled mode every request
// acts as cfg.DefaultOwner. In jwt mode requests must carry
// "Authorization: Bearer <token>" whose sub claim names the owner.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Mode != AuthJWT {
				next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), cfg.DefaultOwner)))
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, apperr.New(apperr.KindAuth, "missing bearer token"))
				return
			}
			owner, err := ParseToken(cfg, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(cfg AuthConfig, raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return "", apperr.Wrap(apperr.KindAuth, msg, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", apperr.New(apperr.KindAuth, "token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for ownerID valid for ttl. A zero ttl omits the
// expiry claim.
func IssueToken(cfg AuthConfig, ownerID string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("api: jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  ownerID,
		Issuer:   cfg.Issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// RateLimitConfig bounds per-owner request rates. A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ownerLimits keeps one token bucket per owner. Idle buckets are swept on
// access rather than by a background goroutine.
type ownerLimits struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	owners    map[string]*ownerLimiter
	lastSweep time.Time
}

const limiterIdle = 5 * time.Minute

func newOwnerLimits(cfg RateLimitConfig) *ownerLimits {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &ownerLimits{cfg: cfg, owners: make(map[string]*ownerLimiter), lastSweep: time.Now()}
}

func (l *ownerLimits) allow(owner string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, o := range l.owners {
			if now.Sub(o.lastSeen) > limiterIdle {
				delete(l.owners, k)
			}
		}
		l.lastSweep = now
	}
	o, ok := l.owners[owner]
	if !ok {
		o = &ownerLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.owners[owner] = o
	}
	o.lastSeen = now
	l.mu.Unlock()
	return o.limiter.Allow()
}

// RateLimitMiddleware limits requests per authenticated owner.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limits := newOwnerLimits(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := OwnerFrom(r.Context())
			if !limits.allow(owner) {
				slog.Warn("rate limit exceeded", slog.String("owner", owner), slog.String("path", r.URL.Path))
				writeError(w, apperr.New(apperr.KindRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
