// Package auth implements the two credential schemes guarding the server:
// long-lived API keys for agents and short-lived signed bearer tokens for
// administrators.
//
// Both schemes are stateless between requests. Every failure is reported as
// errors.ErrUnauthenticated so callers cannot learn which check failed.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Schera-ole/vmwatch/internal/cache"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

const (
	// APIKeyBytes is the entropy of an issued API key.
	APIKeyBytes = 32

	// DefaultTokenTTL is the bearer token lifetime when none is configured.
	DefaultTokenTTL = time.Hour
)

// Store is the part of the persistence layer the gateway reads and writes.
type Store interface {
	FindAdminByUsername(ctx context.Context, username string) (models.Admin, error)
	FindAgentByID(ctx context.Context, id string) (models.Agent, error)
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	CreateAPIKey(ctx context.Context, key models.APIKey) error
}

// Options configures a Gateway.
type Options struct {
	// Secret signs and verifies bearer tokens
	Secret string

	// TokenTTL is the lifetime of issued bearer tokens
	TokenTTL time.Duration

	// HashCost is the bcrypt cost used for API key hashes
	HashCost int
}

// Gateway validates and issues credentials.
type Gateway struct {
	store    Store
	caches   *cache.Facade
	logger   *zap.SugaredLogger
	secret   []byte
	tokenTTL time.Duration
	hashCost int
	now      func() time.Time

	// dummyHash is compared against when an admin does not exist so that the
	// response time does not reveal valid usernames.
	dummyHash []byte
}

// NewGateway creates a Gateway. The caches may be nil, in which case API key
// resolutions are not cached.
func NewGateway(store Store, caches *cache.Facade, opts Options, logger *zap.SugaredLogger) (*Gateway, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("%w: token secret is empty", internalerrors.ErrConfiguration)
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("vmwatch-dummy"), opts.HashCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrConfiguration, err)
	}
	return &Gateway{
		store:     store,
		caches:    caches,
		logger:    logger,
		secret:    []byte(opts.Secret),
		tokenTTL:  opts.TokenTTL,
		hashCost:  opts.HashCost,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// HashPassword hashes a password with the default bcrypt cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyAdmin checks an admin's username and password.
func (g *Gateway) VerifyAdmin(ctx context.Context, username, password string) (models.Admin, error) {
	admin, err := g.store.FindAdminByUsername(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(password))
		if !errors.Is(err, internalerrors.ErrNotFound) {
			g.logger.Errorw("admin lookup failed", "error", err)
		}
		return models.Admin{}, internalerrors.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return models.Admin{}, internalerrors.ErrUnauthenticated
	}
	return admin, nil
}

// keyDigest is the cache key for a presented API key. The plaintext itself
// is never kept.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AuthenticateAPIKey resolves a presented API key to the agent it is bound to.
func (g *Gateway) AuthenticateAPIKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", internalerrors.ErrUnauthenticated
	}
	digest := keyDigest(key)
	if g.caches != nil {
		if cached, ok := g.caches.Get(cache.APIKeys, digest); ok {
			if agentID, ok := cached.(string); ok {
				return agentID, nil
			}
		}
	}

	keys, err := g.store.ListAPIKeys(ctx)
	if err != nil {
		g.logger.Errorw("api key lookup failed", "error", err)
		return "", internalerrors.ErrUnauthenticated
	}
	for _, stored := range keys {
		if bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(key)) == nil {
			if g.caches != nil {
				g.caches.Put(cache.APIKeys, digest, stored.AgentID)
			}
			return stored.AgentID, nil
		}
	}
	return "", internalerrors.ErrUnauthenticated
}

// IssueAPIKey creates a key for agentID on behalf of an admin and returns the
// plaintext. Only its hash is stored.
func (g *Gateway) IssueAPIKey(ctx context.Context, username, password, agentID string) (string, error) {
	if _, err := g.VerifyAdmin(ctx, username, password); err != nil {
		return "", err
	}
	if _, err := g.store.FindAgentByID(ctx, agentID); err != nil {
		return "", internalerrors.ErrUnauthenticated
	}

	raw := make([]byte, APIKeyBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		g.logger.Errorw("api key generation failed", "error", err)
		return "", internalerrors.ErrUnauthenticated
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), g.hashCost)
	if err != nil {
		g.logger.Errorw("api key hashing failed", "error", err)
		return "", internalerrors.ErrUnauthenticated
	}
	err = g.store.CreateAPIKey(ctx, models.APIKey{
		ID:        uuid.NewString(),
		Hash:      string(hash),
		AgentID:   agentID,
		CreatedAt: g.now(),
	})
	if err != nil {
		g.logger.Errorw("api key persistence failed", "error", err)
		return "", internalerrors.ErrUnauthenticated
	}
	g.logger.Infow("api key issued", "agent", agentID, "admin", username)
	return key, nil
}

// IssueToken signs a bearer token for a verified admin. Any signing failure
// yields an empty token.
func (g *Gateway) IssueToken(ctx context.Context, username, password string) (string, error) {
	if _, err := g.VerifyAdmin(ctx, username, password); err != nil {
		return "", err
	}
	now := g.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		g.logger.Errorw("token signing failed", "error", err)
		return "", internalerrors.ErrUnauthenticated
	}
	return token, nil
}

// AuthenticateBearer verifies a token and returns the admin username it was
// issued to. The "Bearer " prefix is optional.
func (g *Gateway) AuthenticateBearer(header string) (string, error) {
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return "", internalerrors.ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || claims.Subject == "" {
		return "", internalerrors.ErrUnauthenticated
	}
	return claims.Subject, nil
}
