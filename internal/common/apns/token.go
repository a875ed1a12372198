package apns

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/database"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/metrics"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshAfter is how long a provider token is reused. APNs rejects
// tokens older than one hour and throttles tokens refreshed more often than
// every 20 minutes.
const DefaultRefreshAfter = 50 * time.Minute

// SignedToken is a provider authentication token and the time it was issued.
type SignedToken struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Credentials identify the signing key registered with Apple.
type Credentials struct {
	KeyID      string
	TeamID     string
	PrivateKey string
}

// Signer produces a provider token for the given issue time.
type Signer interface {
	Sign(issuedAt time.Time) (string, error)
}

// ES256Signer signs provider tokens with an APNs .p8 key.
type ES256Signer struct {
	creds Credentials
}

func NewES256Signer(creds Credentials) *ES256Signer {
	return &ES256Signer{creds: creds}
}

func (s *ES256Signer) Sign(issuedAt time.Time) (string, error) {
	key, err := ParsePrivateKey(s.creds.PrivateKey)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.creds.TeamID,
		"iat": issuedAt.Unix(),
	})
	token.Header["kid"] = s.creds.KeyID

	return token.SignedString(key)
}

// TokenCache is an optional second-level cache shared between processes.
type TokenCache interface {
	Get(ctx context.Context) (SignedToken, bool, error)
	Put(ctx context.Context, token SignedToken, ttl time.Duration) error
}

// TokenManager hands out a cached provider token and re-signs it only once
// it is older than refreshAfter. Safe for concurrent use; concurrent callers
// on an expired token share a single signing operation.
type TokenManager struct {
	mu           sync.Mutex
	signer       Signer
	refreshAfter time.Duration
	now          func() time.Time
	shared       TokenCache
	logger       logger.Logger

	cached   *SignedToken
	signings atomic.Int64
}

type TokenOption func(*TokenManager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

func WithSharedCache(cache TokenCache) TokenOption {
	return func(m *TokenManager) { m.shared = cache }
}

func WithLogger(log logger.Logger) TokenOption {
	return func(m *TokenManager) { m.logger = log }
}

func NewTokenManager(signer Signer, refreshAfter time.Duration, opts ...TokenOption) *TokenManager {
	if refreshAfter <= 0 {
		refreshAfter = DefaultRefreshAfter
	}
	m := &TokenManager{
		signer:       signer,
		refreshAfter: refreshAfter,
		now:          time.Now,
		logger:       logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid provider token, signing a new one if needed.
// Signing errors are TOKEN_SIGNING_FAILED and fatal to the caller's run.
func (m *TokenManager) Token(ctx context.Context) (SignedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.fresh(m.cached, now) {
		metrics.TokenCacheLookups.WithLabelValues("memory", "hit").Inc()
		return *m.cached, nil
	}
	metrics.TokenCacheLookups.WithLabelValues("memory", "miss").Inc()

	if m.shared != nil {
		tok, ok, err := m.shared.Get(ctx)
		switch {
		case err != nil:
			m.logger.Warn("shared token cache unavailable, signing locally", map[string]interface{}{"error": err})
		case ok && m.fresh(&tok, now):
			metrics.TokenCacheLookups.WithLabelValues("shared", "hit").Inc()
			m.cached = &tok
			return tok, nil
		default:
			metrics.TokenCacheLookups.WithLabelValues("shared", "miss").Inc()
		}
	}

	m.logger.Info("signing new APNs provider token", nil)
	value, err := m.signer.Sign(now)
	if err != nil {
		return SignedToken{}, apperrors.NewTokenSigningFailedError(err)
	}
	m.signings.Add(1)
	metrics.TokenSignings.Inc()

	tok := SignedToken{Value: value, IssuedAt: now}
	m.cached = &tok

	if m.shared != nil {
		if err := m.shared.Put(ctx, tok, m.refreshAfter); err != nil {
			m.logger.Warn("failed to publish token to shared cache", map[string]interface{}{"error": err})
		}
	}
	return tok, nil
}

// Invalidate drops the cached token so the next call re-signs. Used when
// the gateway reports the token as expired or invalid.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}

// Signings reports how many tokens this manager has signed.
func (m *TokenManager) Signings() int64 {
	return m.signings.Load()
}

func (m *TokenManager) fresh(tok *SignedToken, now time.Time) bool {
	return tok != nil && tok.Value != "" && now.Sub(tok.IssuedAt) < m.refreshAfter
}

// RedisTokenCache shares provider tokens between notifier processes.
type RedisTokenCache struct {
	redis *database.RedisClient
	key   string
}

func NewRedisTokenCache(redis *database.RedisClient, keyID string) *RedisTokenCache {
	return &RedisTokenCache{redis: redis, key: "apns:token:" + keyID}
}

func (c *RedisTokenCache) Get(ctx context.Context) (SignedToken, bool, error) {
	raw, err := c.redis.Get(ctx, c.key)
	if errors.Is(err, database.ErrCacheMiss) {
		return SignedToken{}, false, nil
	}
	if err != nil {
		return SignedToken{}, false, err
	}

	var tok SignedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return SignedToken{}, false, err
	}
	return tok, true, nil
}

func (c *RedisTokenCache) Put(ctx context.Context, token SignedToken, ttl time.Duration) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key, data, ttl)
}
