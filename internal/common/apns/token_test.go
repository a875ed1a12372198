package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(block)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingSigner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSigner) Sign(issuedAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	time.Sleep(5 * time.Millisecond)
	return "token-" + issuedAt.Format(time.RFC3339), nil
}

func TestNormalizePrivateKey(t *testing.T) {
	_, pemKey := generateKey(t)

	t.Run("escaped newlines", func(t *testing.T) {
		escaped := strings.ReplaceAll(pemKey, "\n", `\n`)
		assert.Equal(t, strings.TrimSpace(pemKey), NormalizePrivateKey(escaped))
	})

	t.Run("bare base64 body gets armor", func(t *testing.T) {
		block, _ := pem.Decode([]byte(pemKey))
		bare := base64.StdEncoding.EncodeToString(block.Bytes)

		normalized := NormalizePrivateKey("  " + bare + "\n")
		assert.True(t, strings.HasPrefix(normalized, pemHeader+"\n"))
		assert.True(t, strings.HasSuffix(normalized, "\n"+pemFooter))

		_, err := ParsePrivateKey(bare)
		assert.NoError(t, err)
	})
}

func TestParsePrivateKey_Malformed(t *testing.T) {
	_, err := ParsePrivateKey("not-a-key")
	assert.Error(t, err)

	_, err = ParsePrivateKey("   ")
	assert.Error(t, err)
}

func TestES256Signer_Claims(t *testing.T) {
	key, pemKey := generateKey(t)
	signer := NewES256Signer(Credentials{
		KeyID:      "ABC123DEFG",
		TeamID:     "TEAM456789",
		PrivateKey: strings.ReplaceAll(pemKey, "\n", `\n`),
	})

	issuedAt := time.Unix(1700000000, 0)
	signed, err := signer.Sign(issuedAt)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithoutClaimsValidation())
	require.NoError(t, err)

	assert.Equal(t, "ES256", parsed.Header["alg"])
	assert.Equal(t, "ABC123DEFG", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "TEAM456789", claims["iss"])
	assert.Equal(t, float64(1700000000), claims["iat"])
}

func TestTokenManager_ReusesWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	signer := &countingSigner{}
	m := NewTokenManager(signer, 50*time.Minute, WithClock(clock.Now))

	first, err := m.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(49 * time.Minute)
	second, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, int64(1), m.Signings())
}

func TestTokenManager_RefreshesAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	signer := &countingSigner{}
	m := NewTokenManager(signer, 50*time.Minute, WithClock(clock.Now))

	first, err := m.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(51 * time.Minute)
	second, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, clock.Now(), second.IssuedAt)
	assert.Equal(t, 2, signer.calls)
}

func TestTokenManager_Invalidate(t *testing.T) {
	signer := &countingSigner{}
	m := NewTokenManager(signer, time.Hour)

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, signer.calls)
}

func TestTokenManager_SigningFailureIsFatal(t *testing.T) {
	m := NewTokenManager(NewES256Signer(Credentials{KeyID: "k", TeamID: "t", PrivateKey: "garbage"}), 0)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTokenSigningFailed, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsFatal(err))
}

func TestTokenManager_ConcurrentCallersShareOneSigning(t *testing.T) {
	signer := &countingSigner{}
	m := NewTokenManager(signer, time.Hour)

	const callers = 20
	values := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			values[i] = tok.Value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, signer.calls)
	for _, v := range values {
		assert.Equal(t, values[0], v)
	}
}

func newTestRedisCache(t *testing.T) (*RedisTokenCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisTokenCache(database.NewRedisFromClient(rdb, "test:"), "KEY1"), mr
}

func TestTokenManager_SharedCache(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	firstSigner := &countingSigner{}
	first := NewTokenManager(firstSigner, 50*time.Minute, WithClock(clock.Now), WithSharedCache(cache))
	tok, err := first.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:apns:token:KEY1"))

	clock.Advance(10 * time.Minute)
	secondSigner := &countingSigner{}
	second := NewTokenManager(secondSigner, 50*time.Minute, WithClock(clock.Now), WithSharedCache(cache))
	shared, err := second.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok.Value, shared.Value)
	assert.True(t, tok.IssuedAt.Equal(shared.IssuedAt))
	assert.Equal(t, 0, secondSigner.calls)
}

func TestTokenManager_SharedCacheStaleEntryIsIgnored(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	require.NoError(t, cache.Put(context.Background(), SignedToken{
		Value:    "old",
		IssuedAt: clock.Now().Add(-55 * time.Minute),
	}, time.Hour))

	signer := &countingSigner{}
	m := NewTokenManager(signer, 50*time.Minute, WithClock(clock.Now), WithSharedCache(cache))
	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, "old", tok.Value)
	assert.Equal(t, 1, signer.calls)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context) (SignedToken, bool, error) {
	return SignedToken{}, false, errors.New("connection refused")
}

func (brokenCache) Put(context.Context, SignedToken, time.Duration) error {
	return errors.New("connection refused")
}

func TestTokenManager_SharedCacheOutageFallsBackToSigning(t *testing.T) {
	signer := &countingSigner{}
	m := NewTokenManager(signer, time.Hour, WithSharedCache(brokenCache{}))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
	assert.Equal(t, 1, signer.calls)
}
