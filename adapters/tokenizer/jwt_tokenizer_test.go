package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/core"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestIssueAndParse(t *testing.T) {
	tk := NewJWTTokenizer(newKey(t))

	token, err := tk.IssueAccessToken("alice", time.Minute)
	require.NoError(t, err)

	user, err := tk.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestIssueRejectsInvalidUser(t *testing.T) {
	_, err := NewJWTTokenizer(newKey(t)).IssueAccessToken("a:b", time.Minute)
	assert.ErrorIs(t, err, core.ErrInvalidUserID)
}

func TestExpiredToken(t *testing.T) {
	tk := &JWTTokenizer{signKey: newKey(t), now: time.Now}
	token, err := tk.IssueAccessToken("alice", time.Minute)
	require.NoError(t, err)

	tk.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tk.ParseAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestForeignKeyRejected(t *testing.T) {
	token, err := NewJWTTokenizer(newKey(t)).IssueAccessToken("alice", time.Minute)
	require.NoError(t, err)

	_, err = NewJWTTokenizer(newKey(t)).ParseAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongAudienceRejected(t *testing.T) {
	key := newKey(t)
	claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "alice",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = NewJWTTokenizer(key).ParseAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.pem")

	created, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	loaded, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, created.Equal(loaded))

	ephemeral, err := LoadOrCreateKey("")
	require.NoError(t, err)
	assert.False(t, created.Equal(ephemeral))
}
