package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestVerifyHS256(t *testing.T) {
	j, err := New("", "dev-secret")
	require.NoError(t, err)
	uid := primitive.NewObjectID()

	tok, err := j.Sign(uid, []string{"all"}, time.Hour)
	require.NoError(t, err)

	identity, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uid, identity.UserID)
	assert.Equal(t, []string{"all"}, identity.Scopes)
}

func TestVerifyRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	j, err := New(string(publicPEM), "")
	require.NoError(t, err)

	uid := primitive.NewObjectID()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		UserID:           uid.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(key)
	require.NoError(t, err)

	identity, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uid, identity.UserID)

	// 只配置了公钥时 HS256 令牌无法验证
	_, err = j.Sign(uid, nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestVerifyRejects(t *testing.T) {
	j, err := New("", "dev-secret")
	require.NoError(t, err)
	other, err := New("", "other-secret")
	require.NoError(t, err)
	uid := primitive.NewObjectID()

	expired, err := j.Sign(uid, nil, -time.Minute)
	require.NoError(t, err)
	forged, err := other.Sign(uid, nil, time.Hour)
	require.NoError(t, err)
	badUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "not-an-object-id"}).SignedString([]byte("dev-secret"))
	require.NoError(t, err)

	tests := []struct {
		name string
		tok  string
		want error
	}{
		{"malformed", "not.a.token", ErrInvalidToken},
		{"empty", "", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong secret", forged, ErrInvalidToken},
		{"bad user id", badUser, ErrNoUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(tt.tok)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("", "")
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = New("-----BEGIN PUBLIC KEY-----\nbroken\n-----END PUBLIC KEY-----", "")
	assert.Error(t, err)
}
