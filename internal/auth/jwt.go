package auth

import (
	"crypto"
	"errors"
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoUser       = errors.New("token carries no valid userId")
	ErrNoKey        = errors.New("no verification key configured")
)

// Claims 与账号服务签发的令牌一致
type Claims struct {
	UserID string   `json:"userId"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

type Identity struct {
	UserID primitive.ObjectID
	Scopes []string
}

type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWT 使用 PEM 公钥 (RS256/ES256) 或 HS256 密钥校验
type JWT struct {
	publicKey crypto.PublicKey
	secret    []byte
}

// New 公钥和密钥至少提供一个
func New(publicKeyPEM, secret string) (*JWT, error) {
	j := &JWT{}
	if secret != "" {
		j.secret = []byte(secret)
	}
	if publicKeyPEM != "" {
		if key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM)); err == nil {
			j.publicKey = key
		} else if key, ecErr := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM)); ecErr == nil {
			j.publicKey = key
		} else {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
	}
	if j.publicKey == nil && j.secret == nil {
		return nil, ErrNoKey
	}
	return j, nil
}

func (j *JWT) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if j.publicKey == nil {
			return nil, ErrNoKey
		}
		return j.publicKey, nil
	case *jwt.SigningMethodHMAC:
		if j.secret == nil {
			return nil, ErrNoKey
		}
		return j.secret, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

// Verify 校验签名和过期时间, userId 必须是合法的 ObjectID
func (j *JWT) Verify(tok string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, j.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	uid, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return Identity{}, ErrNoUser
	}
	return Identity{UserID: uid, Scopes: claims.Scopes}, nil
}

// Sign 用 HS256 密钥签发令牌
func (j *JWT) Sign(uid primitive.ObjectID, scopes []string, ttl time.Duration) (string, error) {
	if j.secret == nil {
		return "", ErrNoKey
	}
	if uid.IsZero() {
		return "", errors.New("empty uid")
	}
	now := time.Now()
	claims := Claims{
		UserID: uid.Hex(),
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(j.secret)
}
