package service

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/vultisig/custodian/common"
)

var ErrInvalidAccessToken = errors.New("invalid or expired token")

// Claims identify a UI session that unlocked the vault.
type Claims struct {
	jwt.StandardClaims
}

const (
	defaultSessionTTL = time.Hour
	accessSubject     = "custodian-ui"
)

// AuthService issues the bearer tokens that gate the HTTP API once the vault is unlocked.
// The signing secret never leaves the process; Revoke rotates it, which invalidates every
// outstanding token.
type AuthService struct {
	mu     sync.RWMutex
	secret []byte
	ttl    time.Duration
}

func NewAuthService(secret []byte, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &AuthService{
		secret: secret,
		ttl:    ttl,
	}
}

// NewRandomAuthService signs with a fresh random secret.
func NewRandomAuthService(ttl time.Duration) (*AuthService, error) {
	secret, err := common.RandomBytes(common.KeySize)
	if err != nil {
		return nil, err
	}
	return NewAuthService(secret, ttl), nil
}

func (a *AuthService) GenerateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   accessSubject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	a.mu.RLock()
	defer a.mu.RUnlock()
	return token.SignedString(a.secret)
}

func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAccessToken
		}
		// Revoke zeroes the old secret in place, so verify against a copy.
		a.mu.RLock()
		defer a.mu.RUnlock()
		return append([]byte(nil), a.secret...), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

func (a *AuthService) RefreshToken(oldToken string) (string, error) {
	_, err := a.ValidateToken(oldToken)
	if err != nil {
		return "", err
	}
	return a.GenerateToken()
}

// Revoke rotates the signing secret.
func (a *AuthService) Revoke() error {
	secret, err := common.RandomBytes(common.KeySize)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	common.Zero(a.secret)
	a.secret = secret
	return nil
}
