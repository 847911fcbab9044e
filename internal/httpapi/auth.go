package httpapi

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"mandoob/backend/internal/domain"
)

// TokenManager signs and verifies the bearer tokens the HTTP surface hands
// out after a successful engine login. Credential checking itself lives in
// the engine (plaintext equality against the replicated profile list); the
// token only carries the already-authenticated identity between requests.
type TokenManager struct {
	secret   []byte
	tokenTTL time.Duration
}

type agentClaims struct {
	jwtlib.RegisteredClaims
	Role domain.Role `json:"role"`
}

func NewTokenManager(secret string, tokenTTL time.Duration) *TokenManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &TokenManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Issue returns a signed token for the profile plus its expiry.
func (m *TokenManager) Issue(profile domain.UserProfile) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(m.tokenTTL)
	claims := agentClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   profile.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "mandoob",
		},
		Role: profile.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse returns the profile id and role carried by a valid token.
func (m *TokenManager) Parse(tokenStr string) (string, domain.Role, error) {
	claims := &agentClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", "", errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", errors.New("invalid token subject")
	}
	return sub, claims.Role, nil
}
