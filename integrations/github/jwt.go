package github

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxAppTokenTTL is the longest validity GitHub accepts for an App JWT.
const maxAppTokenTTL = 10 * time.Minute

// Mint returns a signed RS256 JWT identifying the App. The ttl is clamped to
// GitHub's ten minute ceiling; IssuedAt is backdated slightly to tolerate
// clock skew between this host and GitHub.
func (m *AppTokenMinter) Mint(ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > maxAppTokenTTL {
		ttl = maxAppTokenTTL
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}
