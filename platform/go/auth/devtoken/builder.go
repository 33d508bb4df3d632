package devtoken

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Params captures the claims of a service token for the internal API.
// No environment variables are read so the builder stays deterministic for tooling.
type Params struct {
	Secret    []byte        // INTERNAL_API_SECRET (required)
	Subject   string        // calling service name (required)
	ActorID   int64         // Discord user the caller acts for; 0 omits the claim
	Staff     bool          // grants staff-only routes
	ExpiresIn time.Duration // relative expiry; default 1h if zero
}

// Build returns an HS256-signed JWT accepted by auth.HMACVerifier.
func Build(p Params, now time.Time) (string, error) {
	if len(p.Secret) == 0 {
		return "", errors.New("secret is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return "", errors.New("subject is required")
	}
	if p.ActorID < 0 {
		return "", errors.New("actor id must not be negative")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	claims := jwt.MapClaims{
		"sub":   p.Subject,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
		"staff": p.Staff,
	}
	if p.ActorID > 0 {
		claims["actor_id"] = strconv.FormatInt(p.ActorID, 10)
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.Secret)
}
