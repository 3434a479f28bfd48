package auth

import (
	"time"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of a JWT bearer token without verifying
// its signature; the desk never holds the signing key. ok is false for
// opaque tokens or tokens without exp.
func TokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// CheckToken returns an AuthError when token is empty or already expired
// at now. Opaque tokens are accepted as-is.
func CheckToken(token string, now time.Time) error {
	if token == "" {
		return &domain.AuthError{Op: "check token", Err: domain.ErrTokenMissing}
	}
	if exp, ok := TokenExpiry(token); ok && !now.Before(exp) {
		return &domain.AuthError{Op: "check token", Err: domain.ErrTokenExpired}
	}
	return nil
}
