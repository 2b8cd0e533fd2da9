package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ternarybob/credsync/internal/models"
)

// InspectToken decodes display metadata from a token without verifying it.
// Non-JWT tokens (opaque session ids) yield IsJWT=false and only a preview.
func InspectToken(platform models.Platform, token string, now time.Time) models.TokenInfo {
	info := models.TokenInfo{
		Platform: platform,
		Preview:  models.Obfuscate(token),
	}
	if token == "" {
		return info
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info
	}
	info.IsJWT = true

	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		info.IssuedAt = &t
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
		info.Expired = now.After(t)
	}
	return info
}
