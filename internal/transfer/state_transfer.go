package transfer

import "github.com/golang-jwt/jwt/v5"

// StateClaims is the signed OAuth state carried through a connect redirect.
// It pins the callback to the tenant and platform that initiated it.
type StateClaims struct {
	TenantID int64  `json:"tenant_id"`
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}
