// Package auth verifies bearer tokens on the server of record's API.
package auth

// Claims are the token claims the server cares about.
type Claims struct {
	UserID string
}

// TokenVerifier validates a bearer token and returns its claims. The
// middleware stays agnostic to how tokens are signed.
type TokenVerifier interface {
	VerifyToken(tokenString string) (*Claims, error)
}
