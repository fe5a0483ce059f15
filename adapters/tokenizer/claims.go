package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the claims of an approver access token. The subject is
// the user id the bearer acts for.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}
