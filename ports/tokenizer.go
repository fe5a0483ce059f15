package ports

import "time"

// Tokenizer issues and verifies approver API bearer tokens.
type Tokenizer interface {
	IssueAccessToken(userID string, ttl time.Duration) (string, error)
	// ParseAccessToken returns the user id the token was issued for.
	ParseAccessToken(token string) (string, error)
}
