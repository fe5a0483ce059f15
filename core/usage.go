package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageCounter is the running total of approved transaction volume for one
// user on one UTC day.
type UsageCounter struct {
	UserID     string          `json:"user_id"`
	DateBucket string          `json:"date_bucket"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// DateBucket returns the UTC day bucket t falls into.
func DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
