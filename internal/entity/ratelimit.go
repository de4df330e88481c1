package entity

import "time"

// RateLimitKey is a lock row. Locking it FOR UPDATE serialises every
// check-and-reserve on the same key (an IP, or a user on a given day).
type RateLimitKey struct {
	Key       string    `gorm:"column:lock_key;size:128;primaryKey"`
	UpdatedAt time.Time `gorm:"not null"`
}
