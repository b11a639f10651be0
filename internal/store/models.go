package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HistoryEntry is one immutable record of a user reaching a conclusion.
type HistoryEntry struct {
	ID           int64
	UserID       string
	Username     string
	Question     string
	ConclusionID string
	CreatedAt    time.Time
}

// Achievement records an unlocked conclusion achievement. Once written the
// row is never removed or reverted.
type Achievement struct {
	UserID       string
	ConclusionID string
	UnlockedAt   time.Time
}
