// Package progress tracks per-user conclusion landings, unlocks achievements
// when configured thresholds are met, and records every landing in the
// immutable history log.
package progress

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"jumpto/api/internal/registry"
	"jumpto/api/internal/store"
)

// ErrMissingConclusion is returned when a landing arrives without a
// conclusion id. Nothing is written in that case.
var ErrMissingConclusion = errors.New("conclusion id is required")

// Store is the persistence surface the tracker needs.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	IncrementConclusion(ctx context.Context, userID, conclusionID string) (int, error)
	UnlockAchievement(ctx context.Context, userID, conclusionID string) (bool, error)
	Achievements(ctx context.Context, userID string) (map[string]bool, error)
	ConclusionCounts(ctx context.Context, userID string) (map[string]int, error)
	AppendHistory(ctx context.Context, entry store.HistoryEntry) (store.HistoryEntry, error)
	ListHistoryByUser(ctx context.Context, userID string) ([]store.HistoryEntry, error)
}

// Update is the outcome of one recorded landing.
type Update struct {
	ConclusionID    string
	Count           int
	Required        int
	Unlocked        bool // achievement transitioned on this call
	Achievements    map[string]bool
	HistoryEntry    store.HistoryEntry
	HistoryRecorded bool
}

type Tracker struct {
	store    Store
	registry *registry.Registry
	now      func() time.Time
}

func New(dataStore Store, reg *registry.Registry) *Tracker {
	return &Tracker{
		store:    dataStore,
		registry: reg,
		now:      time.Now,
	}
}

// RecordConclusionReached handles one landing on a conclusion: it bumps the
// counter, unlocks the achievement once the threshold is met, and appends a
// history entry. The user must exist before anything is written. A history
// write failure does not fail the call because the counter update is already
// durable at that point; the Update reports it instead.
func (t *Tracker) RecordConclusionReached(ctx context.Context, userID, conclusionID, question string) (Update, error) {
	conclusionID = strings.TrimSpace(conclusionID)
	if conclusionID == "" {
		return Update{}, ErrMissingConclusion
	}

	user, err := t.store.GetUserByID(ctx, userID)
	if err != nil {
		return Update{}, err
	}

	count, err := t.store.IncrementConclusion(ctx, userID, conclusionID)
	if err != nil {
		return Update{}, err
	}

	required := t.registry.Threshold(conclusionID)
	unlocked := false
	if count >= required {
		unlocked, err = t.store.UnlockAchievement(ctx, userID, conclusionID)
		if err != nil {
			return Update{}, err
		}
	}

	update := Update{
		ConclusionID: conclusionID,
		Count:        count,
		Required:     required,
		Unlocked:     unlocked,
	}

	entry, err := t.store.AppendHistory(ctx, store.HistoryEntry{
		UserID:       userID,
		Username:     user.Username,
		Question:     question,
		ConclusionID: conclusionID,
		CreatedAt:    t.now(),
	})
	if err != nil {
		log.Printf("progress: history append failed for user %s conclusion %s: %v", userID, conclusionID, err)
	} else {
		update.HistoryEntry = entry
		update.HistoryRecorded = true
	}

	achievements, err := t.store.Achievements(ctx, userID)
	if err != nil {
		return Update{}, err
	}
	update.Achievements = achievements

	return update, nil
}

// ProjectAchievements returns the unlocked-achievement flags for a user.
// Counts never appear here; callers that need them use ConclusionCounts.
func (t *Tracker) ProjectAchievements(ctx context.Context, userID string) (map[string]bool, error) {
	if _, err := t.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	achievements, err := t.store.Achievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	if achievements == nil {
		achievements = map[string]bool{}
	}
	return achievements, nil
}

// ConclusionCounts returns the per-conclusion landing counters for a user.
func (t *Tracker) ConclusionCounts(ctx context.Context, userID string) (map[string]int, error) {
	if _, err := t.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	counts, err := t.store.ConclusionCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

// ListHistory returns the user's history entries in insertion order.
func (t *Tracker) ListHistory(ctx context.Context, userID string) ([]store.HistoryEntry, error) {
	if _, err := t.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	entries, err := t.store.ListHistoryByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	return entries, nil
}
