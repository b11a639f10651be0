package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jumpto/api/internal/registry"
	"jumpto/api/internal/store"
)

// memStore is a mutex-guarded in-memory Store for tracker tests.
type memStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	counts       map[string]map[string]int
	achievements map[string]map[string]bool
	history      []store.HistoryEntry
	nextID       int64
	failHistory  bool
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[string]store.User{},
		counts:       map[string]map[string]int{},
		achievements: map[string]map[string]bool{},
	}
}

func (m *memStore) addUser(id, username string) {
	m.users[id] = store.User{ID: id, Username: username}
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) IncrementConclusion(_ context.Context, userID, conclusionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[userID] == nil {
		m.counts[userID] = map[string]int{}
	}
	m.counts[userID][conclusionID]++
	return m.counts[userID][conclusionID], nil
}

func (m *memStore) UnlockAchievement(_ context.Context, userID, conclusionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.achievements[userID] == nil {
		m.achievements[userID] = map[string]bool{}
	}
	if m.achievements[userID][conclusionID] {
		return false, nil
	}
	m.achievements[userID][conclusionID] = true
	return true, nil
}

func (m *memStore) Achievements(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlocked := make(map[string]bool, len(m.achievements[userID]))
	for id, ok := range m.achievements[userID] {
		unlocked[id] = ok
	}
	return unlocked, nil
}

func (m *memStore) ConclusionCounts(_ context.Context, userID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.counts[userID]))
	for id, count := range m.counts[userID] {
		counts[id] = count
	}
	return counts, nil
}

func (m *memStore) AppendHistory(_ context.Context, entry store.HistoryEntry) (store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failHistory {
		return store.HistoryEntry{}, fmt.Errorf("append history: disk full")
	}
	m.nextID++
	entry.ID = m.nextID
	m.history = append(m.history, entry)
	return entry, nil
}

func (m *memStore) ListHistoryByUser(_ context.Context, userID string) ([]store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]store.HistoryEntry, 0)
	for _, entry := range m.history {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func newTestTracker(ms *memStore) *Tracker {
	tracker := New(ms, registry.New())
	tracker.now = func() time.Time { return time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC) }
	return tracker
}

func TestSequentialLandingsCountUp(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		update, err := tracker.RecordConclusionReached(ctx, "u1", "volcano", "what erupts?")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if update.Count != i {
			t.Fatalf("call %d: count = %d, want %d", i, update.Count, i)
		}
	}
}

func TestWaterfallUnlocksAtThresholdExactlyOnce(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)
	ctx := context.Background()

	for call := 1; call <= 2; call++ {
		update, err := tracker.RecordConclusionReached(ctx, "u1", "waterfall", "where does water fall?")
		if err != nil {
			t.Fatalf("call %d: %v", call, err)
		}
		if update.Unlocked {
			t.Fatalf("call %d: unexpected unlock below threshold", call)
		}
		if update.Achievements["waterfall"] {
			t.Fatalf("call %d: achievement set below threshold", call)
		}
	}

	update, err := tracker.RecordConclusionReached(ctx, "u1", "waterfall", "where does water fall?")
	if err != nil {
		t.Fatalf("call 3: %v", err)
	}
	if update.Count != 3 || !update.Unlocked {
		t.Fatalf("call 3: count=%d unlocked=%v, want 3/true", update.Count, update.Unlocked)
	}
	if !update.Achievements["waterfall"] {
		t.Fatal("call 3: achievement not set at threshold")
	}

	update, err = tracker.RecordConclusionReached(ctx, "u1", "waterfall", "where does water fall?")
	if err != nil {
		t.Fatalf("call 4: %v", err)
	}
	if update.Count != 4 {
		t.Fatalf("call 4: count = %d, want 4", update.Count)
	}
	if update.Unlocked {
		t.Fatal("call 4: unlock transition reported twice")
	}
	if !update.Achievements["waterfall"] {
		t.Fatal("call 4: achievement reverted after unlock")
	}
}

func TestUnknownConclusionUnlocksOnFirstLanding(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)

	update, err := tracker.RecordConclusionReached(context.Background(), "u1", "mystery", "what is out there?")
	if err != nil {
		t.Fatalf("RecordConclusionReached() error = %v", err)
	}
	if update.Count != 1 || update.Required != 1 || !update.Unlocked {
		t.Fatalf("unexpected update: count=%d required=%d unlocked=%v", update.Count, update.Required, update.Unlocked)
	}
}

func TestEveryLandingAppendsHistoryInOrder(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)
	ctx := context.Background()

	conclusions := []string{"waterfall", "waterfall", "mystery", "waterfall", "waterfall"}
	for _, id := range conclusions {
		if _, err := tracker.RecordConclusionReached(ctx, "u1", id, "q"); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	entries, err := tracker.ListHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(entries) != len(conclusions) {
		t.Fatalf("history length = %d, want %d", len(entries), len(conclusions))
	}
	for i, entry := range entries {
		if entry.ConclusionID != conclusions[i] {
			t.Fatalf("entry %d: conclusion = %q, want %q", i, entry.ConclusionID, conclusions[i])
		}
		if entry.Username != "skyler" {
			t.Fatalf("entry %d: username = %q, want skyler", i, entry.Username)
		}
	}
}

func TestMissingConclusionIDRejectedBeforeAnyWrite(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)

	_, err := tracker.RecordConclusionReached(context.Background(), "u1", "  ", "q")
	if !errors.Is(err, ErrMissingConclusion) {
		t.Fatalf("error = %v, want ErrMissingConclusion", err)
	}
	if len(ms.counts["u1"]) != 0 || len(ms.history) != 0 {
		t.Fatal("expected no writes for rejected landing")
	}
}

func TestUnknownUserLeavesStoreUntouched(t *testing.T) {
	ms := newMemStore()
	tracker := newTestTracker(ms)

	_, err := tracker.RecordConclusionReached(context.Background(), "ghost", "waterfall", "q")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
	if len(ms.counts) != 0 || len(ms.history) != 0 || len(ms.achievements) != 0 {
		t.Fatal("expected no writes for unknown user")
	}
}

func TestConcurrentLandingsLoseNoUpdates(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)
	ctx := context.Background()

	const calls = 50
	var wg sync.WaitGroup
	unlocks := make(chan bool, calls)
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update, err := tracker.RecordConclusionReached(ctx, "u1", "waterfall", "q")
			if err != nil {
				errs <- err
				return
			}
			unlocks <- update.Unlocked
		}()
	}
	wg.Wait()
	close(unlocks)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}

	counts, err := tracker.ConclusionCounts(ctx, "u1")
	if err != nil {
		t.Fatalf("ConclusionCounts() error = %v", err)
	}
	if counts["waterfall"] != calls {
		t.Fatalf("count = %d, want %d", counts["waterfall"], calls)
	}

	transitions := 0
	for unlocked := range unlocks {
		if unlocked {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("unlock transitions = %d, want exactly 1", transitions)
	}
	if len(ms.history) != calls {
		t.Fatalf("history entries = %d, want %d", len(ms.history), calls)
	}
}

func TestHistoryFailureDoesNotFailTheLanding(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	ms.failHistory = true
	tracker := newTestTracker(ms)

	update, err := tracker.RecordConclusionReached(context.Background(), "u1", "waterfall", "q")
	if err != nil {
		t.Fatalf("RecordConclusionReached() error = %v", err)
	}
	if update.Count != 1 {
		t.Fatalf("count = %d, want 1", update.Count)
	}
	if update.HistoryRecorded {
		t.Fatal("expected HistoryRecorded=false when append fails")
	}
}

func TestProjectAchievementsReturnsFlagsOnly(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)
	ctx := context.Background()

	if _, err := tracker.RecordConclusionReached(ctx, "u1", "mystery", "q"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := tracker.RecordConclusionReached(ctx, "u1", "waterfall", "q"); err != nil {
		t.Fatalf("record: %v", err)
	}

	achievements, err := tracker.ProjectAchievements(ctx, "u1")
	if err != nil {
		t.Fatalf("ProjectAchievements() error = %v", err)
	}
	if !achievements["mystery"] {
		t.Fatal("expected mystery achievement")
	}
	if achievements["waterfall"] {
		t.Fatal("waterfall below threshold should not appear unlocked")
	}
}

func TestProjectAchievementsUnknownUser(t *testing.T) {
	tracker := newTestTracker(newMemStore())
	_, err := tracker.ProjectAchievements(context.Background(), "ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestListHistoryEmptyForNewUser(t *testing.T) {
	ms := newMemStore()
	ms.addUser("u1", "skyler")
	tracker := newTestTracker(ms)

	entries, err := tracker.ListHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty slice, got %v", entries)
	}
}
