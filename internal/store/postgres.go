package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID, username, email, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username=$2, email=$3, password_hash=$4, updated_at=NOW()
		WHERE id=$1
	`, userID, username, email, passwordHash)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementConclusion bumps the landing counter for one user/conclusion pair
// and returns the new value. The upsert is a single statement, so concurrent
// calls for the same pair serialize on the row and never lose an update.
func (s *PostgresStore) IncrementConclusion(ctx context.Context, userID, conclusionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conclusion_progress (user_id, conclusion_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, conclusion_id) DO UPDATE SET count = conclusion_progress.count + 1
		RETURNING count
	`, userID, conclusionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment conclusion: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ConclusionCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conclusion_id, count
		FROM conclusion_progress
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conclusion counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var conclusionID string
		var count int
		if err := rows.Scan(&conclusionID, &count); err != nil {
			return nil, fmt.Errorf("scan conclusion count: %w", err)
		}
		counts[conclusionID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conclusion counts: %w", err)
	}
	return counts, nil
}

// UnlockAchievement records the achievement if it is not already unlocked and
// reports whether this call made the transition.
func (s *PostgresStore) UnlockAchievement(ctx context.Context, userID, conclusionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO achievements (user_id, conclusion_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, conclusion_id) DO NOTHING
	`, userID, conclusionID)
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock achievement rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Achievements(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conclusion_id
		FROM achievements
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	unlocked := make(map[string]bool)
	for rows.Next() {
		var conclusionID string
		if err := rows.Scan(&conclusionID); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		unlocked[conclusionID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return unlocked, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry HistoryEntry) (HistoryEntry, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO history (user_id, username, question, conclusion_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, entry.UserID, entry.Username, entry.Question, entry.ConclusionID).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("append history: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListHistoryByUser(ctx context.Context, userID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, question, conclusion_id, created_at
		FROM history
		WHERE user_id=$1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryEntry, 0)
	for rows.Next() {
		var item HistoryEntry
		if err := rows.Scan(&item.ID, &item.UserID, &item.Username, &item.Question, &item.ConclusionID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var state sqlState
	if errors.As(err, &state) {
		return state.SQLState() == "23505"
	}
	return false
}
