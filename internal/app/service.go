package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"jumpto/api/internal/auth"
	"jumpto/api/internal/authpw"
	"jumpto/api/internal/config"
	"jumpto/api/internal/progress"
	"jumpto/api/internal/registry"
	"jumpto/api/internal/search"
	"jumpto/api/internal/store"
	"jumpto/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	UpdateUser(context.Context, string, string, string, string) error
	DeleteUser(context.Context, string) error
	IncrementConclusion(context.Context, string, string) (int, error)
	UnlockAchievement(context.Context, string, string) (bool, error)
	Achievements(context.Context, string) (map[string]bool, error)
	ConclusionCounts(context.Context, string) (map[string]int, error)
	AppendHistory(context.Context, store.HistoryEntry) (store.HistoryEntry, error)
	ListHistoryByUser(context.Context, string) ([]store.HistoryEntry, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Postgres by default, Redis when
// configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	tracker  *progress.Tracker
	search   *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, reg *registry.Registry, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
		tracker:  progress.New(dataStore, reg),
		search:   searchService,
	}
}

// NewWithSessionStore builds a Service that keeps refresh tokens in a
// dedicated session store instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, reg *registry.Registry, searchService *search.Service) *Service {
	service := New(cfg, dataStore, reg, searchService)
	service.sessions = sessions
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, username, email, password string) (Session, error) {
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrUsernameTaken) {
			return Session{}, conflictError("Username already registered")
		}
		return Session{}, validationError(err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session store may only carry the user id; load the full row.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// RecordConclusion records one landing for the user and feeds the new history
// entry to the search index.
func (s *Service) RecordConclusion(ctx context.Context, userID, conclusionID, question string) (progress.Update, error) {
	update, err := s.tracker.RecordConclusionReached(ctx, userID, conclusionID, question)
	if err != nil {
		if errors.Is(err, progress.ErrMissingConclusion) {
			return progress.Update{}, validationError("conclusionId is required", nil)
		}
		return progress.Update{}, err
	}

	if s.search != nil && update.HistoryRecorded {
		s.search.IndexHistory(search.HistoryRecord{
			ID:           strconv.FormatInt(update.HistoryEntry.ID, 10),
			UserID:       update.HistoryEntry.UserID,
			Username:     update.HistoryEntry.Username,
			Question:     update.HistoryEntry.Question,
			ConclusionID: update.HistoryEntry.ConclusionID,
		})
	}
	return update, nil
}

func (s *Service) Achievements(ctx context.Context, userID string) (map[string]bool, error) {
	return s.tracker.ProjectAchievements(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID string) ([]store.HistoryEntry, error) {
	return s.tracker.ListHistory(ctx, userID)
}

// UserProfile returns the user row together with its conclusion counters and
// achievement flags.
func (s *Service) UserProfile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.ConclusionCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	achievements, err := s.store.Achievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"conclusions":  counts,
		"achievements": achievements,
		"createdAt":    user.CreatedAt,
	}, nil
}

// UpdateUser changes profile fields and optionally the password, then issues
// a fresh session for the updated identity.
func (s *Service) UpdateUser(ctx context.Context, userID, username, email, password string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	if username == "" {
		username = user.Username
	}
	if email == "" {
		email = user.Email
	}
	if username != user.Username {
		if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
			return Session{}, conflictError("Username already registered")
		}
	}

	passwordHash := user.PasswordHash
	if password != "" {
		if len(password) < 8 {
			return Session{}, validationError("password must be at least 8 characters", nil)
		}
		passwordHash, err = authpw.HashPassword(password)
		if err != nil {
			return Session{}, err
		}
	}

	if err := s.store.UpdateUser(ctx, userID, username, email, passwordHash); err != nil {
		if store.IsUniqueViolation(err) {
			return Session{}, conflictError("Username already registered")
		}
		return Session{}, err
	}

	user.Username = username
	user.Email = email
	return s.issueSession(ctx, user)
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveUser(userID)
	}
	return nil
}

// SearchHistory runs a full-text query over history entries.
func (s *Service) SearchHistory(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
