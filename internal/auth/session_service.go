package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/cache"
	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/crypto"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

const (
	// DefaultRefreshTokenTTL is the fallback refresh-token lifetime.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenBytes = 32
)

// ErrSessionNotFound indicates the refresh token does not map to an active session.
var ErrSessionNotFound = errors.New("session: not found or expired")

// SessionConfig bundles SessionService construction parameters.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// SessionMetadata carries request context recorded on the session row.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionService persists refresh tokens and resolves them back to sessions.
// A cache entry per token avoids a database hit on the refresh hot path.
type SessionService struct {
	db    *gorm.DB
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionService constructs a SessionService. The cache store is optional.
func NewSessionService(db *gorm.DB, store cache.Store, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session: db is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &SessionService{db: db, store: store, ttl: ttl, now: now}, nil
}

// Create opens a new session for the user and returns it with its refresh token.
func (s *SessionService) Create(ctx context.Context, userID string, meta SessionMetadata) (*models.Session, error) {
	if userID == "" {
		return nil, errors.New("session: user id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := crypto.GenerateToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session: generate refresh token: %w", err)
	}

	now := s.now()
	session := &models.Session{
		UserID:       userID,
		RefreshToken: token,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		ExpiresAt:    now.Add(s.ttl),
		LastUsedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session: persist: %w", err)
	}

	s.cacheSession(ctx, session)
	return session, nil
}

// Resolve maps a refresh token to its active session, updating last-used.
func (s *SessionService) Resolve(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, ErrSessionNotFound
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "refresh_token = ?", refreshToken).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load session")
	}

	if !session.Active(s.now()) {
		return nil, ErrSessionNotFound
	}

	session.LastUsedAt = s.now()
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("last_used_at", session.LastUsedAt).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to touch session")
	}

	s.cacheSession(ctx, &session)
	return &session, nil
}

// Revoke ends the session holding the supplied refresh token. Revoking an
// unknown token is not an error.
func (s *SessionService) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("refresh_token = ? AND revoked_at IS NULL", refreshToken).
		Update("revoked_at", now).Error
	if err != nil {
		return appErrors.Wrap(err, "failed to revoke session")
	}

	if s.store != nil {
		_ = s.store.Delete(ctx, sessionCacheKey(refreshToken))
	}
	return nil
}

// RevokeUser ends every active session for a user, e.g. after a password change.
func (s *SessionService) RevokeUser(ctx context.Context, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now()).Error
}

// DeleteExpired removes sessions past expiry or revoked, returning the count.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", s.now()).
		Delete(&models.Session{})
	return result.RowsAffected, result.Error
}

func (s *SessionService) cacheSession(ctx context.Context, session *models.Session) {
	if s.store == nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	_ = s.store.Set(ctx, sessionCacheKey(session.RefreshToken), []byte(session.ID), ttl)
}

func sessionCacheKey(token string) string {
	return "session:" + token
}
