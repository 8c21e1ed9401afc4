package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/crypto"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/metrics"
)

const minPasswordLength = 8

// RegisterInput holds the parameters for creating an account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Grade    int
	ClassNum int
	Role     models.Role
}

// UserService manages accounts: registration, authentication, passwords.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithUserClock injects a clock, used by tests.
func WithUserClock(now func() time.Time) UserServiceOption {
	return func(s *UserService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, opts ...UserServiceOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}

	svc := &UserService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an account. The role defaults to student when unset.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, appErrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, appErrors.NewBadRequest("name is required")
	}
	if len(input.Password) < minPasswordLength {
		return nil, appErrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	role := input.Role
	if role == "" {
		role = models.RoleStudent
	}
	if !role.Valid() {
		return nil, appErrors.NewBadRequest(fmt.Sprintf("unknown role %q", input.Role))
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to check existing account")
	}
	if existing > 0 {
		return nil, appErrors.New("USER_EXISTS", "An account with this email already exists", 409)
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(input.Name),
		Grade:        input.Grade,
		ClassNum:     input.ClassNum,
		Role:         role,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to create account")
	}
	return user, nil
}

// Authenticate verifies credentials and returns the account.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, appErrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load account")
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, appErrors.ErrInvalidCredentials
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to record login")
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &user, nil
}

// ChangePassword rotates the account password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	ctx = ensureContext(ctx)

	if len(next) < minPasswordLength {
		return appErrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if !crypto.VerifyPassword(user.PasswordHash, current) {
		return appErrors.ErrInvalidCredentials
	}

	hash, err := crypto.HashPassword(next)
	if err != nil {
		return appErrors.Wrap(err, "failed to hash password")
	}

	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", hash).Error
}

// Get loads an account by ID.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrNotFound
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load account")
	}
	return &user, nil
}

// GetByEmail loads an account by its login identifier.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrNotFound
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load account")
	}
	return &user, nil
}
