package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/database/testutil"
	"github.com/sungwoon-dev/mealpass/internal/models"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

func registerStudent(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "correct-horse",
		Name:     "Kim Jiho",
		Grade:    2,
		ClassNum: 3,
	})
	require.NoError(t, err)
	return user
}

func TestUserServiceRequiresDB(t *testing.T) {
	_, err := NewUserService(nil)
	require.Error(t, err)
}

func TestRegisterDefaultsAndNormalises(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{
		Email:    "  Student@School.KR ",
		Password: "correct-horse",
		Name:     "Kim Jiho",
	})
	require.NoError(t, err)
	require.Equal(t, "student@school.kr", user.Email)
	require.Equal(t, models.RoleStudent, user.Role)
	require.NotEqual(t, "correct-horse", user.PasswordHash)
	require.False(t, user.DinnerApplied)
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = svc.Register(ctx, RegisterInput{Password: "correct-horse", Name: "X"})
	require.Error(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.c", Password: "short", Name: "X"})
	require.Error(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.c", Password: "correct-horse", Name: "X", Role: "superuser"})
	require.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	registerStudent(t, db, "student@school.kr")

	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{
		Email:    "STUDENT@school.kr",
		Password: "correct-horse",
		Name:     "Other",
	})
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	registerStudent(t, db, "student@school.kr")

	svc, err := NewUserService(db)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Authenticate(ctx, "student@school.kr", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)

	_, err = svc.Authenticate(ctx, "student@school.kr", "wrong")
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ghost@school.kr", "correct-horse")
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := registerStudent(t, db, "student@school.kr")

	svc, err := NewUserService(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, svc.ChangePassword(ctx, user.ID, "wrong-current", "new-password-1"))
	require.Error(t, svc.ChangePassword(ctx, user.ID, "correct-horse", "short"))

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "correct-horse", "new-password-1"))

	_, err = svc.Authenticate(ctx, "student@school.kr", "new-password-1")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "student@school.kr", "correct-horse")
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestGetByEmailNotFound(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.GetByEmail(context.Background(), "ghost@school.kr")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
