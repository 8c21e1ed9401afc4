package ticket

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/civil"
	"github.com/sungwoon-dev/mealpass/internal/database/testutil"
	"github.com/sungwoon-dev/mealpass/internal/models"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

func fixedClock(date string) func() time.Time {
	t, err := time.ParseInLocation("2006-01-02", date, civil.KST)
	if err != nil {
		panic(err)
	}
	noon := t.Add(12 * time.Hour)
	return func() time.Time { return noon }
}

func createHolder(t *testing.T, db *gorm.DB, mutate func(*models.User)) *models.User {
	t.Helper()

	user := &models.User{
		Email:          "student@school.kr",
		PasswordHash:   "x",
		Name:           "Kim Jiho",
		Grade:          2,
		ClassNum:       3,
		Role:           models.RoleStudent,
		DinnerApplied:  true,
		DinnerApproved: true,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestIssuerRequiresDatabase(t *testing.T) {
	_, err := NewIssuer(nil)
	require.Error(t, err)
}

func TestIssueHappyPath(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := createHolder(t, db, nil)

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	ticket, err := issuer.Issue(context.Background(), user.ID, "session-1")
	require.NoError(t, err)
	require.Equal(t, "2025-04-18", ticket.Payload.Date)
	require.Equal(t, user.Email, ticket.Payload.Email)
	require.Equal(t, "2-3", ticket.Payload.ClassInfo)
	require.NotEmpty(t, ticket.Payload.Nonce)
	require.NotEmpty(t, ticket.PNG)

	// Issuance writes nothing to the store.
	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.False(t, reloaded.DinnerUsed)
	require.Nil(t, reloaded.LastUsedDate)
}

func TestIssueUnknownUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), "00000000-0000-0000-0000-000000000000", "s")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestIssuePreconditionOrder(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	// Both gates closed: the not-applied reason must win.
	user := createHolder(t, db, func(u *models.User) {
		u.DinnerApplied = false
		u.DinnerApproved = false
	})

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), user.ID, "s")
	require.ErrorIs(t, err, appErrors.ErrTicketNotApplied)

	require.NoError(t, db.Model(user).Update("dinner_applied", true).Error)
	_, err = issuer.Issue(context.Background(), user.ID, "s")
	require.ErrorIs(t, err, appErrors.ErrTicketNotApproved)
}

func TestIssueAlreadyUsedToday(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	today := "2025-04-18"
	user := createHolder(t, db, func(u *models.User) {
		u.DinnerUsed = true
		u.LastUsedDate = &today
	})

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock(today)))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), user.ID, "s")
	require.ErrorIs(t, err, appErrors.ErrTicketAlreadyUsed)
}

func TestIssueResetsStaleUsage(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	yesterday := "2025-04-17"
	user := createHolder(t, db, func(u *models.User) {
		u.DinnerUsed = true
		u.LastUsedDate = &yesterday
	})

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	ticket, err := issuer.Issue(context.Background(), user.ID, "s")
	require.NoError(t, err)
	require.Equal(t, "2025-04-18", ticket.Payload.Date)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.False(t, reloaded.DinnerUsed)
	require.Nil(t, reloaded.LastUsedDate)
}

func TestIssueSessionIdempotenceGuard(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := createHolder(t, db, nil)

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), user.ID, "session-1")
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), user.ID, "session-1")
	require.ErrorIs(t, err, appErrors.ErrTicketAlreadyGenerated)

	// A different session may generate.
	_, err = issuer.Issue(context.Background(), user.ID, "session-2")
	require.NoError(t, err)

	// Resetting the session lifts the guard.
	issuer.ResetSession("session-1")
	_, err = issuer.Issue(context.Background(), user.ID, "session-1")
	require.NoError(t, err)
}

func TestIssueFailedRenderDoesNotConsumeSession(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	// A name far beyond QR capacity makes the render step fail after all the
	// eligibility gates have passed.
	user := createHolder(t, db, func(u *models.User) {
		u.Name = strings.Repeat("김", 4000)
	})

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock("2025-04-18")))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = issuer.Issue(ctx, user.ID, "session-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, appErrors.ErrTicketAlreadyGenerated)

	// A failed render must not arm the guard: once the record is fixed the
	// same session gets its ticket without logging out first.
	require.NoError(t, db.Model(user).Update("name", "Kim Jiho").Error)
	ticket, err := issuer.Issue(ctx, user.ID, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, ticket.PNG)

	// The guard is armed now.
	_, err = issuer.Issue(ctx, user.ID, "session-1")
	require.ErrorIs(t, err, appErrors.ErrTicketAlreadyGenerated)
}

func TestIssueSessionGuardExpiresWithDay(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := createHolder(t, db, nil)

	clock := fixedClock("2025-04-18")
	issuer, err := NewIssuer(db, WithIssuerClock(func() time.Time { return clock() }))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = issuer.Issue(ctx, user.ID, "session-1")
	require.NoError(t, err)
	_, err = issuer.Issue(ctx, user.ID, "session-2")
	require.NoError(t, err)

	clock = fixedClock("2025-04-19")

	// Yesterday's entry does not block today's ticket, and entries for other
	// sessions from past days are dropped rather than kept until logout.
	_, err = issuer.Issue(ctx, user.ID, "session-1")
	require.NoError(t, err)

	issuer.mu.Lock()
	defer issuer.mu.Unlock()
	require.Equal(t, map[string]string{"session-1": "2025-04-19"}, issuer.issued)
}

func TestIssuerStatus(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	today := "2025-04-18"
	user := createHolder(t, db, func(u *models.User) {
		u.DinnerUsed = true
		u.LastUsedDate = &today
	})

	issuer, err := NewIssuer(db, WithIssuerClock(fixedClock(today)))
	require.NoError(t, err)

	status, err := issuer.Status(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, status.Applied)
	require.True(t, status.Approved)
	require.True(t, status.UsedToday)
	require.Equal(t, today, status.Date)
}

func TestStaleResetIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	yesterday := "2025-04-17"
	user := createHolder(t, db, func(u *models.User) {
		u.DinnerUsed = true
		u.LastUsedDate = &yesterday
	})

	ctx := context.Background()
	require.NoError(t, resetStaleUsage(ctx, db, user, "2025-04-18"))

	var first models.User
	require.NoError(t, db.Take(&first, "id = ?", user.ID).Error)

	require.NoError(t, resetStaleUsage(ctx, db, user, "2025-04-18"))

	var second models.User
	require.NoError(t, db.Take(&second, "id = ?", user.ID).Error)

	require.Equal(t, first.DinnerUsed, second.DinnerUsed)
	require.Equal(t, first.LastUsedDate, second.LastUsedDate)
	require.False(t, second.DinnerUsed)
	require.Nil(t, second.LastUsedDate)
}
