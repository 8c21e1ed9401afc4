package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/sungwoon-dev/mealpass/internal/auth"
	"github.com/sungwoon-dev/mealpass/internal/civil"
	"github.com/sungwoon-dev/mealpass/internal/database/testutil"
	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/internal/services"
)

func seedUser(t *testing.T, db *gorm.DB, email string, used bool, usedDate *string) *models.User {
	t.Helper()

	user := &models.User{
		Email:        email,
		PasswordHash: "x",
		Name:         "Test Student",
		Grade:        1,
		ClassNum:     1,
		Role:         models.RoleStudent,
		DinnerUsed:   used,
		LastUsedDate: usedDate,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestSweepStaleFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, civil.KST)
	today := civil.Date(now)
	yesterday := "2026-03-09"

	stale := seedUser(t, db, "stale@school.kr", true, &yesterday)
	noDate := seedUser(t, db, "nodate@school.kr", true, nil)
	fresh := seedUser(t, db, "fresh@school.kr", true, &today)
	unused := seedUser(t, db, "unused@school.kr", false, nil)

	reset, err := SweepStaleFlags(context.Background(), db, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, reset)

	for _, tc := range []struct {
		id       string
		wantUsed bool
	}{
		{stale.ID, false},
		{noDate.ID, false},
		{fresh.ID, true},
		{unused.ID, false},
	} {
		var got models.User
		require.NoError(t, db.Take(&got, "id = ?", tc.id).Error)
		require.Equal(t, tc.wantUsed, got.DinnerUsed, "user %s", got.Email)
		if !tc.wantUsed {
			require.Nil(t, got.LastUsedDate)
		}
	}

	// Second run finds nothing left to reset.
	reset, err = SweepStaleFlags(context.Background(), db, now)
	require.NoError(t, err)
	require.Zero(t, reset)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, civil.KST)
	yesterday := "2026-03-09"
	seedUser(t, db, "stale@school.kr", true, &yesterday)
	owner := seedUser(t, db, "owner@school.kr", false, nil)

	sessions, err := iauth.NewSessionService(db, nil, iauth.SessionConfig{Clock: func() time.Time { return now }})
	require.NoError(t, err)

	expired, err := sessions.Create(ctx, owner.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", expired.ID).
		Update("expires_at", now.Add(-time.Hour)).Error)

	live, err := sessions.Create(ctx, owner.ID, iauth.SessionMetadata{})
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, audit.Log(ctx, services.AuditEntry{Action: "dinner.apply", Result: "success"}))
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("action = ?", "dinner.apply").
		Update("created_at", now.AddDate(0, 0, -120)).Error)
	require.NoError(t, audit.Log(ctx, services.AuditEntry{Action: "scan.verify", Result: "redeemed"}))

	cleaner := NewCleaner(db, sessions, audit,
		WithNow(func() time.Time { return now }),
		WithAuditRetentionDays(90),
	)
	require.NoError(t, cleaner.RunOnce(ctx))

	var staleCount int64
	require.NoError(t, db.Model(&models.User{}).Where("dinner_used = ?", true).Count(&staleCount).Error)
	require.Zero(t, staleCount)

	var sessionIDs []string
	require.NoError(t, db.Model(&models.Session{}).Pluck("id", &sessionIDs).Error)
	require.Equal(t, []string{live.ID}, sessionIDs)

	var actions []string
	require.NoError(t, db.Model(&models.AuditLog{}).Pluck("action", &actions).Error)
	require.Equal(t, []string{"scan.verify"}, actions)
}

func TestCleanerStartAndStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	sessions, err := iauth.NewSessionService(db, nil, iauth.SessionConfig{})
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(db, sessions, audit)
	require.NoError(t, cleaner.Start())

	stopped := cleaner.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}

func TestCleanerRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	cleaner := NewCleaner(db, nil, nil, WithSweepSchedule("not-a-schedule"))
	require.Error(t, cleaner.Start())
}
