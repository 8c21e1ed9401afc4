package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"student", "teacher", "admin"} {
		role, err := ParseRole(valid)
		require.NoError(t, err)
		require.True(t, role.Valid())
	}

	_, err := ParseRole("principal")
	require.Error(t, err)
	require.False(t, Role("principal").Valid())
}

func TestRoleCanScan(t *testing.T) {
	require.True(t, RoleTeacher.CanScan())
	require.True(t, RoleAdmin.CanScan())
	require.False(t, RoleStudent.CanScan())
}

func TestUserClassInfo(t *testing.T) {
	u := User{Grade: 3, ClassNum: 7}
	require.Equal(t, "3-7", u.ClassInfo())
}

func TestUserUsageHelpers(t *testing.T) {
	today := "2025-04-18"
	yesterday := "2025-04-17"

	fresh := User{DinnerUsed: true, LastUsedDate: &today}
	require.True(t, fresh.UsedOn(today))
	require.False(t, fresh.StaleUsage(today))

	stale := User{DinnerUsed: true, LastUsedDate: &yesterday}
	require.False(t, stale.UsedOn(today))
	require.True(t, stale.StaleUsage(today))

	never := User{}
	require.False(t, never.UsedOn(today))
	require.False(t, never.StaleUsage(today))

	usedNoDate := User{DinnerUsed: true}
	require.True(t, usedNoDate.StaleUsage(today))
}

func TestSessionActive(t *testing.T) {
	now := time.Date(2025, 4, 18, 12, 0, 0, 0, time.UTC)
	revoked := now.Add(-time.Hour)

	require.True(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Active(now))
	require.False(t, (&Session{ExpiresAt: now.Add(-time.Minute)}).Active(now))
	require.False(t, (&Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}).Active(now))
}
