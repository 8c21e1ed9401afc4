package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwoon-dev/mealpass/internal/database/testutil"
)

func TestAuditServiceRequiresDB(t *testing.T) {
	_, err := NewAuditService(nil)
	require.Error(t, err)
}

func TestAuditLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	actor := "admin-1"
	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:   &actor,
		Action:   "dinner.approve",
		Resource: "student-1",
		Result:   "success",
		Metadata: map[string]any{"dinner_approved": true},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Action: "scan.verify",
		Result: "ticket.wrong_date",
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{
		Filters: AuditFilters{Action: "scan.verify"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "ticket.wrong_date", logs[0].Result)
}

func TestAuditLogValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, svc.Log(ctx, AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(ctx, AuditEntry{Action: "scan.verify"}))
}

func TestAuditDeleteOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: "scan.verify", Result: "redeemed"}))

	deleted, err := svc.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, total, err := svc.List(ctx, AuditListOptions{})
	require.NoError(t, err)
	require.Zero(t, total)
}
