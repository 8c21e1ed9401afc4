package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/models"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

// EligibilityNotifier receives eligibility changes for live distribution.
// The realtime hub implements it; a nil notifier disables broadcasting.
type EligibilityNotifier interface {
	NotifyEligibility(user *models.User)
}

// StudentFilters narrows admin listings.
type StudentFilters struct {
	Search      string
	AppliedOnly bool
}

// StudentListOptions controls pagination and filtering of student listings.
type StudentListOptions struct {
	Page     int
	PageSize int
	Filters  StudentFilters
}

// ApprovalService manages the dinner application/approval flags.
type ApprovalService struct {
	db       *gorm.DB
	audit    *AuditService
	notifier EligibilityNotifier
}

// NewApprovalService constructs an ApprovalService. Audit and notifier are
// optional collaborators.
func NewApprovalService(db *gorm.DB, audit *AuditService, notifier EligibilityNotifier) (*ApprovalService, error) {
	if db == nil {
		return nil, errors.New("approval service: db is required")
	}
	return &ApprovalService{db: db, audit: audit, notifier: notifier}, nil
}

// Apply records a student's dinner application for the current period.
func (s *ApprovalService) Apply(ctx context.Context, userID string, applied bool) (*models.User, error) {
	return s.setFlag(ctx, userID, userID, "dinner_applied", applied, "dinner.apply")
}

// SetApproval toggles the staff approval gate for one student.
func (s *ApprovalService) SetApproval(ctx context.Context, actorID, userID string, approved bool) (*models.User, error) {
	return s.setFlag(ctx, actorID, userID, "dinner_approved", approved, "dinner.approve")
}

func (s *ApprovalService) setFlag(ctx context.Context, actorID, userID, column string, value bool, action string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrNotFound
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load student")
	}

	updates := map[string]any{column: value}
	if column == "dinner_applied" && !value {
		// Withdrawing an application clears the approval too.
		updates["dinner_approved"] = false
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to update eligibility")
	}

	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to reload student")
	}

	s.logAudit(ctx, actorID, action, user.ID, map[string]any{
		column: value,
	})
	s.notify(&user)

	return &user, nil
}

// ApproveAllApplied grants approval to every student who applied, returning
// the number of records changed.
func (s *ApprovalService) ApproveAllApplied(ctx context.Context, actorID string) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND dinner_applied = ? AND dinner_approved = ?", models.RoleStudent, true, false).
		Update("dinner_approved", true)
	if result.Error != nil {
		return 0, appErrors.Wrap(result.Error, "failed to approve applications")
	}

	s.logAudit(ctx, actorID, "dinner.approve_all", "", map[string]any{
		"changed": result.RowsAffected,
	})
	s.notifyAll(ctx)

	return result.RowsAffected, nil
}

// RevokeAllApprovals clears every approval, e.g. at period end.
func (s *ApprovalService) RevokeAllApprovals(ctx context.Context, actorID string) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND dinner_approved = ?", models.RoleStudent, true).
		Update("dinner_approved", false)
	if result.Error != nil {
		return 0, appErrors.Wrap(result.Error, "failed to revoke approvals")
	}

	s.logAudit(ctx, actorID, "dinner.revoke_all", "", map[string]any{
		"changed": result.RowsAffected,
	})
	s.notifyAll(ctx)

	return result.RowsAffected, nil
}

// ListStudents returns a paginated student roster with optional name/email
// search and an applied-only filter.
func (s *ApprovalService) ListStudents(ctx context.Context, opts StudentListOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", models.RoleStudent)

	if search := strings.TrimSpace(opts.Filters.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}
	if opts.Filters.AppliedOnly {
		query = query.Where("dinner_applied = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, appErrors.Wrap(err, "failed to count students")
	}

	var students []models.User
	err := query.
		Order("grade, class_num, name").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&students).Error
	if err != nil {
		return nil, 0, appErrors.Wrap(err, "failed to list students")
	}

	return students, total, nil
}

func (s *ApprovalService) logAudit(ctx context.Context, actorID, action, resource string, metadata map[string]any) {
	if s.audit == nil {
		return
	}

	entry := AuditEntry{
		Action:   action,
		Resource: resource,
		Result:   "success",
		Metadata: metadata,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	_ = s.audit.Log(ctx, entry)
}

func (s *ApprovalService) notify(user *models.User) {
	if s.notifier != nil && user != nil {
		s.notifier.NotifyEligibility(user)
	}
}

// notifyAll re-broadcasts every student record after a bulk mutation.
func (s *ApprovalService) notifyAll(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	var students []models.User
	if err := s.db.WithContext(ctx).
		Where("role = ?", models.RoleStudent).
		Find(&students).Error; err != nil {
		return
	}
	for i := range students {
		s.notifier.NotifyEligibility(&students[i])
	}
}
