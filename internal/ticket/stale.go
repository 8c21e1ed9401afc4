package ticket

import (
	"context"

	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/metrics"
)

// resetStaleUsage corrects a record whose dinner-used flag refers to a day
// other than today: the flag goes back to false and the usage date is
// cleared. Applying it twice produces the same record as applying it once.
// The date condition on the update mirrors the loaded snapshot's staleness
// check, so a redemption committed for today by a concurrent verifier is
// never cleared.
func resetStaleUsage(ctx context.Context, db *gorm.DB, user *models.User, today string) error {
	if !user.StaleUsage(today) {
		return nil
	}

	result := db.WithContext(ctx).
		Model(&models.User{}).
		Where("dinner_used = ? AND (last_used_date IS NULL OR last_used_date <> ?)", true, today).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"dinner_used":    false,
			"last_used_date": nil,
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		user.DinnerUsed = false
		user.LastUsedDate = nil
		metrics.StaleFlagsReset.Inc()
		return nil
	}

	// Zero rows means the record moved underneath the loaded snapshot, either
	// an earlier reset or a redemption committed for today. Reload so the
	// caller re-checks against current state.
	return db.WithContext(ctx).Take(user, "id = ?", user.ID).Error
}
