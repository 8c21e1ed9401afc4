package ticket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/cache"
	"github.com/sungwoon-dev/mealpass/internal/civil"
	"github.com/sungwoon-dev/mealpass/internal/models"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/logger"
	"github.com/sungwoon-dev/mealpass/pkg/metrics"
)

// redeemedCacheTTL bounds the redeemed-holder short-circuit entries. They only
// need to outlive a burst of duplicate frames, not the civil day.
const redeemedCacheTTL = 5 * time.Minute

// Decision is an accepted scan, carrying the holder details the operator sees
// for confirmation.
type Decision struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	ClassInfo string `json:"class_info"`
	Date      string `json:"date"`
}

// Verifier validates scanned payloads and redeems each holder at most once
// per civil day. Rejections come back as the ticket AppError sentinels; store
// failures come back as generic processing errors and are never mapped to
// already-used.
type Verifier struct {
	db     *gorm.DB
	store  cache.Store
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastRedeemed string // "email\x00date" of the most recent acceptance
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock injects a clock, used by tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithRedeemedCache attaches a cache used to short-circuit repeat scans of a
// payload that was just accepted. Latency optimisation only; the conditional
// store update remains the correctness mechanism.
func WithRedeemedCache(store cache.Store) VerifierOption {
	return func(v *Verifier) {
		v.store = store
	}
}

// NewVerifier constructs a Verifier.
func NewVerifier(db *gorm.DB, opts ...VerifierOption) (*Verifier, error) {
	if db == nil {
		return nil, errors.New("ticket: verifier requires a database handle")
	}

	verifier := &Verifier{
		db:     db,
		logger: logger.WithModule("ticket.verifier"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(verifier)
	}
	return verifier, nil
}

// Today exposes the verifier's current civil date so scan sessions can detect
// midnight rollover against the date they started with.
func (v *Verifier) Today() string {
	return civil.Today(v.now)
}

// Verify runs the per-scan pipeline on raw decoded QR text and, when every
// check passes, flips the holder's dinner-used flag with a conditional update
// and records the redemption. scannedBy identifies the operator account.
func (v *Verifier) Verify(ctx context.Context, raw []byte, scannedBy string) (*Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := ParsePayload(raw)
	if err != nil {
		return nil, v.reject(appErrors.ErrTicketInvalidFormat)
	}

	today := civil.Today(v.now)
	if payload.Date != today {
		return nil, v.reject(appErrors.ErrTicketWrongDate)
	}

	if v.recentlyRedeemed(ctx, payload.Email, today) {
		return nil, v.reject(appErrors.ErrTicketAlreadyUsed)
	}

	var user models.User
	err = v.db.WithContext(ctx).Take(&user, "email = ?", payload.Email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, v.reject(appErrors.ErrTicketUnknownHolder)
	}
	if err != nil {
		metrics.ScansProcessed.WithLabelValues("store_error").Inc()
		return nil, appErrors.Wrap(err, "failed to load holder record")
	}

	if !user.DinnerApplied {
		return nil, v.reject(appErrors.ErrTicketNotApplied)
	}
	if !user.DinnerApproved {
		return nil, v.reject(appErrors.ErrTicketNotApproved)
	}

	if user.StaleUsage(today) {
		if err := resetStaleUsage(ctx, v.db, &user, today); err != nil {
			metrics.ScansProcessed.WithLabelValues("store_error").Inc()
			return nil, appErrors.Wrap(err, "failed to reset stale usage")
		}
	}
	if user.UsedOn(today) {
		return nil, v.reject(appErrors.ErrTicketAlreadyUsed)
	}

	if err := v.redeem(ctx, &user, payload, today, scannedBy); err != nil {
		return nil, err
	}

	v.rememberRedeemed(ctx, payload.Email, today)

	metrics.ScansProcessed.WithLabelValues("redeemed").Inc()
	v.logger.Info("ticket redeemed",
		zap.String("user_id", user.ID),
		zap.String("date", today),
		zap.String("scanned_by", scannedBy),
	)

	return &Decision{
		Email:     user.Email,
		Name:      user.Name,
		ClassInfo: user.ClassInfo(),
		Date:      today,
	}, nil
}

// redeem flips the flag with a guarded update so two verifiers racing on the
// same payload produce exactly one acceptance: the update is keyed on
// dinner_used = false, and zero affected rows means someone else won.
func (v *Verifier) redeem(ctx context.Context, user *models.User, payload Payload, today, scannedBy string) error {
	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ? AND dinner_used = ?", user.ID, false).
			Updates(map[string]any{
				"dinner_used":    true,
				"last_used_date": today,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return appErrors.ErrTicketAlreadyUsed
		}

		return tx.Create(&models.Redemption{
			UserID:    user.ID,
			ScanDate:  today,
			ClassInfo: payload.ClassInfo,
			Nonce:     payload.Nonce,
			ScannedBy: scannedBy,
		}).Error
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrTicketAlreadyUsed) {
			return v.reject(appErrors.ErrTicketAlreadyUsed)
		}
		metrics.ScansProcessed.WithLabelValues("store_error").Inc()
		return appErrors.Wrap(err, "failed to record redemption")
	}

	user.DinnerUsed = true
	user.LastUsedDate = &today
	return nil
}

func (v *Verifier) recentlyRedeemed(ctx context.Context, email, date string) bool {
	key := email + "\x00" + date

	v.mu.Lock()
	hit := v.lastRedeemed == key
	v.mu.Unlock()
	if hit {
		return true
	}

	if v.store != nil {
		if _, ok, err := v.store.Get(ctx, redeemedCacheKey(email, date)); err == nil && ok {
			return true
		}
	}
	return false
}

func (v *Verifier) rememberRedeemed(ctx context.Context, email, date string) {
	v.mu.Lock()
	v.lastRedeemed = email + "\x00" + date
	v.mu.Unlock()

	if v.store != nil {
		if err := v.store.Set(ctx, redeemedCacheKey(email, date), []byte("1"), redeemedCacheTTL); err != nil {
			v.logger.Debug("redeemed cache write failed", zap.Error(err))
		}
	}
}

func redeemedCacheKey(email, date string) string {
	return fmt.Sprintf("redeemed:%s:%s", date, email)
}

func (v *Verifier) reject(reason *appErrors.AppError) error {
	metrics.ScansProcessed.WithLabelValues(reason.Code).Inc()
	return reason
}
