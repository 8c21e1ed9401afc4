package ticket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/civil"
	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/crypto"
	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/logger"
	"github.com/sungwoon-dev/mealpass/pkg/metrics"
)

const defaultQRSize = 256

// Ticket is a freshly issued payload plus its rendered QR image. Nothing is
// persisted at issuance; the store is only written at redemption.
type Ticket struct {
	Payload Payload
	PNG     []byte
}

// Status is the eligibility snapshot behind the ticket page.
type Status struct {
	Applied   bool   `json:"applied"`
	Approved  bool   `json:"approved"`
	UsedToday bool   `json:"used_today"`
	Date      string `json:"date"`
}

// Issuer decides whether a holder may see a ticket today and materialises it.
type Issuer struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
	qrSize int

	mu     sync.Mutex
	issued map[string]string // session ID -> civil date a ticket was handed out
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock injects a clock, used by tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithQRSize overrides the rendered QR image edge length in pixels.
func WithQRSize(size int) IssuerOption {
	return func(i *Issuer) {
		if size > 0 {
			i.qrSize = size
		}
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(db *gorm.DB, opts ...IssuerOption) (*Issuer, error) {
	if db == nil {
		return nil, errors.New("ticket: issuer requires a database handle")
	}

	issuer := &Issuer{
		db:     db,
		logger: logger.WithModule("ticket.issuer"),
		now:    time.Now,
		qrSize: defaultQRSize,
		issued: make(map[string]string),
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue runs the precondition pipeline for the holder and, when every gate
// passes, returns a payload dated today plus its QR rendering. sessionID keys
// the once-per-session idempotence guard; repeat calls on the same session
// and day fail with AlreadyGenerated.
func (i *Issuer) Issue(ctx context.Context, userID, sessionID string) (*Ticket, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	today := civil.Today(i.now)

	var user models.User
	err := i.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, i.refuse(appErrors.ErrUnauthorized)
	}
	if err != nil {
		metrics.TicketsIssued.WithLabelValues("store_error").Inc()
		return nil, appErrors.Wrap(err, "failed to load eligibility record")
	}

	if !user.DinnerApplied {
		return nil, i.refuse(appErrors.ErrTicketNotApplied)
	}
	if !user.DinnerApproved {
		return nil, i.refuse(appErrors.ErrTicketNotApproved)
	}

	if user.StaleUsage(today) {
		if err := resetStaleUsage(ctx, i.db, &user, today); err != nil {
			metrics.TicketsIssued.WithLabelValues("store_error").Inc()
			return nil, appErrors.Wrap(err, "failed to reset stale usage")
		}
	}
	if user.UsedOn(today) {
		return nil, i.refuse(appErrors.ErrTicketAlreadyUsed)
	}

	if sessionID != "" && i.alreadyIssued(sessionID, today) {
		return nil, i.refuse(appErrors.ErrTicketAlreadyGenerated)
	}

	nonce, err := crypto.GenerateToken(nonceBytes)
	if err != nil {
		metrics.TicketsIssued.WithLabelValues("internal_error").Inc()
		return nil, appErrors.Wrap(err, "failed to generate ticket nonce")
	}

	payload := Payload{
		Email:     user.Email,
		Name:      user.Name,
		ClassInfo: user.ClassInfo(),
		Date:      today,
		Nonce:     nonce,
	}

	encoded, err := payload.Encode()
	if err != nil {
		metrics.TicketsIssued.WithLabelValues("internal_error").Inc()
		return nil, appErrors.Wrap(err, "failed to encode ticket payload")
	}

	png, err := qrcode.Encode(string(encoded), qrcode.Medium, i.qrSize)
	if err != nil {
		metrics.TicketsIssued.WithLabelValues("internal_error").Inc()
		return nil, appErrors.Wrap(err, "failed to render ticket QR code")
	}

	if sessionID != "" {
		i.recordIssued(sessionID, today)
	}

	metrics.TicketsIssued.WithLabelValues("issued").Inc()
	i.logger.Info("ticket issued",
		zap.String("user_id", user.ID),
		zap.String("date", today),
	)

	return &Ticket{Payload: payload, PNG: png}, nil
}

// Status reports the holder's eligibility for today without issuing anything.
func (i *Issuer) Status(ctx context.Context, userID string) (*Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	today := civil.Today(i.now)

	var user models.User
	err := i.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrUnauthorized
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load eligibility record")
	}

	return &Status{
		Applied:   user.DinnerApplied,
		Approved:  user.DinnerApproved,
		UsedToday: user.UsedOn(today),
		Date:      today,
	}, nil
}

// alreadyIssued reports whether this session was already handed a ticket
// today. Entries left over from previous days are pruned on the way through,
// so sessions that never log out do not accumulate.
func (i *Issuer) alreadyIssued(sessionID, today string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for sid, date := range i.issued {
		if date != today {
			delete(i.issued, sid)
		}
	}
	return i.issued[sessionID] == today
}

// recordIssued marks the session once a ticket was actually rendered. A failed
// render leaves the guard unset so the holder can retry.
func (i *Issuer) recordIssued(sessionID, today string) {
	i.mu.Lock()
	i.issued[sessionID] = today
	i.mu.Unlock()
}

// ResetSession forgets the per-session idempotence guard, letting a new
// session regenerate. Called at logout.
func (i *Issuer) ResetSession(sessionID string) {
	if sessionID == "" {
		return
	}
	i.mu.Lock()
	delete(i.issued, sessionID)
	i.mu.Unlock()
}

func (i *Issuer) refuse(reason *appErrors.AppError) error {
	metrics.TicketsIssued.WithLabelValues(reason.Code).Inc()
	return reason
}
