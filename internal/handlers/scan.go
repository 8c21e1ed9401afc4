package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sungwoon-dev/mealpass/internal/middleware"
	"github.com/sungwoon-dev/mealpass/internal/realtime"
	"github.com/sungwoon-dev/mealpass/internal/services"
	"github.com/sungwoon-dev/mealpass/internal/ticket"
	"github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/response"
)

// ScanHandler receives decoded QR text from scanner devices and runs the
// verification pipeline on it.
type ScanHandler struct {
	verifier *ticket.Verifier
	audit    *services.AuditService
	hub      *realtime.Hub
}

func NewScanHandler(verifier *ticket.Verifier, audit *services.AuditService, hub *realtime.Hub) *ScanHandler {
	return &ScanHandler{verifier: verifier, audit: audit, hub: hub}
}

type scanRequest struct {
	// Payload is the raw QR text exactly as decoded on the device.
	Payload string `json:"payload" validate:"required"`
}

// POST /api/scan
func (h *ScanHandler) Scan(c *gin.Context) {
	operatorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req scanRequest
	if !bindAndValidate(c, &req) {
		return
	}

	decision, err := h.verifier.Verify(requestContext(c), []byte(req.Payload), operatorID)
	if err != nil {
		h.logScan(c, operatorID, errors.FromError(err).Code)
		response.Error(c, err)
		return
	}

	h.logScan(c, operatorID, "redeemed")

	if h.hub != nil {
		h.hub.NotifyRedemption(decision)
	}

	response.Success(c, http.StatusOK, decision)
}

func (h *ScanHandler) logScan(c *gin.Context, operatorID, result string) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		UserID:    &operatorID,
		Action:    "scan.verify",
		Result:    result,
		IPAddress: c.ClientIP(),
	})
}
