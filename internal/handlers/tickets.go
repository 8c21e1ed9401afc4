package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sungwoon-dev/mealpass/internal/middleware"
	"github.com/sungwoon-dev/mealpass/internal/ticket"
	"github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/response"
)

// TicketHandler issues meal tickets and reports eligibility status.
type TicketHandler struct {
	issuer *ticket.Issuer
}

func NewTicketHandler(issuer *ticket.Issuer) *TicketHandler {
	return &TicketHandler{issuer: issuer}
}

// POST /api/tickets
func (h *TicketHandler) Issue(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	issued, err := h.issuer.Issue(requestContext(c), userID, middleware.SessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"payload": issued.Payload,
		"qr_png":  base64.StdEncoding.EncodeToString(issued.PNG),
	})
}

// GET /api/tickets/status
func (h *TicketHandler) Status(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	status, err := h.issuer.Status(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}
