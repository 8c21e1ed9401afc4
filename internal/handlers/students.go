package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sungwoon-dev/mealpass/internal/middleware"
	"github.com/sungwoon-dev/mealpass/internal/services"
	"github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/response"
)

// StudentHandler manages the dinner application/approval workflow.
type StudentHandler struct {
	approval *services.ApprovalService
}

func NewStudentHandler(approval *services.ApprovalService) *StudentHandler {
	return &StudentHandler{approval: approval}
}

type applyRequest struct {
	Applied *bool `json:"applied" validate:"required"`
}

// POST /api/students/me/apply
func (h *StudentHandler) Apply(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req applyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.approval.Apply(requestContext(c), userID, *req.Applied)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}

type approvalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// POST /api/students/:id/approval
func (h *StudentHandler) SetApproval(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req approvalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.approval.SetApproval(requestContext(c), actorID, c.Param("id"), *req.Approved)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}

// POST /api/students/approve-all
func (h *StudentHandler) ApproveAll(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	changed, err := h.approval.ApproveAllApplied(requestContext(c), actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"changed": changed})
}

// POST /api/students/revoke-all
func (h *StudentHandler) RevokeAll(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	changed, err := h.approval.RevokeAllApprovals(requestContext(c), actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"changed": changed})
}
