package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/internal/services"
	"github.com/sungwoon-dev/mealpass/pkg/response"
)

// UserHandler exposes account creation and listing for admins.
type UserHandler struct {
	users    *services.UserService
	approval *services.ApprovalService
}

func NewUserHandler(users *services.UserService, approval *services.ApprovalService) *UserHandler {
	return &UserHandler{users: users, approval: approval}
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
	Grade    int    `json:"grade" validate:"omitempty,min=1,max=6"`
	ClassNum int    `json:"class_num" validate:"omitempty,min=1"`
	Role     string `json:"role" validate:"omitempty,oneof=student teacher admin"`
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role := models.Role(req.Role)
	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Grade:    req.Grade,
		ClassNum: req.ClassNum,
		Role:     role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	opts := services.StudentListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 50),
		Filters: services.StudentFilters{
			Search:      c.Query("search"),
			AppliedOnly: c.Query("applied") == "true",
		},
	}

	students, total, err := h.approval.ListStudents(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, students, &response.Meta{
		Page:    opts.Page,
		PerPage: opts.PageSize,
		Total:   int(total),
	})
}
