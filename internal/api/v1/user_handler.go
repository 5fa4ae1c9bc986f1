package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"usermanagement/internal/api/response"
	inputsanitize "usermanagement/internal/api/sanitize"
	"usermanagement/internal/model"
	"usermanagement/internal/service"
)

const birthDateLayout = "2006-01-02"

type UserHandler struct {
	userService *service.UserService
}

type createUserRequest struct {
	Forename  string `json:"forename" binding:"required"`
	Surname   string `json:"surname" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Role      string `json:"role"`
	IsActive  *bool  `json:"is_active"`
	BirthDate string `json:"birth_date" binding:"required"`
}

type updateUserRequest struct {
	Forename  *string `json:"forename"`
	Surname   *string `json:"surname"`
	Email     *string `json:"email"`
	Role      *string `json:"role"`
	IsActive  *bool   `json:"is_active"`
	BirthDate *string `json:"birth_date"`
}

type userDTO struct {
	ID        int64     `json:"id"`
	Forename  string    `json:"forename"`
	Surname   string    `json:"surname"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	BirthDate string    `json:"birth_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func RegisterUserRoutes(group *gin.RouterGroup, userService *service.UserService) {
	if userService == nil {
		return
	}

	handler := NewUserHandler(userService)
	users := group.Group("/users")

	users.GET("", handler.List)
	users.POST("", handler.Create)
	users.GET("/:id", handler.GetByID)
	users.PATCH("/:id", handler.Update)
	users.DELETE("/:id", handler.Delete)
}

// List serves GET /api/v1/users?search=&is_active=&sort_by=&sort_desc=&page=&page_size=
func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := service.NormalizeListPagination(
		parseIntOrDefault(c.Query("page"), 0),
		parseIntOrDefault(c.Query("page_size"), 0),
	)

	query := service.UserQuery{
		SearchTerm: inputsanitize.Text(c.Query("search")),
		SortBy:     c.Query("sort_by"),
		Page:       page,
		PageSize:   pageSize,
	}
	if raw := strings.TrimSpace(c.Query("is_active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid is_active")
			return
		}
		query.IsActive = &active
	}
	if raw := strings.TrimSpace(c.Query("sort_desc")); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid sort_desc")
			return
		}
		query.SortDesc = desc
	}

	users, total, err := h.userService.List(c.Request.Context(), query)
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	items := make([]userDTO, 0, len(users))
	for _, user := range users {
		items = append(items, toUserDTO(user))
	}
	response.Paginated(c, items, page, pageSize, total)
}

// GetByID serves GET /api/v1/users/:id
func (h *UserHandler) GetByID(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), id)
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, toUserDTO(user))
}

// Create serves POST /api/v1/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request body")
		return
	}

	birthDate, err := time.Parse(birthDateLayout, strings.TrimSpace(req.BirthDate))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid birth_date")
		return
	}

	role := model.UserRoleUser
	if strings.TrimSpace(req.Role) != "" {
		role, err = model.MatchUserRole(req.Role)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid role")
			return
		}
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	user, err := h.userService.Create(c.Request.Context(), service.CreateUserRequest{
		Forename:  inputsanitize.Text(req.Forename),
		Surname:   inputsanitize.Text(req.Surname),
		Email:     inputsanitize.Text(req.Email),
		Role:      role,
		IsActive:  isActive,
		BirthDate: birthDate,
	})
	if err != nil {
		handleUserMutationError(c, user, err)
		return
	}

	response.Created(c, toUserDTO(user))
}

// Update serves PATCH /api/v1/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request body")
		return
	}

	patch := service.UpdateUserRequest{
		Forename: inputsanitize.TextPtr(req.Forename),
		Surname:  inputsanitize.TextPtr(req.Surname),
		Email:    inputsanitize.TextPtr(req.Email),
		IsActive: req.IsActive,
	}
	if req.Role != nil {
		role, err := model.MatchUserRole(*req.Role)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid role")
			return
		}
		patch.Role = &role
	}
	if req.BirthDate != nil {
		birthDate, err := time.Parse(birthDateLayout, strings.TrimSpace(*req.BirthDate))
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid birth_date")
			return
		}
		patch.BirthDate = &birthDate
	}

	user, err := h.userService.Update(c.Request.Context(), id, patch)
	if err != nil {
		handleUserMutationError(c, user, err)
		return
	}

	response.Success(c, toUserDTO(user))
}

// Delete serves DELETE /api/v1/users/:id. The user is only flagged deleted.
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.userService.SoftDelete(c.Request.Context(), id); err != nil {
		handleUserMutationError(c, nil, err)
		return
	}

	response.Success(c, gin.H{"id": id, "deleted": true})
}

func toUserDTO(user *model.User) userDTO {
	return userDTO{
		ID:        user.ID,
		Forename:  user.Forename,
		Surname:   user.Surname,
		Email:     user.Email,
		Role:      user.Role.String(),
		IsActive:  user.IsActive,
		BirthDate: user.BirthDate.Format(birthDateLayout),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// handleUserMutationError reports a committed mutation whose audit failed
// with the stored user attached, and everything else as a plain failure.
func handleUserMutationError(c *gin.Context, user *model.User, err error) {
	if errors.Is(err, service.ErrAuditWriteFailed) {
		_ = c.Error(err)
		var data any
		if user != nil {
			data = toUserDTO(user)
		}
		response.FailWithData(c, http.StatusInternalServerError, response.ErrAuditWriteFailed, "saved but audit failed", data)
		return
	}
	handleUserServiceError(c, err)
}

func handleUserServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID, "invalid user id")
	case errors.Is(err, service.ErrInvalidUserInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidUser, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
	case errors.Is(err, service.ErrEmailInUse):
		response.Fail(c, http.StatusConflict, response.ErrEmailInUse, "email already in use")
	case errors.Is(err, service.ErrUpdateConflict):
		response.Fail(c, http.StatusConflict, response.ErrUserConflict, "user was modified concurrently, retry")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID, "invalid id")
		return 0, false
	}
	return id, true
}

func parseIntOrDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return value
}
