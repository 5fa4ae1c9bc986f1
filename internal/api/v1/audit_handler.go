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

type AuditHandler struct {
	auditService *service.AuditService
}

type auditChangeDTO struct {
	FieldName string  `json:"field_name"`
	Before    *string `json:"before"`
	After     string  `json:"after"`
}

type auditDTO struct {
	ID       int64            `json:"id"`
	UserID   int64            `json:"user_id"`
	LoggedAt string           `json:"logged_at"`
	Action   string           `json:"action"`
	Changes  []auditChangeDTO `json:"changes"`
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// RegisterAuditRoutes mounts the audit history under /users. Both routes are
// read-only and include audits of soft-deleted users.
func RegisterAuditRoutes(group *gin.RouterGroup, auditService *service.AuditService) {
	if auditService == nil {
		return
	}

	handler := NewAuditHandler(auditService)
	users := group.Group("/users")
	users.GET("/audits", handler.List)
	users.GET("/:id/audits", handler.ListByUser)
}

// List serves GET /api/v1/users/audits?search=&action=&user_id=&page=&page_size=
func (h *AuditHandler) List(c *gin.Context) {
	page, pageSize := service.NormalizeAuditPagination(
		parseIntOrDefault(c.Query("page"), 0),
		parseIntOrDefault(c.Query("page_size"), 0),
	)

	action, err := service.ParseActionFilter(c.Query("action"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAuditFilter, "invalid action")
		return
	}

	filter := service.AuditFilter{
		SearchTerm: inputsanitize.Text(c.Query("search")),
		Action:     action,
	}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID, "invalid user_id")
			return
		}
		filter.UserID = &userID
	}

	items, total, err := h.auditService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		handleAuditServiceError(c, err)
		return
	}

	response.Paginated(c, toAuditDTOs(items), page, pageSize, total)
}

// ListByUser serves GET /api/v1/users/:id/audits
func (h *AuditHandler) ListByUser(c *gin.Context) {
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}

	page, pageSize := service.NormalizeAuditPagination(
		parseIntOrDefault(c.Query("page"), 0),
		parseIntOrDefault(c.Query("page_size"), 0),
	)

	items, total, err := h.auditService.ListByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		handleAuditServiceError(c, err)
		return
	}

	response.Paginated(c, toAuditDTOs(items), page, pageSize, total)
}

func toAuditDTOs(items []*model.AuditRecord) []auditDTO {
	out := make([]auditDTO, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, toAuditDTO(item))
	}
	return out
}

func toAuditDTO(item *model.AuditRecord) auditDTO {
	dto := auditDTO{
		ID:       item.ID,
		UserID:   item.UserID,
		LoggedAt: item.LoggedAt.UTC().Format(time.RFC3339),
		Action:   item.Action.String(),
		Changes:  make([]auditChangeDTO, 0, len(item.Changes)),
	}
	for _, change := range item.Changes {
		before := change.Before
		// A created user had no previous value; the empty string stored for
		// it is reported as null.
		if item.Action == model.AuditActionCreated && before != nil && *before == "" {
			before = nil
		}
		dto.Changes = append(dto.Changes, auditChangeDTO{
			FieldName: change.Field.String(),
			Before:    before,
			After:     change.After,
		})
	}
	return dto
}

func handleAuditServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, service.ErrInvalidAuditFilter):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAuditFilter, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
