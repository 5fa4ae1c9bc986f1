package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess = 0
)

const (
	ErrInvalidRequest = 10001
	ErrInvalidID      = 10002
)

const (
	ErrUserNotFound = 20001
	ErrEmailInUse   = 20002
	ErrInvalidUser  = 20003
	ErrUserConflict = 20004
)

const (
	ErrInvalidAuditFilter = 30001
	ErrAuditWriteFailed   = 30002
)

const (
	ErrInternal = 99999
)

type Response struct {
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

func Paginated(c *gin.Context, data any, page, pageSize int, total int64) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
		Pagination: &Pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	})
}

func Fail(c *gin.Context, httpStatus, appCode int, message string) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
	})
}

// FailWithData reports an error while still returning a payload, for
// mutations that were committed but whose follow-up work failed.
func FailWithData(c *gin.Context, httpStatus, appCode int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
		Data:    data,
	})
}
