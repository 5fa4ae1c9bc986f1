package repository

import (
	"context"
	"errors"

	"usermanagement/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrStaleVersion means the row changed after it was read.
	ErrStaleVersion = errors.New("stale version")
)

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type UserSortField string

const (
	UserSortByID       UserSortField = "id"
	UserSortByForename UserSortField = "forename"
	UserSortBySurname  UserSortField = "surname"
	UserSortByEmail    UserSortField = "email"
)

type UserListFilter struct {
	Keyword    *string       `json:"keyword,omitempty"`
	IsActive   *bool         `json:"is_active,omitempty"`
	SortBy     UserSortField `json:"sort_by"`
	SortDesc   bool          `json:"sort_desc"`
	Pagination Pagination    `json:"pagination"`
}

// AuditListFilter selects audit records. Keyword is matched case-insensitively
// against the subject's forename, surname and email, whether or not the
// subject has been soft-deleted.
type AuditListFilter struct {
	Keyword    *string            `json:"keyword,omitempty"`
	Action     *model.AuditAction `json:"action,omitempty"`
	UserID     *int64             `json:"user_id,omitempty"`
	Pagination Pagination         `json:"pagination"`
}

// UserRepository hides soft-deleted rows from every read except
// FindByIDUnscoped. Update only succeeds when user.Version still matches the
// stored version and bumps it on success.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByIDUnscoped(ctx context.Context, id int64) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	SoftDelete(ctx context.Context, id int64) error
	List(ctx context.Context, filter UserListFilter) ([]*model.User, error)
	Count(ctx context.Context, filter UserListFilter) (int64, error)
}

// AuditWriter is only valid inside the unit of work that produced it.
type AuditWriter interface {
	InsertAuditRecord(ctx context.Context, record *model.AuditRecord) (int64, error)
	InsertFieldChange(ctx context.Context, change *model.FieldChange) error
}

// AuditRepository is append-only: there is no update or delete.
type AuditRepository interface {
	// WithinTx runs fn in one unit of work. Writes become visible only if fn
	// returns nil; otherwise none of them do.
	WithinTx(ctx context.Context, fn func(ctx context.Context, w AuditWriter) error) error
	List(ctx context.Context, filter AuditListFilter) ([]*model.AuditRecord, error)
	Count(ctx context.Context, filter AuditListFilter) (int64, error)
}
