package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

var _ repository.UserRepository = (*userRepository)(nil)

type scanTarget interface {
	Scan(dest ...any) error
}

const userColumns = `
	id,
	forename,
	surname,
	email,
	role,
	is_active,
	birth_date,
	password_hash,
	deleted,
	version,
	created_at,
	updated_at
`

// Every scoped read goes through this predicate; only FindByIDUnscoped and
// the audit join skip it.
const notDeleted = "deleted = FALSE"

func (r *userRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND ` + notDeleted
	return r.findOne(ctx, query, id)
}

func (r *userRepository) FindByIDUnscoped(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND ` + notDeleted
	return r.findOne(ctx, query, strings.TrimSpace(email))
}

func (r *userRepository) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	query := `
		INSERT INTO users (
			forename, surname, email, role, is_active,
			birth_date, password_hash, deleted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
		RETURNING id, version
	`

	err := r.pool.QueryRow(
		ctx,
		query,
		user.Forename,
		user.Surname,
		user.Email,
		user.Role.String(),
		user.IsActive,
		user.BirthDate,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID, &user.Version)
	return translateWriteError(err)
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	updatedAt := time.Now().UTC()
	query := `
		UPDATE users
		SET forename = $2,
			surname = $3,
			email = $4,
			role = $5,
			is_active = $6,
			birth_date = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $9 AND ` + notDeleted + `
		RETURNING version`

	var version int64
	err := r.pool.QueryRow(
		ctx,
		query,
		user.ID,
		user.Forename,
		user.Surname,
		user.Email,
		user.Role.String(),
		user.IsActive,
		user.BirthDate,
		updatedAt,
		user.Version,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.explainMissedUpdate(ctx, user.ID)
	}
	if err != nil {
		return translateWriteError(err)
	}

	user.Version = version
	user.UpdatedAt = updatedAt
	return nil
}

// explainMissedUpdate tells a row that is gone apart from one that moved on.
func (r *userRepository) explainMissedUpdate(ctx context.Context, id int64) error {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND ` + notDeleted + `)`
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return repository.ErrStaleVersion
}

func (r *userRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE users SET deleted = TRUE, version = version + 1, updated_at = NOW() WHERE id = $1 AND ` + notDeleted
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) List(ctx context.Context, filter repository.UserListFilter) ([]*model.User, error) {
	limit, offset := normalizePagination(filter.Pagination)

	args := make([]any, 0, 6)
	conditions := buildUserListConditions(filter, &args)

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(userColumns)
	builder.WriteString(" FROM users WHERE ")
	builder.WriteString(strings.Join(conditions, " AND "))

	args = append(args, limit, offset)
	_, _ = fmt.Fprintf(&builder, " ORDER BY %s LIMIT $%d OFFSET $%d", userOrderBy(filter), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*model.User, 0, limit)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (r *userRepository) Count(ctx context.Context, filter repository.UserListFilter) (int64, error) {
	args := make([]any, 0, 4)
	conditions := buildUserListConditions(filter, &args)

	query := "SELECT COUNT(*) FROM users WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}

func buildUserListConditions(filter repository.UserListFilter, args *[]any) []string {
	conditions := []string{notDeleted}

	if filter.IsActive != nil {
		*args = append(*args, *filter.IsActive)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(*args)))
	}
	if filter.Keyword != nil && strings.TrimSpace(*filter.Keyword) != "" {
		*args = append(*args, likePattern(*filter.Keyword))
		argPos := len(*args)
		conditions = append(conditions, fmt.Sprintf(
			"(forename ILIKE $%d OR surname ILIKE $%d OR email ILIKE $%d)", argPos, argPos, argPos,
		))
	}

	return conditions
}

func userOrderBy(filter repository.UserListFilter) string {
	column := "id"
	switch filter.SortBy {
	case repository.UserSortByForename:
		column = "forename"
	case repository.UserSortBySurname:
		column = "surname"
	case repository.UserSortByEmail:
		column = "email"
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	if column == "id" {
		return "id " + direction
	}
	return column + " " + direction + ", id " + direction
}

func scanUser(src scanTarget) (*model.User, error) {
	user := &model.User{}
	var role string
	err := src.Scan(
		&user.ID,
		&user.Forename,
		&user.Surname,
		&user.Email,
		&role,
		&user.IsActive,
		&user.BirthDate,
		&user.PasswordHash,
		&user.Deleted,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role, err = model.ParseUserRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", user.ID, err)
	}

	return user, nil
}
