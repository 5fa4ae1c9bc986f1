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

type auditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return &auditRepository{pool: pool}
}

var _ repository.AuditRepository = (*auditRepository)(nil)

const auditColumns = `
	a.id,
	a.user_id,
	a.logged_at,
	a.action
`

// The subject join deliberately has no deleted predicate.
const auditFrom = ` FROM user_audits a JOIN users u ON u.id = a.user_id`

func (r *auditRepository) WithinTx(
	ctx context.Context,
	fn func(ctx context.Context, w repository.AuditWriter) error,
) (err error) {
	if fn == nil {
		return errors.New("audit unit of work is nil")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &txAuditWriter{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

type txAuditWriter struct {
	tx pgx.Tx
}

func (w *txAuditWriter) InsertAuditRecord(ctx context.Context, record *model.AuditRecord) (int64, error) {
	if record == nil {
		return 0, errors.New("audit record is nil")
	}
	if !record.Action.Valid() {
		return 0, fmt.Errorf("%w: %d", model.ErrUnknownAuditAction, int(record.Action))
	}
	if record.LoggedAt.IsZero() {
		record.LoggedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO user_audits (user_id, logged_at, action)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := w.tx.QueryRow(ctx, query, record.UserID, record.LoggedAt.UTC(), record.Action.String()).Scan(&record.ID); err != nil {
		return 0, fmt.Errorf("insert user audit: %w", err)
	}
	return record.ID, nil
}

func (w *txAuditWriter) InsertFieldChange(ctx context.Context, change *model.FieldChange) error {
	if change == nil {
		return errors.New("field change is nil")
	}
	if !change.Field.Valid() {
		return fmt.Errorf("%w: %d", model.ErrUnknownUserField, int(change.Field))
	}
	if change.AuditID <= 0 {
		return errors.New("field change has no owning audit")
	}

	query := `
		INSERT INTO user_audit_changes (audit_id, field, before_value, after_value)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := w.tx.QueryRow(ctx, query, change.AuditID, change.Field.String(), change.Before, change.After).Scan(&change.ID); err != nil {
		return fmt.Errorf("insert user audit change: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter repository.AuditListFilter) ([]*model.AuditRecord, error) {
	limit, offset := normalizePagination(filter.Pagination)

	args := make([]any, 0, 6)
	conditions := buildAuditListConditions(filter, &args)

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(auditColumns)
	builder.WriteString(auditFrom)
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	args = append(args, limit, offset)
	_, _ = fmt.Fprintf(&builder, " ORDER BY a.logged_at DESC, a.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.AuditRecord, 0, limit)
	byID := make(map[int64]*model.AuditRecord, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		item, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, item)
		byID[item.ID] = item
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return records, nil
	}
	if err := r.attachChanges(ctx, ids, byID); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *auditRepository) attachChanges(ctx context.Context, ids []int64, byID map[int64]*model.AuditRecord) error {
	query := `
		SELECT id, audit_id, field, before_value, after_value
		FROM user_audit_changes
		WHERE audit_id = ANY($1)
		ORDER BY audit_id, id
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			change model.FieldChange
			field  string
		)
		if err := rows.Scan(&change.ID, &change.AuditID, &field, &change.Before, &change.After); err != nil {
			return err
		}
		change.Field, err = model.ParseUserField(field)
		if err != nil {
			return fmt.Errorf("audit change %d: %w", change.ID, err)
		}
		if owner, ok := byID[change.AuditID]; ok {
			owner.Changes = append(owner.Changes, change)
		}
	}
	return rows.Err()
}

func (r *auditRepository) Count(ctx context.Context, filter repository.AuditListFilter) (int64, error) {
	args := make([]any, 0, 4)
	conditions := buildAuditListConditions(filter, &args)

	query := "SELECT COUNT(*)" + auditFrom
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildAuditListConditions(filter repository.AuditListFilter, args *[]any) []string {
	conditions := make([]string, 0, 3)

	if filter.UserID != nil {
		*args = append(*args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("a.user_id = $%d", len(*args)))
	}
	if filter.Action != nil {
		*args = append(*args, filter.Action.String())
		conditions = append(conditions, fmt.Sprintf("a.action = $%d", len(*args)))
	}
	if filter.Keyword != nil && strings.TrimSpace(*filter.Keyword) != "" {
		*args = append(*args, likePattern(*filter.Keyword))
		argPos := len(*args)
		conditions = append(conditions, fmt.Sprintf(
			"(u.forename ILIKE $%d OR u.surname ILIKE $%d OR u.email ILIKE $%d)", argPos, argPos, argPos,
		))
	}

	return conditions
}

func scanAuditRecord(src scanTarget) (*model.AuditRecord, error) {
	record := &model.AuditRecord{}
	var action string
	if err := src.Scan(&record.ID, &record.UserID, &record.LoggedAt, &action); err != nil {
		return nil, err
	}

	parsed, err := model.ParseAuditAction(action)
	if err != nil {
		return nil, fmt.Errorf("audit %d: %w", record.ID, err)
	}
	record.Action = parsed
	record.LoggedAt = record.LoggedAt.UTC()
	record.Changes = []model.FieldChange{}
	return record, nil
}
