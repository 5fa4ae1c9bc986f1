package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

// auditRow and changeRow hold the persisted (string) form so the read path
// validates the vocabulary exactly like a database-backed store would.
type auditRow struct {
	id       int64
	userID   int64
	loggedAt time.Time
	action   string
}

type changeRow struct {
	id      int64
	auditID int64
	field   string
	before  *string
	after   string
}

type AuditRepository struct {
	users *UserRepository

	mu      sync.RWMutex
	audits  []auditRow
	changes map[int64][]changeRow

	auditSeq  atomic.Int64
	changeSeq atomic.Int64
}

// NewAuditRepository resolves audit subjects through users, ignoring their
// soft-delete flag.
func NewAuditRepository(users *UserRepository) *AuditRepository {
	return &AuditRepository{
		users:   users,
		changes: make(map[int64][]changeRow),
	}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

// WithinTx stages every write and publishes them together only when fn
// succeeds. Ids consumed by a failed unit of work are not reused.
func (r *AuditRepository) WithinTx(
	ctx context.Context,
	fn func(ctx context.Context, w repository.AuditWriter) error,
) error {
	if fn == nil {
		return errors.New("audit unit of work is nil")
	}

	staged := &stagedWriter{repo: r}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, staged.audits...)
	for _, change := range staged.changes {
		r.changes[change.auditID] = append(r.changes[change.auditID], change)
	}
	return nil
}

type stagedWriter struct {
	repo    *AuditRepository
	audits  []auditRow
	changes []changeRow
}

func (w *stagedWriter) InsertAuditRecord(ctx context.Context, record *model.AuditRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if record == nil {
		return 0, errors.New("audit record is nil")
	}
	if !record.Action.Valid() {
		return 0, fmt.Errorf("%w: %d", model.ErrUnknownAuditAction, int(record.Action))
	}
	if w.repo.users != nil {
		if _, ok := w.repo.users.lookupUnscoped(record.UserID); !ok {
			return 0, fmt.Errorf("audit subject %d: %w", record.UserID, repository.ErrNotFound)
		}
	}
	if record.LoggedAt.IsZero() {
		record.LoggedAt = time.Now().UTC()
	}

	record.ID = w.repo.auditSeq.Add(1)
	w.audits = append(w.audits, auditRow{
		id:       record.ID,
		userID:   record.UserID,
		loggedAt: record.LoggedAt.UTC(),
		action:   record.Action.String(),
	})
	return record.ID, nil
}

func (w *stagedWriter) InsertFieldChange(ctx context.Context, change *model.FieldChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if change == nil {
		return errors.New("field change is nil")
	}
	if !change.Field.Valid() {
		return fmt.Errorf("%w: %d", model.ErrUnknownUserField, int(change.Field))
	}
	if !w.owns(change.AuditID) {
		return fmt.Errorf("field change references audit %d outside this unit of work", change.AuditID)
	}

	var before *string
	if change.Before != nil {
		value := *change.Before
		before = &value
	}
	change.ID = w.repo.changeSeq.Add(1)
	w.changes = append(w.changes, changeRow{
		id:      change.ID,
		auditID: change.AuditID,
		field:   change.Field.String(),
		before:  before,
		after:   change.After,
	})
	return nil
}

func (w *stagedWriter) owns(auditID int64) bool {
	for _, row := range w.audits {
		if row.id == auditID {
			return true
		}
	}
	return false
}

func (r *AuditRepository) List(_ context.Context, filter repository.AuditListFilter) ([]*model.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.matchLocked(filter)
	page := paginate(len(matched), filter.Pagination)

	out := make([]*model.AuditRecord, 0, page.end-page.start)
	for _, row := range matched[page.start:page.end] {
		record, err := r.toRecordLocked(row)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *AuditRepository) Count(_ context.Context, filter repository.AuditListFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.matchLocked(filter))), nil
}

func (r *AuditRepository) matchLocked(filter repository.AuditListFilter) []auditRow {
	keyword := ""
	if filter.Keyword != nil {
		keyword = strings.ToLower(strings.TrimSpace(*filter.Keyword))
	}

	out := make([]auditRow, 0, len(r.audits))
	for _, row := range r.audits {
		if filter.UserID != nil && row.userID != *filter.UserID {
			continue
		}
		if filter.Action != nil && !strings.EqualFold(row.action, filter.Action.String()) {
			continue
		}
		if keyword != "" {
			subject, ok := r.subject(row.userID)
			if !ok || !matchesKeyword(subject, keyword) {
				continue
			}
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].loggedAt.Equal(out[j].loggedAt) {
			return out[i].loggedAt.After(out[j].loggedAt)
		}
		return out[i].id > out[j].id
	})
	return out
}

func (r *AuditRepository) subject(userID int64) (*model.User, bool) {
	if r.users == nil {
		return nil, false
	}
	return r.users.lookupUnscoped(userID)
}

func (r *AuditRepository) toRecordLocked(row auditRow) (*model.AuditRecord, error) {
	action, err := model.ParseAuditAction(row.action)
	if err != nil {
		return nil, fmt.Errorf("audit %d: %w", row.id, err)
	}

	record := &model.AuditRecord{
		ID:       row.id,
		UserID:   row.userID,
		LoggedAt: row.loggedAt,
		Action:   action,
		Changes:  make([]model.FieldChange, 0, len(r.changes[row.id])),
	}
	for _, child := range r.changes[row.id] {
		field, err := model.ParseUserField(child.field)
		if err != nil {
			return nil, fmt.Errorf("audit change %d: %w", child.id, err)
		}
		var before *string
		if child.before != nil {
			value := *child.before
			before = &value
		}
		record.Changes = append(record.Changes, model.FieldChange{
			ID:      child.id,
			AuditID: child.auditID,
			Field:   field,
			Before:  before,
			After:   child.after,
		})
	}
	return record, nil
}
