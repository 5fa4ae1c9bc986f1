package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"usermanagement/internal/audit"
	"usermanagement/internal/event"
	"usermanagement/internal/metrics"
	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

const (
	auditListDefaultPage = 1
	auditListDefaultSize = 10
	auditListMaxPageSize = 20
)

var (
	ErrAuditWriteFailed       = errors.New("audit write failed")
	ErrAuditRepositoryMissing = errors.New("audit repository is nil")
	ErrInvalidAuditFilter     = errors.New("invalid audit filter")
)

// AuditFilter narrows the audit history. SearchTerm is matched against the
// subject's forename, surname and email, including soft-deleted subjects.
type AuditFilter struct {
	SearchTerm string             `json:"search,omitempty"`
	Action     *model.AuditAction `json:"action,omitempty"`
	UserID     *int64             `json:"user_id,omitempty"`
}

// AuditService records one audit per user mutation event and serves the
// paginated history back.
type AuditService struct {
	auditRepo repository.AuditRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuditService(auditRepo repository.AuditRepository, logger *zap.Logger) (*AuditService, error) {
	if auditRepo == nil {
		return nil, ErrAuditRepositoryMissing
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		auditRepo: auditRepo,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register subscribes the three audit handlers. It must run during wiring,
// before the bus is sealed.
func (s *AuditService) Register(bus *event.Bus) error {
	if bus == nil {
		return errors.New("event bus is nil")
	}
	if err := event.On(bus, s.OnCreated); err != nil {
		return err
	}
	if err := event.On(bus, s.OnUpdated); err != nil {
		return err
	}
	return event.On(bus, s.OnDeleted)
}

func (s *AuditService) OnCreated(ctx context.Context, evt event.UserCreated) error {
	return s.record(ctx, evt.Meta(), evt.UserID, model.AuditActionCreated, audit.DiffCreated(evt.New))
}

// OnUpdated writes the record even when no tracked field changed.
func (s *AuditService) OnUpdated(ctx context.Context, evt event.UserUpdated) error {
	return s.record(ctx, evt.Meta(), evt.UserID, model.AuditActionUpdated, audit.Diff(evt.Old, evt.New))
}

func (s *AuditService) OnDeleted(ctx context.Context, evt event.UserDeleted) error {
	return s.record(ctx, evt.Meta(), evt.UserID, model.AuditActionDeleted, nil)
}

// record inserts the parent first and its children afterwards, in the order
// given, inside one unit of work. Either the whole audit exists or none of it.
func (s *AuditService) record(
	ctx context.Context,
	meta event.Metadata,
	userID int64,
	action model.AuditAction,
	changes []model.FieldChange,
) error {
	entry := &model.AuditRecord{
		UserID:   userID,
		LoggedAt: s.now(),
		Action:   action,
	}

	err := s.auditRepo.WithinTx(ctx, func(ctx context.Context, w repository.AuditWriter) error {
		auditID, err := w.InsertAuditRecord(ctx, entry)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if auditID <= 0 {
			return errors.New("insert record: store assigned no id")
		}

		for i := range changes {
			changes[i].AuditID = auditID
			if err := w.InsertFieldChange(ctx, &changes[i]); err != nil {
				return fmt.Errorf("insert change %s: %w", changes[i].Field, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.IncAuditWriteFailure(action.String())
		s.logger.Error("audit write failed",
			zap.Int64("user_id", userID),
			zap.String("action", action.String()),
			zap.String("event_id", meta.ID.String()),
			zap.Int("changes", len(changes)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s audit for user %d: %w", ErrAuditWriteFailed, action, userID, err)
	}

	metrics.IncAuditRecord(action.String())
	for _, change := range changes {
		metrics.AddAuditFieldChange(change.Field.String())
		s.logger.Debug("audit field change recorded",
			zap.Int64("audit_id", entry.ID),
			zap.String("field", change.Field.String()),
		)
	}
	entry.Changes = changes
	s.logger.Info("audit recorded",
		zap.Int64("audit_id", entry.ID),
		zap.Int64("user_id", userID),
		zap.String("action", action.String()),
		zap.String("event_id", meta.ID.String()),
		zap.Int("changes", len(changes)),
	)
	return nil
}

// List returns one page of audits, most recent first, and the total number of
// matches. Out-of-range paging is clamped, never rejected.
func (s *AuditService) List(
	ctx context.Context,
	filter AuditFilter,
	page, pageSize int,
) ([]*model.AuditRecord, int64, error) {
	page, pageSize = NormalizeAuditPagination(page, pageSize)

	startedAt := time.Now()
	defer func() {
		metrics.ObserveAuditQuery(time.Since(startedAt))
	}()

	repoFilter := repository.AuditListFilter{
		Action: filter.Action,
		UserID: filter.UserID,
		Pagination: repository.Pagination{
			Limit:  clampIntToInt32(pageSize),
			Offset: pageOffset(page, pageSize),
		},
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		repoFilter.Keyword = &term
	}

	items, err := s.auditRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("list audits: %w", err)
	}

	total, err := s.auditRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("count audits: %w", err)
	}

	return items, total, nil
}

// ListByUser returns the history of one user, deleted or not.
func (s *AuditService) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.AuditRecord, int64, error) {
	if userID <= 0 {
		return nil, 0, fmt.Errorf("%w: user id %d", ErrInvalidAuditFilter, userID)
	}
	return s.List(ctx, AuditFilter{UserID: &userID}, page, pageSize)
}

// ParseActionFilter turns a query-string action into a filter value. An empty
// string means no action filter.
func ParseActionFilter(raw string) (*model.AuditAction, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	action, err := model.MatchAuditAction(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuditFilter, err)
	}
	return &action, nil
}

func NormalizeAuditPagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = auditListDefaultPage
	}
	if pageSize <= 0 {
		pageSize = auditListDefaultSize
	}
	if pageSize > auditListMaxPageSize {
		pageSize = auditListMaxPageSize
	}
	return page, pageSize
}
