package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"usermanagement/internal/event"
	"usermanagement/internal/metrics"
	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

const (
	defaultListPage     = 1
	defaultListPageSize = 10
	maxListPageSize     = 20

	nameMinLength  = 2
	nameMaxLength  = 50
	emailMaxLength = 100
	minUserAge     = 18
	maxUserAge     = 120

	maxUpdateAttempts = 3
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrInvalidUserInput = errors.New("invalid user input")
	ErrEmailInUse       = errors.New("email already in use")
	ErrUpdateConflict   = errors.New("user was modified concurrently")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)

// EventPublisher receives one event per committed user mutation.
type EventPublisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

type CreateUserRequest struct {
	Forename  string
	Surname   string
	Email     string
	Role      model.UserRole
	IsActive  bool
	BirthDate time.Time
}

// UpdateUserRequest is a patch: nil fields keep their stored value.
type UpdateUserRequest struct {
	Forename  *string
	Surname   *string
	Email     *string
	Role      *model.UserRole
	IsActive  *bool
	BirthDate *time.Time
}

type UserQuery struct {
	SearchTerm string
	IsActive   *bool
	SortBy     string
	SortDesc   bool
	Page       int
	PageSize   int
}

type UserService struct {
	userRepo  repository.UserRepository
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewUserService(userRepo repository.UserRepository, publisher EventPublisher, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		userRepo:  userRepo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if id <= 0 {
		return nil, ErrInvalidUserID
	}

	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

func (s *UserService) List(ctx context.Context, query UserQuery) ([]*model.User, int64, error) {
	page, pageSize := NormalizeListPagination(query.Page, query.PageSize)

	repoFilter := repository.UserListFilter{
		IsActive: query.IsActive,
		SortBy:   parseUserSort(query.SortBy),
		SortDesc: query.SortDesc,
		Pagination: repository.Pagination{
			Limit:  clampIntToInt32(pageSize),
			Offset: pageOffset(page, pageSize),
		},
	}
	if term := strings.TrimSpace(query.SearchTerm); term != "" {
		repoFilter.Keyword = &term
	}

	users, err := s.userRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.userRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// Create persists a new user and then publishes UserCreated. If publishing
// fails the user stays created and is returned together with the error.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	user := &model.User{
		Forename:  strings.TrimSpace(req.Forename),
		Surname:   strings.TrimSpace(req.Surname),
		Email:     strings.TrimSpace(req.Email),
		Role:      req.Role,
		IsActive:  req.IsActive,
		BirthDate: dateOnly(req.BirthDate),
	}
	if err := s.validate(user); err != nil {
		return nil, err
	}

	if err := s.ensureEmailAvailable(ctx, user.Email, 0); err != nil {
		return nil, err
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	metrics.IncUserMutation(string(event.KindUserCreated))
	s.logger.Info("user created", zap.Int64("user_id", user.ID))

	return user, s.publish(ctx, event.NewUserCreated(user.ID, user.Snapshot()))
}

// Update applies the patch, persists it and publishes UserUpdated with the
// snapshots taken before and after. A patch that changes nothing is still
// saved and published. When another write lands between the read and the
// save, the patch is re-applied to the fresh row so the published old
// snapshot is always the state the write replaced.
func (s *UserService) Update(ctx context.Context, id int64, req UpdateUserRequest) (*model.User, error) {
	if id <= 0 {
		return nil, ErrInvalidUserID
	}

	for attempt := 1; ; attempt++ {
		user, old, err := s.tryUpdate(ctx, id, req)
		if errors.Is(err, repository.ErrStaleVersion) {
			if attempt < maxUpdateAttempts {
				s.logger.Debug("user changed during update, retrying",
					zap.Int64("user_id", id),
					zap.Int("attempt", attempt),
				)
				continue
			}
			s.logger.Warn("user update lost to concurrent writes", zap.Int64("user_id", id))
			return nil, ErrUpdateConflict
		}
		if err != nil {
			return nil, err
		}

		metrics.IncUserMutation(string(event.KindUserUpdated))
		s.logger.Info("user updated", zap.Int64("user_id", user.ID))

		return user, s.publish(ctx, event.NewUserUpdated(user.ID, old, user.Snapshot()))
	}
}

func (s *UserService) tryUpdate(ctx context.Context, id int64, req UpdateUserRequest) (*model.User, model.UserSnapshot, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.UserSnapshot{}, ErrUserNotFound
		}
		return nil, model.UserSnapshot{}, err
	}

	old := user.Snapshot()
	applyUserUpdate(user, req)
	if err := s.validate(user); err != nil {
		return nil, old, err
	}

	if err := s.ensureEmailAvailable(ctx, user.Email, user.ID); err != nil {
		return nil, old, err
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, old, ErrUserNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, old, ErrEmailInUse
		default:
			return nil, old, err
		}
	}
	return user, old, nil
}

func (s *UserService) SoftDelete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidUserID
	}

	if err := s.userRepo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	metrics.IncUserMutation(string(event.KindUserDeleted))
	s.logger.Info("user soft deleted", zap.Int64("user_id", id))

	return s.publish(ctx, event.NewUserDeleted(id))
}

func (s *UserService) publish(ctx context.Context, evt event.Event) error {
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("user mutation committed but event handling failed",
			zap.String("kind", string(evt.Kind())),
			zap.Int64("user_id", evt.Subject()),
			zap.String("event_id", evt.Meta().ID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *UserService) ensureEmailAvailable(ctx context.Context, email string, selfID int64) error {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		s.logger.Warn("email already in use", zap.Int64("owner_id", existing.ID))
		return ErrEmailInUse
	default:
		return nil
	}
}

func (s *UserService) validate(user *model.User) error {
	problems := make([]string, 0, 4)

	problems = appendNameProblems(problems, "forename", user.Forename)
	problems = appendNameProblems(problems, "surname", user.Surname)

	switch {
	case user.Email == "":
		problems = append(problems, "email is required")
	case utf8.RuneCountInString(user.Email) > emailMaxLength:
		problems = append(problems, fmt.Sprintf("email must be at most %d characters", emailMaxLength))
	default:
		if addr, err := mail.ParseAddress(user.Email); err != nil || addr.Address != user.Email {
			problems = append(problems, "email is not a valid address")
		}
	}

	if !user.Role.Valid() {
		problems = append(problems, "role is not recognised")
	}

	if user.BirthDate.IsZero() {
		problems = append(problems, "birth date is required")
	} else if age := ageOn(user.BirthDate, s.now()); age < minUserAge || age > maxUserAge {
		problems = append(problems, fmt.Sprintf("age must be between %d and %d", minUserAge, maxUserAge))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidUserInput, strings.Join(problems, "; "))
}

func appendNameProblems(problems []string, label, value string) []string {
	length := utf8.RuneCountInString(value)
	if length < nameMinLength || length > nameMaxLength {
		problems = append(problems, fmt.Sprintf("%s must be between %d and %d characters", label, nameMinLength, nameMaxLength))
	}
	if value != "" && !namePattern.MatchString(value) {
		problems = append(problems, label+" may only contain letters, spaces, hyphens and apostrophes")
	}
	return problems
}

// ageOn counts completed years, one less if the birthday has not come round
// yet this year.
func ageOn(birthDate, today time.Time) int {
	age := today.Year() - birthDate.Year()
	if today.Month() < birthDate.Month() || (today.Month() == birthDate.Month() && today.Day() < birthDate.Day()) {
		age--
	}
	return age
}

func applyUserUpdate(user *model.User, req UpdateUserRequest) {
	if req.Forename != nil {
		user.Forename = strings.TrimSpace(*req.Forename)
	}
	if req.Surname != nil {
		user.Surname = strings.TrimSpace(*req.Surname)
	}
	if req.Email != nil {
		user.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.BirthDate != nil {
		user.BirthDate = dateOnly(*req.BirthDate)
	}
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseUserSort(raw string) repository.UserSortField {
	switch repository.UserSortField(strings.ToLower(strings.TrimSpace(raw))) {
	case repository.UserSortByForename:
		return repository.UserSortByForename
	case repository.UserSortBySurname:
		return repository.UserSortBySurname
	case repository.UserSortByEmail:
		return repository.UserSortByEmail
	default:
		return repository.UserSortByID
	}
}

func NormalizeListPagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = defaultListPage
	}
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	if pageSize > maxListPageSize {
		pageSize = maxListPageSize
	}
	return page, pageSize
}

// pageOffset saturates at MaxInt32 instead of overflowing, so an absurd page
// number yields an empty page rather than wrapping back to the first one.
func pageOffset(page, pageSize int) int32 {
	if page <= 1 || pageSize <= 0 {
		return 0
	}
	if page-1 > math.MaxInt32/pageSize {
		return math.MaxInt32
	}
	return int32((page - 1) * pageSize) // #nosec G115 -- bounded above.
}

func clampIntToInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
