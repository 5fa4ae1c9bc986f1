package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"usermanagement/internal/event"
	"usermanagement/internal/model"
	"usermanagement/internal/repository"
	"usermanagement/internal/repository/memory"
)

type capturingPublisher struct {
	events []event.Event
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.events = append(p.events, evt)
	return p.err
}

var fixedNow = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func newTestUserService(publisher EventPublisher) (*UserService, *memory.UserRepository) {
	repo := memory.NewUserRepository()
	svc := NewUserService(repo, publisher, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func validCreateRequest() CreateUserRequest {
	return CreateUserRequest{
		Forename:  "John",
		Surname:   "Doe",
		Email:     "john.doe@example.com",
		Role:      model.UserRoleUser,
		IsActive:  true,
		BirthDate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUserService_CreatePublishesPersistedSnapshot(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{}
	svc, _ := newTestUserService(publisher)

	user, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.Positive(t, user.ID)

	require.Len(t, publisher.events, 1)
	created, ok := publisher.events[0].(event.UserCreated)
	require.True(t, ok)
	assert.Equal(t, user.ID, created.UserID)
	assert.Equal(t, user.ID, created.New.ID)
	assert.Equal(t, "john.doe@example.com", created.New.Email)
}

func TestUserService_CreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*CreateUserRequest){
		"short forename":     func(r *CreateUserRequest) { r.Forename = "J" },
		"digits in surname":  func(r *CreateUserRequest) { r.Surname = "D0e" },
		"bad email":          func(r *CreateUserRequest) { r.Email = "not-an-email" },
		"missing birth date": func(r *CreateUserRequest) { r.BirthDate = time.Time{} },
		"too young":          func(r *CreateUserRequest) { r.BirthDate = fixedNow.AddDate(-17, 0, 0) },
		"too old":            func(r *CreateUserRequest) { r.BirthDate = fixedNow.AddDate(-121, 0, 0) },
		"unknown role":       func(r *CreateUserRequest) { r.Role = model.UserRole(9) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			publisher := &capturingPublisher{}
			svc, _ := newTestUserService(publisher)
			req := validCreateRequest()
			mutate(&req)

			_, err := svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidUserInput)
			assert.Empty(t, publisher.events)
		})
	}
}

func TestUserService_CreateAcceptsNamePunctuation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestUserService(&capturingPublisher{})
	req := validCreateRequest()
	req.Forename = "Mary-Jane"
	req.Surname = "O'Neil Smith"
	req.BirthDate = fixedNow.AddDate(-18, 0, 0)

	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
}

func TestUserService_DuplicateEmailIsRejected(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{}
	svc, _ := newTestUserService(publisher)
	ctx := context.Background()

	_, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	dup := validCreateRequest()
	dup.Forename = "Jane"
	dup.Email = "JOHN.DOE@example.com"
	_, err = svc.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrEmailInUse)
	assert.Len(t, publisher.events, 1)
}

func TestUserService_UpdatePublishesOldAndNew(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{}
	svc, _ := newTestUserService(publisher)
	ctx := context.Background()

	user, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	forename := "Johnny"
	inactive := false
	updated, err := svc.Update(ctx, user.ID, UpdateUserRequest{Forename: &forename, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Johnny", updated.Forename)

	require.Len(t, publisher.events, 2)
	evt, ok := publisher.events[1].(event.UserUpdated)
	require.True(t, ok)
	assert.Equal(t, "John", evt.Old.Forename)
	assert.True(t, evt.Old.IsActive)
	assert.Equal(t, "Johnny", evt.New.Forename)
	assert.False(t, evt.New.IsActive)
}

func TestUserService_UpdateKeepsOwnEmail(t *testing.T) {
	t.Parallel()

	svc, _ := newTestUserService(&capturingPublisher{})
	ctx := context.Background()

	user, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	email := "John.Doe@example.com"
	_, err = svc.Update(ctx, user.ID, UpdateUserRequest{Email: &email})
	require.NoError(t, err)
}

func TestUserService_UpdateMissingUser(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{}
	svc, _ := newTestUserService(publisher)

	_, err := svc.Update(context.Background(), 99, UpdateUserRequest{})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.Update(context.Background(), 0, UpdateUserRequest{})
	assert.ErrorIs(t, err, ErrInvalidUserID)
	assert.Empty(t, publisher.events)
}

func TestUserService_SoftDeleteHidesUserAndPublishes(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{}
	svc, repo := newTestUserService(publisher)
	ctx := context.Background()

	user, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, user.ID))

	_, err = svc.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	stored, err := repo.FindByIDUnscoped(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)

	require.Len(t, publisher.events, 2)
	deleted, ok := publisher.events[1].(event.UserDeleted)
	require.True(t, ok)
	assert.Equal(t, user.ID, deleted.UserID)

	assert.ErrorIs(t, svc.SoftDelete(ctx, user.ID), ErrUserNotFound)
	assert.Len(t, publisher.events, 2)
}

func TestUserService_PublishFailureKeepsMutation(t *testing.T) {
	t.Parallel()

	publisher := &capturingPublisher{err: ErrAuditWriteFailed}
	svc, _ := newTestUserService(publisher)
	ctx := context.Background()

	user, err := svc.Create(ctx, validCreateRequest())
	require.ErrorIs(t, err, ErrAuditWriteFailed)
	require.NotNil(t, user)

	stored, err := svc.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "John", stored.Forename)
}

func TestUserService_ListFiltersSortsAndClamps(t *testing.T) {
	t.Parallel()

	svc, _ := newTestUserService(nil)
	ctx := context.Background()

	for _, name := range []string{"Charlie", "Bella", "Adam"} {
		req := validCreateRequest()
		req.Forename = name
		req.Email = name + "@example.com"
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)
	}

	users, total, err := svc.List(ctx, UserQuery{SortBy: "Forename", Page: -3, PageSize: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, users, 3)
	assert.Equal(t, "Adam", users[0].Forename)
	assert.Equal(t, "Charlie", users[2].Forename)

	users, total, err = svc.List(ctx, UserQuery{SearchTerm: "bell"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, users, 1)
	assert.Equal(t, "Bella", users[0].Forename)
}

func TestUserService_EndToEndAuditTrail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	users := memory.NewUserRepository()
	audits := memory.NewAuditRepository(users)

	auditSvc, err := NewAuditService(audits, zap.NewNop())
	require.NoError(t, err)
	bus := event.NewBus(zap.NewNop())
	require.NoError(t, auditSvc.Register(bus))
	bus.Seal()

	svc := NewUserService(users, bus, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }

	user, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)
	surname := "Smith"
	_, err = svc.Update(ctx, user.ID, UpdateUserRequest{Surname: &surname})
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, user.ID))

	records, total, err := auditSvc.ListByUser(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, records, 3)

	byAction := make(map[model.AuditAction]*model.AuditRecord, len(records))
	for _, record := range records {
		byAction[record.Action] = record
	}
	require.Contains(t, byAction, model.AuditActionUpdated)
	require.Len(t, byAction[model.AuditActionUpdated].Changes, 1)
	change := byAction[model.AuditActionUpdated].Changes[0]
	assert.Equal(t, model.UserFieldSurname, change.Field)
	assert.Equal(t, "Doe", *change.Before)
	assert.Equal(t, "Smith", change.After)
	assert.Len(t, byAction[model.AuditActionCreated].Changes, 6)
	assert.Empty(t, byAction[model.AuditActionDeleted].Changes)
}

func TestAgeOn(t *testing.T) {
	t.Parallel()

	birth := time.Date(2000, 6, 16, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 24, ageOn(birth, fixedNow))
	assert.Equal(t, 25, ageOn(birth, fixedNow.AddDate(0, 0, 1)))
}

func TestUserService_ValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	svc, _ := newTestUserService(nil)
	err := svc.validate(&model.User{})
	require.True(t, errors.Is(err, ErrInvalidUserInput))
	assert.Contains(t, err.Error(), "forename")
	assert.Contains(t, err.Error(), "surname")
	assert.Contains(t, err.Error(), "email is required")
	assert.Contains(t, err.Error(), "birth date is required")
}

// rendezvousUserRepo holds the first two FindByID calls until both have
// arrived, so two updates are guaranteed to start from the same row.
type rendezvousUserRepo struct {
	*memory.UserRepository

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (r *rendezvousUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	gate := r.release
	if gate != nil {
		r.arrived++
		if r.arrived == 2 {
			close(gate)
			r.release = nil
		}
	}
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return r.UserRepository.FindByID(ctx, id)
}

func TestUserService_ConcurrentUpdatesKeepTrailConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	users := memory.NewUserRepository()
	audits := memory.NewAuditRepository(users)

	auditSvc, err := NewAuditService(audits, zap.NewNop())
	require.NoError(t, err)
	bus := event.NewBus(zap.NewNop())
	require.NoError(t, auditSvc.Register(bus))
	bus.Seal()

	seed := NewUserService(users, bus, zap.NewNop())
	seed.now = func() time.Time { return fixedNow }
	user, err := seed.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	gated := &rendezvousUserRepo{UserRepository: users, release: make(chan struct{})}
	svc := NewUserService(gated, bus, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }

	forename, surname := "Alice", "Smith"
	patches := []UpdateUserRequest{{Forename: &forename}, {Surname: &surname}}

	var wg sync.WaitGroup
	errs := make([]error, len(patches))
	for i, patch := range patches {
		wg.Add(1)
		go func(i int, patch UpdateUserRequest) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, user.ID, patch)
		}(i, patch)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Forename)
	assert.Equal(t, "Smith", stored.Surname)
	assert.EqualValues(t, 3, stored.Version)

	records, total, err := auditSvc.ListByUser(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	// Replaying every audited change from oldest to newest must land on the
	// stored row.
	replayed := map[model.UserField]string{}
	for i := len(records) - 1; i >= 0; i-- {
		for _, change := range records[i].Changes {
			if records[i].Action == model.AuditActionUpdated {
				require.NotNil(t, change.Before)
				assert.Equal(t, replayed[change.Field], *change.Before, "stale before for %s", change.Field)
			}
			replayed[change.Field] = change.After
		}
	}
	assert.Equal(t, stored.Forename, replayed[model.UserFieldForename])
	assert.Equal(t, stored.Surname, replayed[model.UserFieldSurname])
}

type staleUserRepo struct {
	*memory.UserRepository
	updates int
}

func (r *staleUserRepo) Update(context.Context, *model.User) error {
	r.updates++
	return repository.ErrStaleVersion
}

func TestUserService_UpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	publisher := &capturingPublisher{}
	base, users := newTestUserService(nil)
	user, err := base.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	repo := &staleUserRepo{UserRepository: users}
	svc := NewUserService(repo, publisher, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }

	surname := "Smith"
	_, err = svc.Update(ctx, user.ID, UpdateUserRequest{Surname: &surname})
	require.ErrorIs(t, err, ErrUpdateConflict)
	assert.Equal(t, maxUpdateAttempts, repo.updates)
	assert.Empty(t, publisher.events)
}

func TestPageOffset(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 0, pageOffset(1, 10))
	assert.EqualValues(t, 0, pageOffset(-3, 10))
	assert.EqualValues(t, 40, pageOffset(3, 20))
	assert.EqualValues(t, math.MaxInt32, pageOffset(math.MaxInt, 20))
	assert.EqualValues(t, math.MaxInt32, pageOffset(math.MaxInt32/10+2, 10))
}
