// Package memory keeps users and their audit trail in process memory. It
// honours the same soft-delete and append-only contracts as the postgres
// repositories and backs the "memory" storage driver and unit tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

type UserRepository struct {
	mu     sync.RWMutex
	users  map[int64]*model.User
	nextID int64
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*model.User)}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok || user.Deleted {
		return nil, repository.ErrNotFound
	}
	return user.Clone(), nil
}

func (r *UserRepository) FindByIDUnscoped(_ context.Context, id int64) (*model.User, error) {
	user, ok := r.lookupUnscoped(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) lookupUnscoped(id int64) (*model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, false
	}
	return user.Clone(), true
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if user := r.findLiveByEmailLocked(email, 0); user != nil {
		return user.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) findLiveByEmailLocked(email string, exceptID int64) *model.User {
	needle := strings.TrimSpace(email)
	for _, user := range r.users {
		if user.Deleted || user.ID == exceptID {
			continue
		}
		if strings.EqualFold(user.Email, needle) {
			return user
		}
	}
	return nil
}

func (r *UserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findLiveByEmailLocked(user.Email, 0) != nil {
		return repository.ErrConflict
	}

	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.Deleted = false
	user.Version = 1
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	r.users[user.ID] = user.Clone()
	return nil
}

func (r *UserRepository) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok || existing.Deleted {
		return repository.ErrNotFound
	}
	if existing.Version != user.Version {
		return repository.ErrStaleVersion
	}
	if r.findLiveByEmailLocked(user.Email, user.ID) != nil {
		return repository.ErrConflict
	}

	user.Version = existing.Version + 1
	user.UpdatedAt = time.Now().UTC()
	stored := user.Clone()
	stored.PasswordHash = existing.PasswordHash
	stored.CreatedAt = existing.CreatedAt
	stored.Deleted = false
	r.users[user.ID] = stored
	return nil
}

func (r *UserRepository) SoftDelete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[id]
	if !ok || existing.Deleted {
		return repository.ErrNotFound
	}
	existing.Deleted = true
	existing.Version++
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepository) List(_ context.Context, filter repository.UserListFilter) ([]*model.User, error) {
	r.mu.RLock()
	matched := r.matchLocked(filter)
	r.mu.RUnlock()

	sortUsers(matched, filter.SortBy, filter.SortDesc)
	page := paginate(len(matched), filter.Pagination)
	return matched[page.start:page.end], nil
}

func (r *UserRepository) Count(_ context.Context, filter repository.UserListFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.matchLocked(filter))), nil
}

func (r *UserRepository) matchLocked(filter repository.UserListFilter) []*model.User {
	keyword := ""
	if filter.Keyword != nil {
		keyword = strings.ToLower(strings.TrimSpace(*filter.Keyword))
	}

	out := make([]*model.User, 0, len(r.users))
	for _, user := range r.users {
		if user.Deleted {
			continue
		}
		if filter.IsActive != nil && user.IsActive != *filter.IsActive {
			continue
		}
		if keyword != "" && !matchesKeyword(user, keyword) {
			continue
		}
		out = append(out, user.Clone())
	}
	return out
}

func matchesKeyword(user *model.User, lowered string) bool {
	return strings.Contains(strings.ToLower(user.Forename), lowered) ||
		strings.Contains(strings.ToLower(user.Surname), lowered) ||
		strings.Contains(strings.ToLower(user.Email), lowered)
}

func sortUsers(users []*model.User, by repository.UserSortField, desc bool) {
	key := func(u *model.User) string {
		switch by {
		case repository.UserSortByForename:
			return u.Forename
		case repository.UserSortBySurname:
			return u.Surname
		case repository.UserSortByEmail:
			return u.Email
		default:
			return ""
		}
	}

	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if ka, kb := key(a), key(b); ka != kb {
			if desc {
				return ka > kb
			}
			return ka < kb
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

type window struct {
	start int
	end   int
}

func paginate(total int, page repository.Pagination) window {
	limit := int(page.Limit)
	offset := int(page.Offset)
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return window{start: offset, end: end}
}
