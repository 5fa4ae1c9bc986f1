package model

import (
	"fmt"
	"strings"
	"time"
)

type UserRole int

const (
	UserRoleUser UserRole = iota
	UserRoleAdmin
)

var userRoleNames = map[UserRole]string{
	UserRoleUser:  "User",
	UserRoleAdmin: "Admin",
}

func (r UserRole) String() string {
	if name, ok := userRoleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("UserRole(%d)", int(r))
}

func (r UserRole) Valid() bool {
	_, ok := userRoleNames[r]
	return ok
}

// ParseUserRole reads a persisted role name, which must match exactly.
func ParseUserRole(raw string) (UserRole, error) {
	for role, name := range userRoleNames {
		if name == raw {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUserRole, raw)
}

// MatchUserRole accepts a role name from user input, ignoring case and
// surrounding space.
func MatchUserRole(raw string) (UserRole, error) {
	value := strings.TrimSpace(raw)
	for role, name := range userRoleNames {
		if strings.EqualFold(name, value) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUserRole, raw)
}

func (r UserRole) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUserRole, int(r))
	}
	return []byte(r.String()), nil
}

func (r *UserRole) UnmarshalText(text []byte) error {
	parsed, err := MatchUserRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UserSnapshot is the tracked state of a user at one point in time. It is a
// value type; copies taken for diffing never observe later mutations.
type UserSnapshot struct {
	ID        int64     `json:"id"`
	Forename  string    `json:"forename"`
	Surname   string    `json:"surname"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	IsActive  bool      `json:"is_active"`
	BirthDate time.Time `json:"birth_date"`
}

// User is the stored row. Version increases with every write and guards
// read-modify-write cycles against concurrent updates.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Forename     string    `db:"forename" json:"forename"`
	Surname      string    `db:"surname" json:"surname"`
	Email        string    `db:"email" json:"email"`
	Role         UserRole  `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	BirthDate    time.Time `db:"birth_date" json:"birth_date"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Deleted      bool      `db:"deleted" json:"-"`
	Version      int64     `db:"version" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) Snapshot() UserSnapshot {
	if u == nil {
		return UserSnapshot{}
	}
	return UserSnapshot{
		ID:        u.ID,
		Forename:  u.Forename,
		Surname:   u.Surname,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		BirthDate: u.BirthDate,
	}
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}
