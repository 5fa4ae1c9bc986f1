package event

import (
	"time"

	"github.com/google/uuid"

	"usermanagement/internal/model"
)

type Kind string

const (
	KindUserCreated Kind = "user.created"
	KindUserUpdated Kind = "user.updated"
	KindUserDeleted Kind = "user.deleted"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUserCreated, KindUserUpdated, KindUserDeleted:
		return true
	default:
		return false
	}
}

// Event is a completed user mutation. Subject is the id the store assigned
// to the user before the event was published.
type Event interface {
	Kind() Kind
	Subject() int64
	Meta() Metadata
}

type Metadata struct {
	ID         uuid.UUID `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newMetadata() Metadata {
	return Metadata{ID: uuid.New(), OccurredAt: time.Now().UTC()}
}

type UserCreated struct {
	Metadata
	UserID int64              `json:"user_id"`
	New    model.UserSnapshot `json:"new"`
}

func NewUserCreated(userID int64, created model.UserSnapshot) UserCreated {
	return UserCreated{Metadata: newMetadata(), UserID: userID, New: created}
}

func (UserCreated) Kind() Kind       { return KindUserCreated }
func (e UserCreated) Subject() int64 { return e.UserID }
func (e UserCreated) Meta() Metadata { return e.Metadata }

type UserUpdated struct {
	Metadata
	UserID int64              `json:"user_id"`
	Old    model.UserSnapshot `json:"old"`
	New    model.UserSnapshot `json:"new"`
}

func NewUserUpdated(userID int64, old, updated model.UserSnapshot) UserUpdated {
	return UserUpdated{Metadata: newMetadata(), UserID: userID, Old: old, New: updated}
}

func (UserUpdated) Kind() Kind       { return KindUserUpdated }
func (e UserUpdated) Subject() int64 { return e.UserID }
func (e UserUpdated) Meta() Metadata { return e.Metadata }

type UserDeleted struct {
	Metadata
	UserID int64 `json:"user_id"`
}

func NewUserDeleted(userID int64) UserDeleted {
	return UserDeleted{Metadata: newMetadata(), UserID: userID}
}

func (UserDeleted) Kind() Kind       { return KindUserDeleted }
func (e UserDeleted) Subject() int64 { return e.UserID }
func (e UserDeleted) Meta() Metadata { return e.Metadata }
