package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownAuditAction = errors.New("unknown audit action")
	ErrUnknownUserField   = errors.New("unknown user field")
	ErrUnknownUserRole    = errors.New("unknown user role")
)

type AuditAction int

const (
	AuditActionCreated AuditAction = iota + 1
	AuditActionUpdated
	AuditActionDeleted
)

var auditActionNames = map[AuditAction]string{
	AuditActionCreated: "Created",
	AuditActionUpdated: "Updated",
	AuditActionDeleted: "Deleted",
}

func (a AuditAction) String() string {
	if name, ok := auditActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AuditAction(%d)", int(a))
}

func (a AuditAction) Valid() bool {
	_, ok := auditActionNames[a]
	return ok
}

// ParseAuditAction maps persisted action text back onto the closed vocabulary.
// The match is exact: anything else in storage is a data-integrity error.
func ParseAuditAction(raw string) (AuditAction, error) {
	for action, name := range auditActionNames {
		if name == raw {
			return action, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAuditAction, raw)
}

// MatchAuditAction is the lenient form for user input: surrounding space and
// letter case are ignored.
func MatchAuditAction(raw string) (AuditAction, error) {
	value := strings.TrimSpace(raw)
	for action, name := range auditActionNames {
		if strings.EqualFold(name, value) {
			return action, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAuditAction, raw)
}

func (a AuditAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAuditAction, int(a))
	}
	return []byte(a.String()), nil
}

type UserField int

const (
	UserFieldForename UserField = iota + 1
	UserFieldSurname
	UserFieldEmail
	UserFieldRole
	UserFieldIsActive
	UserFieldBirthDate
)

// TrackedFields is the canonical diff and write order.
var TrackedFields = []UserField{
	UserFieldForename,
	UserFieldSurname,
	UserFieldEmail,
	UserFieldRole,
	UserFieldIsActive,
	UserFieldBirthDate,
}

var userFieldNames = map[UserField]string{
	UserFieldForename:  "Forename",
	UserFieldSurname:   "Surname",
	UserFieldEmail:     "Email",
	UserFieldRole:      "Role",
	UserFieldIsActive:  "IsActive",
	UserFieldBirthDate: "BirthDate",
}

func (f UserField) String() string {
	if name, ok := userFieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("UserField(%d)", int(f))
}

func (f UserField) Valid() bool {
	_, ok := userFieldNames[f]
	return ok
}

// ParseUserField is exact, like ParseAuditAction.
func ParseUserField(raw string) (UserField, error) {
	for field, name := range userFieldNames {
		if name == raw {
			return field, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUserField, raw)
}

func (f UserField) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUserField, int(f))
	}
	return []byte(f.String()), nil
}

// AuditRecord is one entry of the append-only user history. Changes is
// populated on reads only.
type AuditRecord struct {
	ID       int64         `db:"id" json:"id"`
	UserID   int64         `db:"user_id" json:"user_id"`
	LoggedAt time.Time     `db:"logged_at" json:"logged_at"`
	Action   AuditAction   `db:"action" json:"action"`
	Changes  []FieldChange `db:"-" json:"changes"`
}

type FieldChange struct {
	ID      int64     `db:"id" json:"id"`
	AuditID int64     `db:"audit_id" json:"audit_id"`
	Field   UserField `db:"field" json:"field_name"`
	Before  *string   `db:"before_value" json:"before"`
	After   string    `db:"after_value" json:"after"`
}
