// Package audit holds the pure comparison logic behind the user change history.
package audit

import (
	"usermanagement/internal/model"
)

const birthDateLayout = "2006-01-02"

// Diff compares two snapshots field by field on their stringified form and
// returns one change per differing field, in model.TrackedFields order. The
// AuditID of every returned change is zero; the caller assigns it.
func Diff(before, after model.UserSnapshot) []model.FieldChange {
	return diff(before, after, false)
}

// DiffCreated diffs a freshly created user against the empty sentinel.
// Every tracked field is compared against "", so zero-valued fields that
// still stringify to text (IsActive=false -> "False") are recorded.
func DiffCreated(after model.UserSnapshot) []model.FieldChange {
	return diff(model.UserSnapshot{}, after, true)
}

func diff(before, after model.UserSnapshot, created bool) []model.FieldChange {
	changes := make([]model.FieldChange, 0, len(model.TrackedFields))
	for _, field := range model.TrackedFields {
		oldValue := ""
		if !created {
			oldValue = Stringify(field, before)
		}
		newValue := Stringify(field, after)
		if oldValue == newValue {
			continue
		}

		prev := oldValue
		changes = append(changes, model.FieldChange{
			Field:  field,
			Before: &prev,
			After:  newValue,
		})
	}
	return changes
}

// Stringify renders one tracked field the way it is stored in the history.
func Stringify(field model.UserField, snapshot model.UserSnapshot) string {
	switch field {
	case model.UserFieldForename:
		return snapshot.Forename
	case model.UserFieldSurname:
		return snapshot.Surname
	case model.UserFieldEmail:
		return snapshot.Email
	case model.UserFieldRole:
		return snapshot.Role.String()
	case model.UserFieldIsActive:
		return formatBool(snapshot.IsActive)
	case model.UserFieldBirthDate:
		return snapshot.BirthDate.Format(birthDateLayout)
	default:
		return ""
	}
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
