package shared

import (
	"fmt"
	"strconv"
)

// PersonKind distinguishes system users from external personnel.
type PersonKind string

const (
	PersonUser      PersonKind = "user"
	PersonPersonnel PersonKind = "personnel"
)

// PersonRef points at exactly one user or one personnel record.
type PersonRef struct {
	UserID      *int64 `json:"user_id,omitempty"`
	PersonnelID *int64 `json:"personnel_id,omitempty"`
}

// UserRef builds a reference to a user.
func UserRef(id int64) PersonRef { return PersonRef{UserID: &id} }

// PersonnelRef builds a reference to a personnel record.
func PersonnelRef(id int64) PersonRef { return PersonRef{PersonnelID: &id} }

// Validate enforces the exactly-one rule.
func (p PersonRef) Validate() error {
	switch {
	case p.UserID != nil && p.PersonnelID != nil:
		return fmt.Errorf("%w: person must be a user or personnel, not both", ErrInvalidInput)
	case p.UserID == nil && p.PersonnelID == nil:
		return fmt.Errorf("%w: person reference required", ErrInvalidInput)
	case p.UserID != nil && *p.UserID <= 0, p.PersonnelID != nil && *p.PersonnelID <= 0:
		return fmt.Errorf("%w: person id must be positive", ErrInvalidInput)
	}
	return nil
}

// Kind reports which side of the reference is set.
func (p PersonRef) Kind() PersonKind {
	if p.UserID != nil {
		return PersonUser
	}
	return PersonPersonnel
}

// ID returns the referenced identifier regardless of kind.
func (p PersonRef) ID() int64 {
	if p.UserID != nil {
		return *p.UserID
	}
	if p.PersonnelID != nil {
		return *p.PersonnelID
	}
	return 0
}

// Key is a stable string form used for lock keys and map lookups.
func (p PersonRef) Key() string {
	return string(p.Kind()) + ":" + strconv.FormatInt(p.ID(), 10)
}

// Equal compares two references by kind and id.
func (p PersonRef) Equal(o PersonRef) bool {
	return p.Kind() == o.Kind() && p.ID() == o.ID()
}

func (p PersonRef) String() string { return p.Key() }
