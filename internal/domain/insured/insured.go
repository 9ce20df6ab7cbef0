// Package insured defines the insured-person entity and its coverage classification.
package insured

import "time"

// Status represents the administrative state of an insured person
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// PersonType classifies the coverage tier of an insured person.
// Employees are fully covered by the insurer; family members carry a
// co-payment share.
type PersonType string

const (
	TypeEmployee     PersonType = "employee"
	TypeFamilyMember PersonType = "family_member"
)

// Valid reports whether the person type is one of the known variants
func (t PersonType) Valid() bool {
	return t == TypeEmployee || t == TypeFamilyMember
}

// Person represents a covered individual
type Person struct {
	ID          string
	Name        string
	DateOfBirth time.Time
	Status      Status
	Type        PersonType
	CreatedAt   time.Time
}

// IsActive reports whether prescriptions may be fulfilled for this person
func (p *Person) IsActive() bool {
	return p.Status == StatusActive
}
