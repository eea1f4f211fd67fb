package models

// RelationshipCategory names a kind of record that references a client
type RelationshipCategory string

const (
	CategoryPolicies     RelationshipCategory = "policies"
	CategoryAppointments RelationshipCategory = "appointments"
	CategoryClaims       RelationshipCategory = "claims"
)

// RelationshipCategories lists every category in reassignment order.
var RelationshipCategories = []RelationshipCategory{
	CategoryPolicies,
	CategoryAppointments,
	CategoryClaims,
}

// RelationshipSnapshot counts the records referencing one client
type RelationshipSnapshot struct {
	ClientID     string `json:"client_id" db:"client_id"`
	Policies     int    `json:"policies" db:"policies"`
	Appointments int    `json:"appointments" db:"appointments"`
	Claims       int    `json:"claims" db:"claims"`
}

func (s RelationshipSnapshot) Total() int {
	return s.Policies + s.Appointments + s.Claims
}

func (s RelationshipSnapshot) Count(category RelationshipCategory) int {
	switch category {
	case CategoryPolicies:
		return s.Policies
	case CategoryAppointments:
		return s.Appointments
	case CategoryClaims:
		return s.Claims
	}
	return 0
}

// Add increments the count for category by n.
func (s *RelationshipSnapshot) Add(category RelationshipCategory, n int) {
	switch category {
	case CategoryPolicies:
		s.Policies += n
	case CategoryAppointments:
		s.Appointments += n
	case CategoryClaims:
		s.Claims += n
	}
}
