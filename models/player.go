package models

import "strings"

// Role is the durable identity of a participant. Connection ids change on
// every reconnect, roles do not.
type Role string

const (
	RoleMale   Role = "male"
	RoleFemale Role = "female"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	return r == RoleMale || r == RoleFemale
}

// Partner returns the other role of the pair.
func (r Role) Partner() Role {
	switch r {
	case RoleMale:
		return RoleFemale
	case RoleFemale:
		return RoleMale
	default:
		return ""
	}
}

// Participant is the local player's identity inside a session.
type Participant struct {
	Role         Role   `json:"role"`
	ConnectionID string `json:"connectionId,omitempty"` // assigned by the relay, changes per connection
}
