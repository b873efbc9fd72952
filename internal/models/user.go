package models

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Caller is the authenticated end user behind a request, taken from the JWT.
type Caller struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
