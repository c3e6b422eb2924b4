package models

import "time"

// UserRole represents the closed set of roles recognised by the access layer.
// Access rules switch exhaustively over these values; adding a role is a
// compile-time-visible change.
type UserRole string

const (
	RoleSuperAdmin     UserRole = "SUPER_ADMIN"
	RoleAdmin          UserRole = "ADMIN"
	RoleAdministration UserRole = "ADMINISTRATION"
	RoleLawyer         UserRole = "LAWYER"
	RoleAssistant      UserRole = "ASSISTANT"
	RoleSale           UserRole = "SALE"
)

// KnownRole reports whether the role belongs to the recognised set.
// Unknown roles resolve to an empty access scope.
func KnownRole(r UserRole) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleAdministration, RoleLawyer, RoleAssistant, RoleSale:
		return true
	}
	return false
}

// User represents a firm member stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	DepartmentID *string    `db:"department_id" json:"department_id,omitempty"`
	SupervisorID *string    `db:"supervisor_id" json:"supervisor_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Principal is the authenticated identity the access layer reasons about.
// It is derived from JWT claims per request and never persisted.
type Principal struct {
	ID           string
	Role         UserRole
	DepartmentID string
	SupervisorID string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
