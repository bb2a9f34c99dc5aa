package model

import "github.com/gofrs/uuid/v5"

// Role of an authenticated principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// CanApproveBorrows reports whether the role may run counter operations
// (pickup, reject, return, direct borrow, sweeps).
func (r Role) CanApproveBorrows() bool { return r == RoleStaff || r == RoleAdmin }

// CanConfigureSystem reports whether the role may change inventory and policy.
func (r Role) CanConfigureSystem() bool { return r == RoleAdmin }

// Principal is the caller as supplied by the identity provider.
// A nil *Principal is a guest.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsAuthenticated is false for guests and malformed principals.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.UserID != uuid.Nil && p.Role.Valid()
}

// Owns reports whether the principal is the given user.
func (p *Principal) Owns(userID uuid.UUID) bool {
	return p.IsAuthenticated() && p.UserID == userID
}
