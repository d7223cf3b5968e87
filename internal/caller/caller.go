package caller

import (
	"context"
	"strings"
)

// Role is a coarse permission flag carried by an authenticated caller.
type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// Caller identifies who is invoking an operation. Services receive it explicitly.
type Caller struct {
	UserID string
	Email  string
	Roles  []Role
}

// New builds a caller, normalising role names and dropping unknown ones.
func New(userID, email string, roles ...string) Caller {
	c := Caller{UserID: strings.TrimSpace(userID), Email: strings.TrimSpace(email)}
	for _, raw := range roles {
		switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
		case RoleClient, RoleStaff, RoleAdmin:
			if !c.HasRole(r) {
				c.Roles = append(c.Roles, r)
			}
		}
	}
	return c
}

// Authenticated reports whether the caller carries a user id.
func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

// HasRole reports whether the caller holds any of the given roles.
func (c Caller) HasRole(roles ...Role) bool {
	for _, have := range c.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsStaff is true for staff and admin callers.
func (c Caller) IsStaff() bool {
	return c.HasRole(RoleStaff, RoleAdmin)
}

// IsAdmin is true for admin callers.
func (c Caller) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// IsOwnerOf reports whether the caller is the given case owner.
func (c Caller) IsOwnerOf(ownerUserID string) bool {
	return c.UserID != "" && c.UserID == ownerUserID
}

type ctxKey string

const callerKey ctxKey = "casework.caller"

// WithCaller stores the caller in ctx. Only transport code should call this.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// FromContext extracts the caller if one was stored.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok && c.Authenticated()
}
