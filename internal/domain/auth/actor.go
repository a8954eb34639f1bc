package auth

import "context"

// Role is the staff role of an actor.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleReception  Role = "reception"
	RoleTechnician Role = "technician"
	RoleFinance    Role = "finance"
)

// Actor identifies who performs an operation. It travels in the request
// context and is never stored in package state.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// System is the actor used by background jobs and CLI tools.
var System = Actor{ID: "system", Name: "system", Role: RoleAdmin}

// Allows reports whether the actor's role is one of roles. Admins are
// allowed everything.
func (a Actor) Allows(roles ...Role) bool {
	if a.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored in ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
