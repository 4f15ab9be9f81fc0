// Package actor identifies who performed a stock movement.
//
// The HTTP layer resolves the actor from the verified request identity and
// hands its ID to the services explicitly. Services never read it from the
// context themselves.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor recorded for movements nobody initiated by hand,
// e.g. allocations triggered by an approved-request event.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	// Role is informational only; authorization happens upstream.
	Role string `json:"role,omitempty"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil || a.IsSystem() {
		return "system"
	}
	if a.Email == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.ID, a.Email)
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == SystemID
}

// SystemActor returns an Actor representing the system itself.
func SystemActor() *Actor {
	return &Actor{
		ID:    SystemID,
		Name:  "System",
		Email: "system@medflow.local",
	}
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// IDFromContext returns the actor ID or "" when nobody is attached.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.ID
	}
	return ""
}
