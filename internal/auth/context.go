// ABOUTME: Actor identity propagation through request contexts
// ABOUTME: Provides WithActor/FromContext for handlers to read the verified identity

package auth

import (
	"context"
)

// Actor is the verified identity performing the current operation. It is
// populated by the HTTP middleware; domain services receive the user ID
// as an explicit parameter and never look it up ambiently.
type Actor struct {
	UserID   string
	Username string
}

// actorKey is the key type for storing Actor in context.Context.
type actorKey struct{}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext retrieves the Actor from the context, returning nil if not present.
func FromContext(ctx context.Context) *Actor {
	val := ctx.Value(actorKey{})
	if val == nil {
		return nil
	}
	actor, ok := val.(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// MustFromContext retrieves the Actor from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Actor {
	actor := FromContext(ctx)
	if actor == nil {
		panic("auth: Actor not found in context")
	}
	return actor
}
