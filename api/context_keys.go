package api

import "context"

// contextKey is a private type to prevent context key collisions across
// packages. Only this package can create keys, so handler-visible identity
// values cannot be injected from outside the auth middleware.
type contextKey string

const (
	// ContextKeyUsername stores the authenticated username (string).
	ContextKeyUsername contextKey = "username"

	// ContextKeyOrganizationID stores the caller's organization (string).
	// Every storage read and write downstream is scoped by this value.
	ContextKeyOrganizationID contextKey = "organization_id"
)

// GetUsername extracts the authenticated username from the context.
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextKeyUsername).(string)
	return username, ok
}

// GetOrganizationID extracts the caller's organization from the context.
func GetOrganizationID(ctx context.Context) (string, bool) {
	org, ok := ctx.Value(ContextKeyOrganizationID).(string)
	return org, ok
}

// WithUsername creates a new context carrying the username value.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// WithOrganizationID creates a new context carrying the organization value.
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, ContextKeyOrganizationID, organizationID)
}
