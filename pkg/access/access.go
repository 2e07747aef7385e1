// Package access describes the authenticated caller of a request.
package access

import (
	"context"
	"slices"
)

// Access is the caller identity resolved by an authentication middleware.
// It is read-only once placed in a request context.
type Access struct {
	Subject  string         `json:"sub"`
	TenantID string         `json:"tenant_id"`
	Scopes   []string       `json:"scopes"`
	Claims   map[string]any `json:"claims,omitempty"`
}

// HasScopes reports whether every required scope was granted.
func (a *Access) HasScopes(required ...string) bool {
	if a == nil {
		return len(required) == 0
	}
	for _, s := range required {
		if !slices.Contains(a.Scopes, s) {
			return false
		}
	}
	return true
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying a.
func NewContext(ctx context.Context, a *Access) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the Access stored in ctx, if any.
func FromContext(ctx context.Context) (*Access, bool) {
	a, ok := ctx.Value(ctxKey{}).(*Access)
	return a, ok && a != nil
}
