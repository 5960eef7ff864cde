package domain

import (
	"context"

	"github.com/google/uuid"
)

type tenantKey struct{}

// WithTenant attaches the request tenant to the context. Every core
// query is scoped to this identifier; only administrative recalculation
// paths run without one, and they say so explicitly.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom extracts the tenant from the context.
func TenantFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantKey{}).(uuid.UUID)
	return id, ok
}

// RequireTenant extracts the tenant or returns a validation error.
func RequireTenant(ctx context.Context) (uuid.UUID, error) {
	id, ok := TenantFrom(ctx)
	if !ok || id == uuid.Nil {
		return uuid.Nil, Validationf("missing tenant in request context")
	}
	return id, nil
}
