package domain

import "context"

type tenantKey struct{}

const DefaultTenant = "default"

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns DefaultTenant when nothing was resolved upstream.
func TenantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}

// SameTenant reports whether a record owned by tenantID is visible from ctx.
// Rows written before tenants existed have an empty id and belong to DefaultTenant.
func SameTenant(ctx context.Context, tenantID string) bool {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	return tenantID == TenantFrom(ctx)
}
