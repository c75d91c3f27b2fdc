package shared

import "context"

// Role names as resolved by the external auth middleware.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleStaff      = "staff"
)

// Identity describes the acting user as resolved by the auth collaborator.
type Identity struct {
	UserID int64
	Role   string
}

// CanLockPeriods reports whether the identity may lock accounting periods.
func (id Identity) CanLockPeriods() bool {
	return id.Role == RoleOwner || id.Role == RoleAdmin || id.Role == RoleAccountant
}

// CanUnlockPeriods reports whether the identity may open amendment windows.
func (id Identity) CanUnlockPeriods() bool {
	return id.Role == RoleOwner || id.Role == RoleAdmin
}

type orgContextKey struct{}

type identityContextKey struct{}

// ContextWithOrg stores the tenant organisation id in context.
func ContextWithOrg(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgID)
}

// OrgFromContext extracts the tenant organisation id from context.
// Zero means the request was not tenant-scoped.
func OrgFromContext(ctx context.Context) int64 {
	orgID, _ := ctx.Value(orgContextKey{}).(int64)
	return orgID
}

// ContextWithIdentity stores the acting identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the acting identity from context.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
