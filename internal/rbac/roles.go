package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleSupervisor  = "supervisor"
	RoleAgent       = "agent"
	RoleService     = "service" // hidden role for trunk/IVR integrations
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }

// CanAccessTenant reports whether a caller of role in callerTenant may touch a resource
// owned by resourceTenant.
func CanAccessTenant(role, callerTenant, resourceTenant string) bool {
	if IsSuperAdmin(role) {
		return true
	}
	return callerTenant != "" && callerTenant == resourceTenant
}
