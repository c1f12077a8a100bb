// Package roles manages role assignments and resolves what a user may do.
package roles

import "github.com/aristath/scholar/internal/domain"

// Role names
const (
	RoleSchoolAdmin = "school_admin"
	RoleSectorAdmin = "sector_admin"
	RoleRegionAdmin = "region_admin"
	RoleSuperadmin  = "superadmin"
	RoleTeacher     = "teacher"
)

// Permissions
const (
	PermApprovalSubmit    = "approval:submit"
	PermApprovalSweep     = "approval:sweep"
	PermRatingCompute     = "rating:compute"
	PermRatingPublish     = "rating:publish"
	PermRatingOverride    = "rating:override"
	PermRatingView        = "rating:view"
	PermRatingRecord      = "rating:record"
	PermRatingConfigWrite = "rating_config:write"
	PermInstitutionWrite  = "institution:write"
	PermRoleAssign        = "role:assign"

	// Platform-wide tables; checked without an institution chain
	PermRatingTablesWrite = "rating_tables:write"
	PermAcademicYearWrite = "academic_year:write"
	PermWorkflowWrite     = "approval_workflow:write"
)

// ActPermission is the permission to act on an approval request at level
func ActPermission(level domain.Level) string {
	return "approval:act:" + string(level)
}

// RolePermissions is the default policy. Patterns ending in "*" match by prefix.
var RolePermissions = map[string][]string{
	RoleTeacher: {
		PermApprovalSubmit,
		PermRatingView,
	},
	RoleSchoolAdmin: {
		"approval:act:school",
		PermApprovalSubmit,
		PermRatingCompute,
		PermRatingRecord,
		PermRatingView,
	},
	RoleSectorAdmin: {
		"approval:act:sector",
		PermApprovalSubmit,
		"rating:*",
		PermRatingConfigWrite,
	},
	RoleRegionAdmin: {
		"approval:act:region",
		"approval:sweep",
		"rating:*",
		"rating_config:*",
		PermInstitutionWrite,
	},
	RoleSuperadmin: {
		"*",
	},
}

// KnownRole reports whether role is part of the default policy
func KnownRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
