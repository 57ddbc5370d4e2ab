package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionBillingRun allows starting a term billing run.
	PermissionBillingRun Permission = "billing:run"

	// PermissionBillingRead allows viewing billing run history and exports.
	PermissionBillingRead Permission = "billing:read"

	// PermissionAcademicYearRollover allows promoting every active student.
	PermissionAcademicYearRollover Permission = "academic_year:rollover"

	// PermissionStudentsRead allows viewing student lists, balances and ledgers.
	PermissionStudentsRead Permission = "students:read"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionBillingRun,
	PermissionBillingRead,
	PermissionAcademicYearRollover,
	PermissionStudentsRead,
}
