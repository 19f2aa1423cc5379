package domain

// Role enumerates caller roles carried in bearer tokens.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleBusiness Role = "business"
	RoleAdmin    Role = "admin"
	RoleViewer   Role = "viewer"
)

// Principal is the authenticated caller.
type Principal struct {
	SubjectID string
	Role      Role
}
