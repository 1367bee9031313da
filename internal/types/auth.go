package types

// Role classifies what a caller is allowed to do.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDepositor Role = "DEPOSITOR"
)

// AuthContext is passed explicitly into every administrative operation.
// There is no ambient global permission state.
type AuthContext struct {
	Subject string
	Role    Role
}

// IsAdmin reports whether the context carries administrative rights.
func (a AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}
