package models

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether role is one the floor knows about.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
