package domain

// Role is the authorization role stored against a user.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleEstateAdmin Role = "estate_admin"
	RoleUser        Role = "user"
)

// User is the subset of the estate member record the settlement core needs.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	EstateID string `json:"estate_id"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// CanManageCharges reports whether the user may create and list every charge of an estate.
func (u *User) CanManageCharges() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleEstateAdmin)
}
