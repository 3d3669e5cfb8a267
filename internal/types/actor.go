package types

// Role is the authorization role carried by an authenticated principal.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleRider    Role = "rider"
	RoleAdmin    Role = "admin"
	// RoleSystem is used for background workers and gateway callbacks.
	RoleSystem Role = "system"
)

// Actor identifies who performed an action.
type Actor struct {
	Role Role `json:"role"`
	ID   ID   `json:"id,omitempty"`
}

var SystemActor = Actor{Role: RoleSystem}
