package models

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// Actor is whoever triggers an operation.
type Actor struct {
	ID    string
	Email string
	Role  Role
}

// SystemActor is used by background jobs and provider callbacks.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }

func (a Actor) IsStaff() bool { return a.Role == RoleOperator || a.Role == RoleSystem }
