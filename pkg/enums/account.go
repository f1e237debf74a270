package enums

import "fmt"

// AccountStatus gates whether an account may authenticate.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// ServiceRole is carried by service tokens on the internal routes.
type ServiceRole string

const (
	ServiceRoleWorker ServiceRole = "worker"
	ServiceRoleAdmin  ServiceRole = "admin"
)

func (r ServiceRole) IsValid() bool {
	return r == ServiceRoleWorker || r == ServiceRoleAdmin
}

func ParseServiceRole(value string) (ServiceRole, error) {
	role := ServiceRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid service role %q", value)
	}
	return role, nil
}
