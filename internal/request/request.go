// Package request validates and normalizes incoming provisioning requests.
// Validation is a pure function: no I/O, no collaborator calls, and a fixed
// field order (name, tenant, cpu, memory, disk) so the first violated rule
// is always the one reported.
package request

import (
	"fmt"
	"regexp"
	"strings"

	"vmforge/internal/tenant"
)

// Resource bounds for a single machine.
const (
	MinCPU      = 1
	MaxCPU      = 16
	MinMemoryMB = 512
	MaxMemoryMB = 32768
	MinDiskGB   = 10
	MaxDiskGB   = 1000
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// Raw carries the caller-supplied fields before validation.
type Raw struct {
	Name     string
	Tenant   string
	CPU      int
	MemoryMB int
	DiskGB   int
}

// ProvisioningRequest is a validated, normalized request.
type ProvisioningRequest struct {
	Name     string
	Tenant   string
	VLAN     int
	CPU      int
	MemoryMB int
	DiskGB   int
}

// FieldError identifies which field failed validation and why.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Validate checks a raw request against the fixed bounds and roster and
// returns the normalized request or the first field violation found.
func Validate(raw Raw) (*ProvisioningRequest, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, &FieldError{Field: "name", Reason: "must not be empty"}
	}
	if !namePattern.MatchString(name) {
		return nil, &FieldError{Field: "name", Reason: "must match [A-Za-z0-9_-]{1,50}"}
	}

	tenantName := strings.ToLower(strings.TrimSpace(raw.Tenant))
	assignment, ok := tenant.Lookup(tenantName)
	if !ok {
		return nil, &FieldError{
			Field:  "tenant",
			Reason: fmt.Sprintf("unknown tenant, must be one of %s", strings.Join(tenant.Roster(), ", ")),
		}
	}

	if raw.CPU < MinCPU || raw.CPU > MaxCPU {
		return nil, &FieldError{
			Field:  "cpu",
			Reason: fmt.Sprintf("must be between %d and %d", MinCPU, MaxCPU),
		}
	}
	if raw.MemoryMB < MinMemoryMB || raw.MemoryMB > MaxMemoryMB {
		return nil, &FieldError{
			Field:  "memory",
			Reason: fmt.Sprintf("must be between %d and %d MB", MinMemoryMB, MaxMemoryMB),
		}
	}
	if raw.DiskGB < MinDiskGB || raw.DiskGB > MaxDiskGB {
		return nil, &FieldError{
			Field:  "disk",
			Reason: fmt.Sprintf("must be between %d and %d GB", MinDiskGB, MaxDiskGB),
		}
	}

	return &ProvisioningRequest{
		Name:     name,
		Tenant:   assignment.Name,
		VLAN:     assignment.VLAN,
		CPU:      raw.CPU,
		MemoryMB: raw.MemoryMB,
		DiskGB:   raw.DiskGB,
	}, nil
}
