// Package machine holds the core domain objects shared between the
// orchestrator, resolver and storage layers.
package machine

import "time"

// Machine status values as reported by the control plane.
const (
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusShutoff  = "shutoff"
	StatusUnknown  = "unknown"
)

// Record represents a provisioned (or in-flight) virtual machine.
type Record struct {
	Name      string    `json:"name"`
	Tenant    string    `json:"tenant"`
	VLAN      int       `json:"vlan"`
	CPU       int       `json:"cpu"`
	MemoryMB  int       `json:"memory_mb"`
	DiskGB    int       `json:"disk_gb"`
	Status    string    `json:"status"`
	Address   string    `json:"address,omitempty"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Access is the connection information handed back to the caller once a
// machine has been resolved. Ready=false with a populated address is a
// valid partial result: the machine is up but its shell service did not
// answer within the probe window.
type Access struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	Ready    bool   `json:"ready"`
}
