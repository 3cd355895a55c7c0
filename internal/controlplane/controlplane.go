// Package controlplane wraps the virtualization control plane behind the
// narrow verb set the provisioning workflow consumes. Every verb returns a
// typed result or an error; sentinel values from the underlying transport
// never leak past this boundary.
package controlplane

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookup verbs when no object with the given
// name is registered.
var ErrNotFound = errors.New("controlplane: not found")

// DomainState mirrors the control plane's coarse machine states.
type DomainState int

const (
	DomainStateUnknown DomainState = iota
	DomainStateRunning
	DomainStateShutoff
)

// NetworkID identifies a defined virtual network.
type NetworkID string

// DomainID identifies a defined machine.
type DomainID string

// DomainInfo is the control plane's view of a machine.
type DomainInfo struct {
	State     DomainState
	CPUs      int
	MemoryKiB uint64
}

// InterfaceAddress is one address reported for a machine's interface.
type InterfaceAddress struct {
	Address string
	IPv4    bool
}

// DHCPLease is one entry of a network's address-lease table.
type DHCPLease struct {
	Hostname string
	Address  string
}

// Client is the verb set this core needs from the control plane.
type Client interface {
	// LookupNetwork returns the network with the given name, or ErrNotFound.
	LookupNetwork(ctx context.Context, name string) (NetworkID, error)
	// NetworkActive reports whether a defined network is started.
	NetworkActive(ctx context.Context, id NetworkID) (bool, error)
	// DefineNetwork registers a network from its XML descriptor.
	DefineNetwork(ctx context.Context, xml string) (NetworkID, error)
	// StartNetwork starts a defined network.
	StartNetwork(ctx context.Context, id NetworkID) error

	// DefineDomain registers a machine from its XML descriptor.
	DefineDomain(ctx context.Context, xml string) (DomainID, error)
	// StartDomain starts a defined machine.
	StartDomain(ctx context.Context, id DomainID) error
	// LookupDomain returns the machine with the given name, or ErrNotFound.
	LookupDomain(ctx context.Context, name string) (DomainID, error)
	// DomainInfo queries a machine's state and resources.
	DomainInfo(ctx context.Context, id DomainID) (DomainInfo, error)
	// InterfaceAddresses queries a running machine's interface addresses.
	InterfaceAddresses(ctx context.Context, id DomainID) ([]InterfaceAddress, error)
	// DHCPLeases returns a network's current address leases.
	DHCPLeases(ctx context.Context, id NetworkID) ([]DHCPLease, error)

	Close() error
}
