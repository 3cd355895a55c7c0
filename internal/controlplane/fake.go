package controlplane

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory Client for tests. It records per-verb call counts
// so tests can assert how many control-plane operations a workflow made.
type Fake struct {
	mu sync.Mutex

	networks      map[NetworkID]bool // id -> active
	domains       map[DomainID]DomainInfo
	domainXML     map[DomainID]string
	addresses     map[DomainID][]InterfaceAddress
	leases        map[NetworkID][]DHCPLease
	networkXML    map[NetworkID]string
	defineCounter int

	// Optional error injection per verb name, e.g. "DefineNetwork".
	Fail map[string]error

	Calls map[string]int
}

// NewFake creates an empty fake control plane.
func NewFake() *Fake {
	return &Fake{
		networks:   make(map[NetworkID]bool),
		domains:    make(map[DomainID]DomainInfo),
		domainXML:  make(map[DomainID]string),
		addresses:  make(map[DomainID][]InterfaceAddress),
		leases:     make(map[NetworkID][]DHCPLease),
		networkXML: make(map[NetworkID]string),
		Fail:       make(map[string]error),
		Calls:      make(map[string]int),
	}
}

func (f *Fake) record(verb string) error {
	f.Calls[verb]++
	if err, ok := f.Fail[verb]; ok {
		return err
	}
	return nil
}

// TotalCalls returns how many verbs were invoked in total.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.Calls {
		total += n
	}
	return total
}

// SetLeases seeds the lease table for a network.
func (f *Fake) SetLeases(id NetworkID, leases []DHCPLease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases[id] = leases
}

// SetAddresses seeds the live interface addresses for a domain.
func (f *Fake) SetAddresses(id DomainID, addrs []InterfaceAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[id] = addrs
}

// SetDomain seeds a domain without going through DefineDomain.
func (f *Fake) SetDomain(id DomainID, info DomainInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[id] = info
}

// DomainDescriptor returns the XML a domain was defined with.
func (f *Fake) DomainDescriptor(id DomainID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.domainXML[id]
}

// NetworkDescriptor returns the XML a network was defined with.
func (f *Fake) NetworkDescriptor(id NetworkID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networkXML[id]
}

// LookupNetwork implements Client.
func (f *Fake) LookupNetwork(ctx context.Context, name string) (NetworkID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LookupNetwork"); err != nil {
		return "", err
	}
	id := NetworkID(name)
	if _, ok := f.networks[id]; !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// NetworkActive implements Client.
func (f *Fake) NetworkActive(ctx context.Context, id NetworkID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("NetworkActive"); err != nil {
		return false, err
	}
	active, ok := f.networks[id]
	if !ok {
		return false, ErrNotFound
	}
	return active, nil
}

// DefineNetwork implements Client.
func (f *Fake) DefineNetwork(ctx context.Context, xml string) (NetworkID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DefineNetwork"); err != nil {
		return "", err
	}
	f.defineCounter++
	id := NetworkID(nameFromXML(xml, fmt.Sprintf("net-%d", f.defineCounter)))
	f.networks[id] = false
	f.networkXML[id] = xml
	return id, nil
}

// StartNetwork implements Client.
func (f *Fake) StartNetwork(ctx context.Context, id NetworkID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StartNetwork"); err != nil {
		return err
	}
	if _, ok := f.networks[id]; !ok {
		return ErrNotFound
	}
	f.networks[id] = true
	return nil
}

// DefineDomain implements Client.
func (f *Fake) DefineDomain(ctx context.Context, xml string) (DomainID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DefineDomain"); err != nil {
		return "", err
	}
	f.defineCounter++
	id := DomainID(nameFromXML(xml, fmt.Sprintf("dom-%d", f.defineCounter)))
	f.domains[id] = DomainInfo{State: DomainStateShutoff}
	f.domainXML[id] = xml
	return id, nil
}

// StartDomain implements Client.
func (f *Fake) StartDomain(ctx context.Context, id DomainID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StartDomain"); err != nil {
		return err
	}
	info, ok := f.domains[id]
	if !ok {
		return ErrNotFound
	}
	info.State = DomainStateRunning
	f.domains[id] = info
	return nil
}

// LookupDomain implements Client.
func (f *Fake) LookupDomain(ctx context.Context, name string) (DomainID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LookupDomain"); err != nil {
		return "", err
	}
	id := DomainID(name)
	if _, ok := f.domains[id]; !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// DomainInfo implements Client.
func (f *Fake) DomainInfo(ctx context.Context, id DomainID) (DomainInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DomainInfo"); err != nil {
		return DomainInfo{}, err
	}
	info, ok := f.domains[id]
	if !ok {
		return DomainInfo{}, ErrNotFound
	}
	return info, nil
}

// InterfaceAddresses implements Client.
func (f *Fake) InterfaceAddresses(ctx context.Context, id DomainID) ([]InterfaceAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InterfaceAddresses"); err != nil {
		return nil, err
	}
	if _, ok := f.domains[id]; !ok {
		return nil, ErrNotFound
	}
	return f.addresses[id], nil
}

// DHCPLeases implements Client.
func (f *Fake) DHCPLeases(ctx context.Context, id NetworkID) ([]DHCPLease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DHCPLeases"); err != nil {
		return nil, err
	}
	if _, ok := f.networks[id]; !ok {
		return nil, ErrNotFound
	}
	return f.leases[id], nil
}

// Close implements Client.
func (f *Fake) Close() error { return nil }

// nameFromXML pulls the <name> element out of a descriptor so fake ids
// line up with the names real lookups would use.
func nameFromXML(xml, fallback string) string {
	const openTag, closeTag = "<name>", "</name>"
	start := strings.Index(xml, openTag)
	if start < 0 {
		return fallback
	}
	rest := xml[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return fallback
	}
	return rest[:end]
}
