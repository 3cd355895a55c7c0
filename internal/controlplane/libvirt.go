package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"
)

// Libvirt adapts the libvirt RPC surface to the Client verb set. Network
// and domain ids are their libvirt names; objects are re-looked-up per
// verb so the adapter stays stateless across reconnects.
type Libvirt struct {
	conn *libvirt.Libvirt
}

// Connect dials the libvirt endpoint named by uri (e.g. "qemu:///system").
func Connect(uri string) (*Libvirt, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse libvirt URI: %w", err)
	}
	conn, err := libvirt.ConnectToURI(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return &Libvirt{conn: conn}, nil
}

func isNotFound(err error) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == uint32(libvirt.ErrNoDomain) || lverr.Code == uint32(libvirt.ErrNoNetwork)
	}
	return false
}

func (l *Libvirt) network(id NetworkID) (libvirt.Network, error) {
	net, err := l.conn.NetworkLookupByName(string(id))
	if err != nil {
		if isNotFound(err) {
			return libvirt.Network{}, ErrNotFound
		}
		return libvirt.Network{}, fmt.Errorf("failed to look up network %q: %w", id, err)
	}
	return net, nil
}

func (l *Libvirt) domain(id DomainID) (libvirt.Domain, error) {
	dom, err := l.conn.DomainLookupByName(string(id))
	if err != nil {
		if isNotFound(err) {
			return libvirt.Domain{}, ErrNotFound
		}
		return libvirt.Domain{}, fmt.Errorf("failed to look up domain %q: %w", id, err)
	}
	return dom, nil
}

// LookupNetwork implements Client.
func (l *Libvirt) LookupNetwork(ctx context.Context, name string) (NetworkID, error) {
	net, err := l.network(NetworkID(name))
	if err != nil {
		return "", err
	}
	return NetworkID(net.Name), nil
}

// NetworkActive implements Client.
func (l *Libvirt) NetworkActive(ctx context.Context, id NetworkID) (bool, error) {
	net, err := l.network(id)
	if err != nil {
		return false, err
	}
	active, err := l.conn.NetworkIsActive(net)
	if err != nil {
		return false, fmt.Errorf("failed to query network state: %w", err)
	}
	return active == 1, nil
}

// DefineNetwork implements Client.
func (l *Libvirt) DefineNetwork(ctx context.Context, xml string) (NetworkID, error) {
	net, err := l.conn.NetworkDefineXML(xml)
	if err != nil {
		return "", fmt.Errorf("failed to define network: %w", err)
	}
	return NetworkID(net.Name), nil
}

// StartNetwork implements Client.
func (l *Libvirt) StartNetwork(ctx context.Context, id NetworkID) error {
	net, err := l.network(id)
	if err != nil {
		return err
	}
	if err := l.conn.NetworkCreate(net); err != nil {
		return fmt.Errorf("failed to start network %q: %w", id, err)
	}
	return nil
}

// DefineDomain implements Client.
func (l *Libvirt) DefineDomain(ctx context.Context, xml string) (DomainID, error) {
	dom, err := l.conn.DomainDefineXML(xml)
	if err != nil {
		return "", fmt.Errorf("failed to define domain: %w", err)
	}
	return DomainID(dom.Name), nil
}

// StartDomain implements Client.
func (l *Libvirt) StartDomain(ctx context.Context, id DomainID) error {
	dom, err := l.domain(id)
	if err != nil {
		return err
	}
	if err := l.conn.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %q: %w", id, err)
	}
	return nil
}

// LookupDomain implements Client.
func (l *Libvirt) LookupDomain(ctx context.Context, name string) (DomainID, error) {
	dom, err := l.domain(DomainID(name))
	if err != nil {
		return "", err
	}
	return DomainID(dom.Name), nil
}

// DomainInfo implements Client.
func (l *Libvirt) DomainInfo(ctx context.Context, id DomainID) (DomainInfo, error) {
	dom, err := l.domain(id)
	if err != nil {
		return DomainInfo{}, err
	}
	state, _, memory, cpus, _, err := l.conn.DomainGetInfo(dom)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("failed to query domain info: %w", err)
	}
	info := DomainInfo{CPUs: int(cpus), MemoryKiB: memory}
	switch libvirt.DomainState(state) {
	case libvirt.DomainRunning:
		info.State = DomainStateRunning
	case libvirt.DomainShutoff:
		info.State = DomainStateShutoff
	default:
		info.State = DomainStateUnknown
	}
	return info, nil
}

// InterfaceAddresses implements Client.
func (l *Libvirt) InterfaceAddresses(ctx context.Context, id DomainID) ([]InterfaceAddress, error) {
	dom, err := l.domain(id)
	if err != nil {
		return nil, err
	}
	ifaces, err := l.conn.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query interface addresses: %w", err)
	}
	var out []InterfaceAddress
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			out = append(out, InterfaceAddress{
				Address: addr.Addr,
				IPv4:    addr.Type == int32(libvirt.IPAddrTypeIpv4),
			})
		}
	}
	return out, nil
}

// DHCPLeases implements Client.
func (l *Libvirt) DHCPLeases(ctx context.Context, id NetworkID) ([]DHCPLease, error) {
	net, err := l.network(id)
	if err != nil {
		return nil, err
	}
	leases, _, err := l.conn.NetworkGetDhcpLeases(net, libvirt.OptString{}, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query DHCP leases: %w", err)
	}
	var out []DHCPLease
	for _, lease := range leases {
		entry := DHCPLease{Address: lease.Ipaddr}
		if len(lease.Hostname) > 0 {
			entry.Hostname = lease.Hostname[0]
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close disconnects from the control plane.
func (l *Libvirt) Close() error {
	return l.conn.Disconnect()
}
