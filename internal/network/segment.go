// Package network manages per-tenant isolated network segments. A segment
// is one VLAN-backed virtual network per tenant; Ensure is idempotent and
// only ever defines a segment that is not already registered and active.
// Traffic filtering between VLANs is the switch fabric's job, not ours.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"vmforge/internal/controlplane"
	"vmforge/internal/logging"
	"vmforge/internal/tenant"

	"go.uber.org/zap"
)

// Step errors let callers tell a failed registration from a failed start.
var (
	ErrDefine = errors.New("segment define failed")
	ErrStart  = errors.New("segment start failed")
)

const networkTemplate = `<network>
  <name>{{.Segment}}</name>
  <bridge name='{{.Bridge}}' stp='on' delay='0'/>
  <forward mode='nat'/>
  <ip address='{{.Gateway}}' netmask='{{.Netmask}}'>
    <dhcp>
      <range start='{{.DHCPStart}}' end='{{.DHCPEnd}}'/>
    </dhcp>
  </ip>
</network>
`

var networkTmpl = template.Must(template.New("network").Parse(networkTemplate))

// Segment is the handle returned by Ensure.
type Segment struct {
	Tenant  string
	VLAN    int
	Name    string
	Bridge  string
	Gateway string
	Subnet  string
	ID      controlplane.NetworkID
}

// Manager ensures tenant segments exist on the control plane.
type Manager struct {
	cp controlplane.Client
}

// NewManager creates a segment manager backed by the given control plane.
func NewManager(cp controlplane.Client) *Manager {
	return &Manager{cp: cp}
}

// Ensure makes sure the tenant's segment is defined and started, creating
// it if needed. Calling it again for an up segment performs no define or
// start. The tenant must be on the roster; an unknown tenant here is a
// programming error in the caller, not a runtime condition.
func (m *Manager) Ensure(ctx context.Context, tenantName string) (*Segment, error) {
	assignment, ok := tenant.Lookup(tenantName)
	if !ok {
		return nil, fmt.Errorf("tenant %q is not on the roster", tenantName)
	}

	seg := &Segment{
		Tenant:  assignment.Name,
		VLAN:    assignment.VLAN,
		Name:    assignment.Segment,
		Bridge:  assignment.Bridge,
		Gateway: assignment.Gateway,
		Subnet:  assignment.Subnet,
	}

	id, err := m.cp.LookupNetwork(ctx, assignment.Segment)
	if err == nil {
		active, aerr := m.cp.NetworkActive(ctx, id)
		if aerr == nil && active {
			logging.Logger().Debug("segment already active",
				zap.String("tenant", assignment.Name),
				zap.String("segment", assignment.Segment))
			seg.ID = id
			return seg, nil
		}
		if aerr == nil && !active {
			if serr := m.cp.StartNetwork(ctx, id); serr != nil {
				return nil, fmt.Errorf("%w: %v", ErrStart, serr)
			}
			seg.ID = id
			return seg, nil
		}
		return nil, fmt.Errorf("failed to query segment state: %w", aerr)
	}
	if !errors.Is(err, controlplane.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up segment: %w", err)
	}

	xml, err := renderNetworkXML(assignment)
	if err != nil {
		return nil, fmt.Errorf("failed to render network descriptor: %w", err)
	}

	logging.Logger().Info("defining tenant segment",
		zap.String("tenant", assignment.Name),
		zap.String("segment", assignment.Segment),
		zap.Int("vlan", assignment.VLAN),
		zap.String("subnet", assignment.Subnet))

	id, err = m.cp.DefineNetwork(ctx, xml)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefine, err)
	}
	if err := m.cp.StartNetwork(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	seg.ID = id
	return seg, nil
}

func renderNetworkXML(a tenant.Assignment) (string, error) {
	var buf bytes.Buffer
	if err := networkTmpl.Execute(&buf, a); err != nil {
		return "", err
	}
	return buf.String(), nil
}
