// Package tenant defines the fixed tenant roster and the deterministic
// mapping from tenant to VLAN id and subnet. The mapping is data, not
// code: adding a tenant means adding one table entry.
package tenant

import (
	"fmt"
	"sort"
	"strings"
)

// Assignment is the network identity carved out for one tenant: a VLAN id
// and a /24 inside the shared private block, gateway at .1 and a DHCP
// range of .10 through .100.
type Assignment struct {
	Name       string
	VLAN       int
	Subnet     string // CIDR, e.g. "10.42.10.0/24"
	Gateway    string
	Netmask    string
	DHCPStart  string
	DHCPEnd    string
	Bridge     string // host bridge name, derived from the VLAN id
	Segment    string // control-plane network name
}

// subnetPrefix is the shared private block all tenant /24s are carved from.
// The VLAN id doubles as the third octet.
const subnetPrefix = "10.42"

var roster = buildRoster(map[string]int{
	"tenant-a": 10,
	"tenant-b": 20,
	"tenant-c": 30,
})

func buildRoster(vlans map[string]int) map[string]Assignment {
	m := make(map[string]Assignment, len(vlans))
	for name, vlan := range vlans {
		m[name] = Assignment{
			Name:      name,
			VLAN:      vlan,
			Subnet:    fmt.Sprintf("%s.%d.0/24", subnetPrefix, vlan),
			Gateway:   fmt.Sprintf("%s.%d.1", subnetPrefix, vlan),
			Netmask:   "255.255.255.0",
			DHCPStart: fmt.Sprintf("%s.%d.10", subnetPrefix, vlan),
			DHCPEnd:   fmt.Sprintf("%s.%d.100", subnetPrefix, vlan),
			Bridge:    fmt.Sprintf("br-vlan%d", vlan),
			Segment:   fmt.Sprintf("%s-net", name),
		}
	}
	return m
}

// Lookup returns the assignment for a tenant. Tenant names are matched
// case-insensitively; the second return is false for unknown tenants.
func Lookup(name string) (Assignment, bool) {
	a, ok := roster[strings.ToLower(name)]
	return a, ok
}

// Roster returns the known tenant names in stable order.
func Roster() []string {
	names := make([]string, 0, len(roster))
	for name := range roster {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubnetPrefix returns the /24 prefix for a tenant's subnet, e.g.
// "10.42.10." for tenant-a. Useful for matching resolved addresses.
func SubnetPrefix(name string) (string, bool) {
	a, ok := Lookup(name)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s.%d.", subnetPrefix, a.VLAN), true
}
