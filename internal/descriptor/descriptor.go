// Package descriptor synthesizes the complete machine descriptor handed to
// the control plane: fresh identity, resource limits in the control plane's
// native units, and the device set wiring disk, bootstrap volume, tenant
// network and console together.
package descriptor

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"text/template"

	"vmforge/internal/machine"
	"vmforge/internal/tenant"

	"github.com/google/uuid"
)

const domainTemplate = `<domain type='kvm'>
  <name>{{.Name}}</name>
  <uuid>{{.UUID}}</uuid>
  <memory unit='KiB'>{{.MemoryKiB}}</memory>
  <currentMemory unit='KiB'>{{.MemoryKiB}}</currentMemory>
  <vcpu placement='static'>{{.CPU}}</vcpu>
  <os>
    <type arch='x86_64' machine='q35'>hvm</type>
    <boot dev='hd'/>
  </os>
  <devices>
    <disk type='file' device='disk'>
      <driver name='qemu' type='qcow2'/>
      <source file='{{.VolumePath}}'/>
      <target dev='vda' bus='virtio'/>
    </disk>
{{- if .SeedPath}}
    <disk type='file' device='cdrom'>
      <driver name='qemu' type='raw'/>
      <source file='{{.SeedPath}}'/>
      <target dev='sda' bus='sata'/>
      <readonly/>
    </disk>
{{- end}}
    <interface type='network'>
      <mac address='{{.MAC}}'/>
      <source network='{{.Segment}}'/>
      <model type='virtio'/>
    </interface>
    <serial type='pty'>
      <target port='0'/>
    </serial>
    <console type='pty'>
      <target type='serial' port='0'/>
    </console>
    <input type='tablet' bus='usb'/>
    <video>
      <model type='vga'/>
    </video>
  </devices>
</domain>
`

var domainTmpl = template.Must(template.New("domain").Parse(domainTemplate))

// Identity is the freshly generated per-machine identity. Uniqueness is
// probabilistic: ids are never checked against a registry.
type Identity struct {
	UUID string
	MAC  string
}

// params feeds the domain template.
type params struct {
	Name       string
	UUID       string
	MAC        string
	CPU        int
	MemoryKiB  int64
	VolumePath string
	SeedPath   string
	Segment    string
}

// Build renders the full descriptor for a machine record. seedPath may be
// empty, in which case no bootstrap volume device is wired. The tenant is
// re-checked against the roster here: by the time a record reaches the
// builder an unmappable tenant is an internal-consistency fault, and it is
// caught before any control-plane call.
func Build(rec *machine.Record, volumePath, seedPath string) (string, Identity, error) {
	assignment, ok := tenant.Lookup(rec.Tenant)
	if !ok {
		return "", Identity{}, fmt.Errorf("internal inconsistency: tenant %q has no segment mapping", rec.Tenant)
	}

	id, err := NewIdentity()
	if err != nil {
		return "", Identity{}, err
	}

	p := params{
		Name:       rec.Name,
		UUID:       id.UUID,
		MAC:        id.MAC,
		CPU:        rec.CPU,
		MemoryKiB:  MemoryMBToKiB(rec.MemoryMB),
		VolumePath: volumePath,
		SeedPath:   seedPath,
		Segment:    assignment.Segment,
	}

	var buf bytes.Buffer
	if err := domainTmpl.Execute(&buf, p); err != nil {
		return "", Identity{}, fmt.Errorf("failed to render domain descriptor: %w", err)
	}
	return buf.String(), id, nil
}

// NewIdentity generates a fresh UUID and MAC address. The MAC's first
// octet has the locally-administered bit set and the multicast bit clear,
// so it can never collide with a vendor-assigned address.
func NewIdentity() (Identity, error) {
	mac, err := randomMAC()
	if err != nil {
		return Identity{}, err
	}
	return Identity{UUID: uuid.NewString(), MAC: mac}, nil
}

// MemoryMBToKiB converts the request's MB figure to the descriptor's
// native KiB unit.
func MemoryMBToKiB(memoryMB int) int64 {
	return int64(memoryMB) * 1024
}

func randomMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate MAC: %w", err)
	}
	buf[0] = (buf[0] | 0x02) &^ 0x01 // locally administered, unicast
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}
