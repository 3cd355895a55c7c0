package e2e_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vmforge/internal/access"
	"vmforge/internal/bootstrap"
	"vmforge/internal/controlplane"
	"vmforge/internal/fleet"
	"vmforge/internal/machine"
	"vmforge/internal/network"
	"vmforge/internal/orchestrator"
	"vmforge/internal/request"
	"vmforge/internal/storage"
	"vmforge/internal/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// MockRunner implements hostcmd.Runner with call tracking and per-command
// error injection.
type MockRunner struct {
	mu    sync.Mutex
	Cmds  [][]string
	Fail  map[string]error
}

func NewMockRunner() *MockRunner {
	return &MockRunner{Fail: make(map[string]error)}
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cmds = append(m.Cmds, append([]string{name}, args...))
	if err, ok := m.Fail[name]; ok {
		return "", "injected failure", err
	}
	return "", "", nil
}

// Commands returns the names of every command run, in order.
func (m *MockRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.Cmds))
	for i, c := range m.Cmds {
		names[i] = c[0]
	}
	return names
}

// MockProber implements access.Prober, becoming ready after a configurable
// number of probes.
type MockProber struct {
	mu         sync.Mutex
	probes     int
	readyAfter int
}

func (p *MockProber) Probe(ctx context.Context, address, username, password string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.probes > p.readyAfter
}

// MockPayloads implements orchestrator.PayloadGenerator without touching
// the filesystem; the real generator is covered by its package tests.
type MockPayloads struct {
	Username string
	Password string
}

func (m *MockPayloads) Generate(ctx context.Context, machineName string) (*bootstrap.Config, string, error) {
	return &bootstrap.Config{
		Hostname: machineName,
		Username: m.Username,
		Password: m.Password,
	}, "/tmp/" + machineName + "-seed.iso", nil
}

var _ = Describe("Provisioning E2E", func() {
	var (
		cp      *controlplane.Fake
		runner  *MockRunner
		records *store.FileStore
		orch    *orchestrator.Orchestrator
		ctx     context.Context
		tmpDir  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()

		cp = controlplane.NewFake()
		runner = NewMockRunner()
		records = store.NewFileStore(filepath.Join(tmpDir, "state.json"))

		orch = orchestrator.New(
			cp,
			network.NewManager(cp),
			storage.NewProvisioner(runner, tmpDir, filepath.Join(tmpDir, "base.qcow2")),
			&MockPayloads{Username: "forge", Password: "Xk3!mQv9#rTw2@Lp"},
			records,
		)
	})

	Context("Single machine", func() {
		It("should provision a machine end to end", func() {
			rec, err := orch.Provision(ctx, request.Raw{
				Name:     "alpha-1",
				Tenant:   "tenant-a",
				CPU:      2,
				MemoryMB: 2048,
				DiskGB:   20,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(machine.StatusRunning))
			Expect(rec.VLAN).To(Equal(10))
			Expect(rec.Username).To(Equal("forge"))
			Expect(rec.Password).NotTo(BeEmpty())

			By("defining and starting the tenant segment")
			netXML := cp.NetworkDescriptor(controlplane.NetworkID("tenant-a-net"))
			Expect(netXML).To(ContainSubstring("<name>tenant-a-net</name>"))
			Expect(netXML).To(ContainSubstring("br-vlan10"))
			Expect(netXML).To(ContainSubstring("10.42.10.1"))
			Expect(netXML).To(ContainSubstring("10.42.10.10"))
			Expect(netXML).To(ContainSubstring("10.42.10.100"))

			By("creating the disk volume from the base image")
			Expect(runner.Commands()).To(ContainElement("qemu-img"))

			By("registering a descriptor wired to the volume and segment")
			domXML := cp.DomainDescriptor(controlplane.DomainID("alpha-1"))
			Expect(domXML).To(ContainSubstring("<name>alpha-1</name>"))
			Expect(domXML).To(ContainSubstring("<memory unit='KiB'>2097152</memory>"))
			Expect(domXML).To(ContainSubstring("<vcpu placement='static'>2</vcpu>"))
			Expect(domXML).To(ContainSubstring(filepath.Join(tmpDir, "alpha-1.qcow2")))
			Expect(domXML).To(ContainSubstring("alpha-1-seed.iso"))
			Expect(domXML).To(ContainSubstring("network='tenant-a-net'"))

			By("persisting the record")
			saved, ok, err := records.Get(ctx, "alpha-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(saved.Tenant).To(Equal("tenant-a"))
			Expect(saved.Status).To(Equal(machine.StatusRunning))
		})

		It("should stop at the storage stage when volume creation fails", func() {
			runner.Fail["qemu-img"] = errors.New("disk full")

			rec, err := orch.Provision(ctx, request.Raw{
				Name:     "beta-1",
				Tenant:   "tenant-b",
				CPU:      1,
				MemoryMB: 1024,
				DiskGB:   10,
			})
			Expect(err).To(HaveOccurred())

			var stageErr *orchestrator.StageError
			Expect(errors.As(err, &stageErr)).To(BeTrue())
			Expect(stageErr.Stage).To(Equal(orchestrator.StageStorage))
			Expect(rec.Status).To(Equal(machine.StatusUnknown))

			Expect(cp.Calls["DefineDomain"]).To(BeZero())
			Expect(cp.Calls["StartDomain"]).To(BeZero())
		})

		It("should reject a request for an unknown tenant before any side effects", func() {
			_, err := orch.Provision(ctx, request.Raw{
				Name:     "ghost-1",
				Tenant:   "tenant-z",
				CPU:      1,
				MemoryMB: 1024,
				DiskGB:   10,
			})
			Expect(err).To(HaveOccurred())

			var fieldErr *request.FieldError
			Expect(errors.As(err, &fieldErr)).To(BeTrue())
			Expect(fieldErr.Field).To(Equal("tenant"))

			Expect(cp.TotalCalls()).To(BeZero())
			Expect(runner.Cmds).To(BeEmpty())
		})
	})

	Context("Access resolution", func() {
		provision := func(name, tenant string) *machine.Record {
			rec, err := orch.Provision(ctx, request.Raw{
				Name:     name,
				Tenant:   tenant,
				CPU:      1,
				MemoryMB: 1024,
				DiskGB:   10,
			})
			Expect(err).NotTo(HaveOccurred())
			return rec
		}

		It("should resolve access from the segment lease table", func() {
			rec := provision("alpha-2", "tenant-a")
			cp.SetLeases(controlplane.NetworkID("tenant-a-net"), []controlplane.DHCPLease{
				{Hostname: "alpha-2", Address: "10.42.10.23"},
			})

			prober := &MockProber{readyAfter: 2}
			resolver := access.NewResolver(cp, prober, "forge",
				time.Millisecond, 100*time.Millisecond)

			acc, err := resolver.Resolve(ctx, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.Ready).To(BeTrue())
			Expect(acc.Address).To(Equal("10.42.10.23"))
			Expect(strings.HasPrefix(acc.Address, "10.42.10.")).To(BeTrue())
			Expect(acc.Username).To(Equal(rec.Username))
			Expect(acc.Password).To(Equal(rec.Password))
		})

		It("should report partial success when the guest never answers", func() {
			rec := provision("alpha-3", "tenant-a")
			cp.SetLeases(controlplane.NetworkID("tenant-a-net"), []controlplane.DHCPLease{
				{Hostname: "alpha-3", Address: "10.42.10.24"},
			})

			prober := &MockProber{readyAfter: 1 << 30}
			resolver := access.NewResolver(cp, prober, "forge",
				time.Millisecond, 20*time.Millisecond)

			acc, err := resolver.Resolve(ctx, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.Ready).To(BeFalse())
			Expect(acc.Address).To(Equal("10.42.10.24"))
			Expect(acc.Password).NotTo(BeEmpty())
		})
	})

	Context("Fleet provisioning", func() {
		It("should provision machines for different tenants concurrently", func() {
			manifest := &fleet.Manifest{Machines: []fleet.Item{
				{Name: "alpha-1", Tenant: "tenant-a", CPU: 1, MemoryMB: 1024, DiskGB: 10},
				{Name: "beta-1", Tenant: "tenant-b", CPU: 2, MemoryMB: 2048, DiskGB: 20},
				{Name: "gamma-1", Tenant: "tenant-c", CPU: 1, MemoryMB: 512, DiskGB: 10},
			}}

			results := fleet.Run(ctx, orch, manifest, 3)
			Expect(results).To(HaveLen(3))
			for _, r := range results {
				Expect(r.Err).NotTo(HaveOccurred(), fmt.Sprintf("machine %s", r.Name))
				Expect(r.Record.Status).To(Equal(machine.StatusRunning))
			}

			By("keeping each machine on its own tenant's segment")
			for name, segment := range map[string]string{
				"alpha-1": "tenant-a-net",
				"beta-1":  "tenant-b-net",
				"gamma-1": "tenant-c-net",
			} {
				domXML := cp.DomainDescriptor(controlplane.DomainID(name))
				Expect(domXML).To(ContainSubstring("network='" + segment + "'"))
			}

			By("isolating a bad item from the rest of the batch")
			bad := &fleet.Manifest{Machines: []fleet.Item{
				{Name: "delta-1", Tenant: "tenant-a", CPU: 1, MemoryMB: 1024, DiskGB: 10},
				{Name: "bad name!", Tenant: "tenant-a", CPU: 1, MemoryMB: 1024, DiskGB: 10},
			}}
			results = fleet.Run(ctx, orch, bad, 2)
			Expect(results[0].Err).NotTo(HaveOccurred())
			Expect(results[1].Err).To(HaveOccurred())
		})
	})
})
