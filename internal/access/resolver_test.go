package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"vmforge/internal/controlplane"
	"vmforge/internal/machine"
)

type fakeProber struct {
	calls int
	// readyAfter is how many attempts fail before one succeeds; negative
	// means never ready.
	readyAfter int
}

func (f *fakeProber) Probe(ctx context.Context, address, username, password string) bool {
	f.calls++
	if f.readyAfter < 0 {
		return false
	}
	return f.calls > f.readyAfter
}

func runningRecord() *machine.Record {
	return &machine.Record{
		Name:     "alpha-1",
		Tenant:   "tenant-a",
		VLAN:     10,
		Status:   machine.StatusRunning,
		Username: "forge",
		Password: "Aa1!aaaaaaaaaaaa",
	}
}

func seededFake(t *testing.T) *controlplane.Fake {
	t.Helper()
	cp := controlplane.NewFake()
	ctx := context.Background()
	netID, err := cp.DefineNetwork(ctx, "<network><name>tenant-a-net</name></network>")
	if err != nil {
		t.Fatal(err)
	}
	if err := cp.StartNetwork(ctx, netID); err != nil {
		t.Fatal(err)
	}
	domID, err := cp.DefineDomain(ctx, "<domain><name>alpha-1</name></domain>")
	if err != nil {
		t.Fatal(err)
	}
	if err := cp.StartDomain(ctx, domID); err != nil {
		t.Fatal(err)
	}
	cp.Calls = map[string]int{}
	return cp
}

func fastResolver(cp *controlplane.Fake, prober Prober) *Resolver {
	return NewResolver(cp, prober, "forge", time.Millisecond, 20*time.Millisecond)
}

func TestResolveRequiresRunning(t *testing.T) {
	cp := controlplane.NewFake()
	r := fastResolver(cp, &fakeProber{})

	rec := runningRecord()
	rec.Status = machine.StatusCreating
	_, err := r.Resolve(context.Background(), rec)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if cp.TotalCalls() != 0 {
		t.Error("no discovery may be attempted for a non-running machine")
	}
}

func TestResolvePrefersLeaseOverInterface(t *testing.T) {
	cp := seededFake(t)
	cp.SetLeases("tenant-a-net", []controlplane.DHCPLease{
		{Hostname: "other", Address: "10.42.10.2"},
		{Hostname: "alpha-1", Address: "10.42.10.23"},
	})
	cp.SetAddresses("alpha-1", []controlplane.InterfaceAddress{
		{Address: "10.42.10.99", IPv4: true},
	})

	r := fastResolver(cp, &fakeProber{})
	access, err := r.Resolve(context.Background(), runningRecord())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if access.Address != "10.42.10.23" {
		t.Errorf("address = %q, want the lease-table entry", access.Address)
	}
	if cp.Calls["InterfaceAddresses"] != 0 {
		t.Error("interface query must not run when a lease matches")
	}
}

func TestResolveFallsBackToInterfaceQuery(t *testing.T) {
	cp := seededFake(t)
	cp.SetAddresses("alpha-1", []controlplane.InterfaceAddress{
		{Address: "fe80::1", IPv4: false},
		{Address: "10.42.10.31", IPv4: true},
	})

	r := fastResolver(cp, &fakeProber{})
	access, err := r.Resolve(context.Background(), runningRecord())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if access.Address != "10.42.10.31" {
		t.Errorf("address = %q, want first IPv4 from interface query", access.Address)
	}
}

func TestResolveFailsWhenSourcesExhausted(t *testing.T) {
	cp := seededFake(t)

	r := fastResolver(cp, &fakeProber{})
	_, err := r.Resolve(context.Background(), runningRecord())
	if err == nil {
		t.Fatal("expected failure when neither source yields an address")
	}
	if errors.Is(err, ErrNotRunning) {
		t.Error("exhausted sources must not look like a not-running condition")
	}
}

func TestResolveTimeoutIsPartialSuccess(t *testing.T) {
	cp := seededFake(t)
	cp.SetLeases("tenant-a-net", []controlplane.DHCPLease{
		{Hostname: "alpha-1", Address: "10.42.10.23"},
	})

	prober := &fakeProber{readyAfter: -1}
	r := fastResolver(cp, prober)
	access, err := r.Resolve(context.Background(), runningRecord())
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if access.Ready {
		t.Error("expected ready=false after probe timeout")
	}
	if access.Address != "10.42.10.23" || access.Username != "forge" || access.Password == "" {
		t.Errorf("partial result must keep address and credential: %+v", access)
	}
	if prober.calls < 2 {
		t.Errorf("expected repeated probe attempts, got %d", prober.calls)
	}
}

func TestResolveReadyAfterRetries(t *testing.T) {
	cp := seededFake(t)
	cp.SetLeases("tenant-a-net", []controlplane.DHCPLease{
		{Hostname: "alpha-1", Address: "10.42.10.23"},
	})

	r := fastResolver(cp, &fakeProber{readyAfter: 3})
	access, err := r.Resolve(context.Background(), runningRecord())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !access.Ready {
		t.Error("expected ready=true once the probe answers")
	}
}

func TestResolveReusesExistingCredential(t *testing.T) {
	cp := seededFake(t)
	cp.SetLeases("tenant-a-net", []controlplane.DHCPLease{
		{Hostname: "alpha-1", Address: "10.42.10.23"},
	})

	rec := runningRecord()
	r := fastResolver(cp, &fakeProber{})
	access, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if access.Password != "Aa1!aaaaaaaaaaaa" {
		t.Error("existing credential must be reused, not regenerated")
	}
}

func TestResolveGeneratesCredentialWhenMissing(t *testing.T) {
	cp := seededFake(t)
	cp.SetLeases("tenant-a-net", []controlplane.DHCPLease{
		{Hostname: "alpha-1", Address: "10.42.10.23"},
	})

	rec := runningRecord()
	rec.Username = ""
	rec.Password = ""
	r := fastResolver(cp, &fakeProber{})
	access, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if access.Username != "forge" {
		t.Errorf("username = %q, want resolver default", access.Username)
	}
	if len(access.Password) == 0 {
		t.Error("expected a freshly generated credential")
	}
	if rec.Password != access.Password {
		t.Error("generated credential must be written back to the record")
	}
}
