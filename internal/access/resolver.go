// Package access turns a started machine into usable connection details:
// it discovers the machine's address, attaches a login credential and
// probes the machine's shell service until it answers or a deadline
// passes.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vmforge/internal/bootstrap"
	"vmforge/internal/controlplane"
	"vmforge/internal/logging"
	"vmforge/internal/machine"
	"vmforge/internal/tenant"

	"go.uber.org/zap"
)

// ErrNotRunning is returned when resolution is requested for a machine the
// record does not show as running. Callers can retry after a delay; it is
// distinct from every other resolution failure.
var ErrNotRunning = errors.New("machine is not running")

// Default probe cadence.
const (
	DefaultProbeInterval = 2 * time.Second
	DefaultProbeTimeout  = 60 * time.Second
)

// Prober attempts one readiness check against a shell endpoint.
type Prober interface {
	Probe(ctx context.Context, address, username, password string) bool
}

// Resolver discovers addresses and probes shell readiness.
type Resolver struct {
	cp          controlplane.Client
	prober      Prober
	interval    time.Duration
	timeout     time.Duration
	defaultUser string
}

// NewResolver creates a resolver. Zero interval/timeout select the
// defaults.
func NewResolver(cp controlplane.Client, prober Prober, defaultUser string, interval, timeout time.Duration) *Resolver {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Resolver{
		cp:          cp,
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		defaultUser: defaultUser,
	}
}

// Resolve produces access details for a running machine. A probe timeout
// is not an error: the returned Access carries Ready=false alongside the
// discovered address and credential, and the caller decides what to do
// with an unreachable-but-running machine.
func (r *Resolver) Resolve(ctx context.Context, rec *machine.Record) (*machine.Access, error) {
	if rec.Status != machine.StatusRunning {
		return nil, fmt.Errorf("%w: status is %q", ErrNotRunning, rec.Status)
	}

	address, err := r.discoverAddress(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.Address = address

	if rec.Username == "" {
		rec.Username = r.defaultUser
	}
	if rec.Password == "" {
		password, err := bootstrap.GeneratePassword(bootstrap.DefaultPasswordLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate credential: %w", err)
		}
		rec.Password = password
	}

	access := &machine.Access{
		Address:  address,
		Username: rec.Username,
		Password: rec.Password,
	}
	access.Ready = r.waitReady(ctx, access)
	if !access.Ready {
		logging.Logger().Warn("machine running but shell service not reachable within deadline",
			zap.String("machine", rec.Name),
			zap.String("address", address),
			zap.Duration("timeout", r.timeout))
	}
	return access, nil
}

// discoverAddress tries the tenant segment's lease table first, then a
// live interface query. Lease-table entries win even when both sources
// would answer.
func (r *Resolver) discoverAddress(ctx context.Context, rec *machine.Record) (string, error) {
	assignment, ok := tenant.Lookup(rec.Tenant)
	if !ok {
		return "", fmt.Errorf("tenant %q has no segment mapping", rec.Tenant)
	}

	if netID, err := r.cp.LookupNetwork(ctx, assignment.Segment); err == nil {
		leases, lerr := r.cp.DHCPLeases(ctx, netID)
		if lerr != nil {
			logging.Logger().Debug("lease query failed, falling back to interface query",
				zap.String("machine", rec.Name),
				zap.Error(lerr))
		}
		for _, lease := range leases {
			if lease.Hostname == rec.Name && lease.Address != "" {
				logging.Logger().Debug("address resolved from lease table",
					zap.String("machine", rec.Name),
					zap.String("address", lease.Address))
				return lease.Address, nil
			}
		}
	}

	domID, err := r.cp.LookupDomain(ctx, rec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to look up machine for address query: %w", err)
	}
	addrs, err := r.cp.InterfaceAddresses(ctx, domID)
	if err != nil {
		return "", fmt.Errorf("failed to query interface addresses: %w", err)
	}
	for _, addr := range addrs {
		if addr.IPv4 && addr.Address != "" {
			logging.Logger().Debug("address resolved from interface query",
				zap.String("machine", rec.Name),
				zap.String("address", addr.Address))
			return addr.Address, nil
		}
	}

	return "", fmt.Errorf("no address found for machine %q in leases or interfaces", rec.Name)
}

func (r *Resolver) waitReady(ctx context.Context, access *machine.Access) bool {
	deadline := time.Now().Add(r.timeout)
	for {
		if r.prober.Probe(ctx, access.Address, access.Username, access.Password) {
			return true
		}
		if time.Now().Add(r.interval).After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.interval):
		}
	}
}
