// Package orchestrator drives the provisioning workflow end to end. The
// workflow is a strictly sequential state machine; a failed stage stops it
// and leaves already-created resources (segment, volume, seed ISO) in
// place for operator cleanup. There is no rollback: compensating actions
// such as deleting a segment shared by other machines cannot be inferred
// safely, so partial results are reported instead of undone.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"vmforge/internal/bootstrap"
	"vmforge/internal/controlplane"
	"vmforge/internal/descriptor"
	"vmforge/internal/logging"
	"vmforge/internal/machine"
	"vmforge/internal/network"
	"vmforge/internal/request"
	"vmforge/internal/store"

	"go.uber.org/zap"
)

// Stage names a workflow step for failure reporting.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageNetwork   Stage = "network"
	StageStorage   Stage = "storage"
	StageBootstrap Stage = "bootstrap"
	StageRegister  Stage = "register"
	StageStart     Stage = "start"
	StageVerify    Stage = "verify"
)

// State is a position in the provisioning state machine.
type State string

const (
	StateCreated        State = "created"
	StateValidated      State = "validated"
	StateNetworkReady   State = "network-ready"
	StateStorageReady   State = "storage-ready"
	StateBootstrapReady State = "bootstrap-ready"
	StateRegistered     State = "registered"
	StateStarted        State = "started"
	StateVerified       State = "verified"
	StateRunning        State = "running"
	StateFailed         State = "failed"
)

// StageError reports which stage aborted the workflow.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("provisioning failed at stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SegmentEnsurer ensures a tenant's network segment exists and is started.
type SegmentEnsurer interface {
	Ensure(ctx context.Context, tenant string) (*network.Segment, error)
}

// VolumeProvisioner creates a machine's disk volume.
type VolumeProvisioner interface {
	Provision(ctx context.Context, machineName string, sizeGB int) (string, error)
}

// PayloadGenerator builds a machine's first-boot payload.
type PayloadGenerator interface {
	Generate(ctx context.Context, machineName string) (*bootstrap.Config, string, error)
}

// Orchestrator ties the provisioning stages together.
type Orchestrator struct {
	cp       controlplane.Client
	segments SegmentEnsurer
	volumes  VolumeProvisioner
	payloads PayloadGenerator
	records  store.RecordStore
}

// New creates an orchestrator. records may be nil when no persistence is
// configured; saving is best-effort either way.
func New(cp controlplane.Client, segments SegmentEnsurer, volumes VolumeProvisioner, payloads PayloadGenerator, records store.RecordStore) *Orchestrator {
	return &Orchestrator{
		cp:       cp,
		segments: segments,
		volumes:  volumes,
		payloads: payloads,
		records:  records,
	}
}

// Provision runs the workflow for one raw request. On failure the returned
// error is a *StageError naming the stage that aborted; the returned
// record, when non-nil, reflects how far the workflow got.
func (o *Orchestrator) Provision(ctx context.Context, raw request.Raw) (*machine.Record, error) {
	state := StateCreated

	req, err := request.Validate(raw)
	if err != nil {
		return nil, &StageError{Stage: StageValidate, Err: err}
	}
	state = o.transition(state, StateValidated, req.Name)

	rec := &machine.Record{
		Name:      req.Name,
		Tenant:    req.Tenant,
		VLAN:      req.VLAN,
		CPU:       req.CPU,
		MemoryMB:  req.MemoryMB,
		DiskGB:    req.DiskGB,
		Status:    machine.StatusCreating,
		CreatedAt: time.Now().UTC(),
	}

	seg, err := o.segments.Ensure(ctx, req.Tenant)
	if err != nil {
		return rec, o.fail(rec, StageNetwork, err)
	}
	state = o.transition(state, StateNetworkReady, req.Name)

	volumePath, err := o.volumes.Provision(ctx, req.Name, req.DiskGB)
	if err != nil {
		return rec, o.fail(rec, StageStorage, err)
	}
	state = o.transition(state, StateStorageReady, req.Name)

	payload, seedPath, err := o.payloads.Generate(ctx, req.Name)
	if err != nil {
		return rec, o.fail(rec, StageBootstrap, err)
	}
	rec.Username = payload.Username
	rec.Password = payload.Password
	state = o.transition(state, StateBootstrapReady, req.Name)

	xml, identity, err := descriptor.Build(rec, volumePath, seedPath)
	if err != nil {
		// Unreachable when validation ran first; treated as an
		// internal-consistency fault of the register stage.
		return rec, o.fail(rec, StageRegister, err)
	}

	domID, err := o.cp.DefineDomain(ctx, xml)
	if err != nil {
		return rec, o.fail(rec, StageRegister, err)
	}
	state = o.transition(state, StateRegistered, req.Name)

	if err := o.cp.StartDomain(ctx, domID); err != nil {
		return rec, o.fail(rec, StageStart, err)
	}
	state = o.transition(state, StateStarted, req.Name)

	// Verification is best-effort: start success is authoritative, and a
	// failed confirmation downgrades to a warning instead of failing the
	// whole operation.
	info, err := o.cp.DomainInfo(ctx, domID)
	switch {
	case err != nil:
		logging.Logger().Warn("machine state unverified",
			zap.String("machine", req.Name),
			zap.Error(err))
		rec.Status = machine.StatusUnknown
	case info.State == controlplane.DomainStateRunning:
		state = o.transition(state, StateVerified, req.Name)
		rec.Status = machine.StatusRunning
	default:
		logging.Logger().Warn("machine started but control plane reports it not running",
			zap.String("machine", req.Name),
			zap.Int("state", int(info.State)))
		rec.Status = machine.StatusUnknown
	}
	state = o.transition(state, StateRunning, req.Name)

	o.save(ctx, rec)

	logging.Logger().Info("machine provisioned",
		zap.String("machine", req.Name),
		zap.String("tenant", req.Tenant),
		zap.String("segment", seg.Name),
		zap.String("volume", volumePath),
		zap.String("mac", identity.MAC),
		zap.String("status", rec.Status))

	return rec, nil
}

func (o *Orchestrator) transition(from, to State, name string) State {
	logging.Logger().Debug("workflow transition",
		zap.String("machine", name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return to
}

func (o *Orchestrator) fail(rec *machine.Record, stage Stage, err error) error {
	rec.Status = machine.StatusUnknown
	logging.Logger().Error("provisioning stage failed",
		zap.String("machine", rec.Name),
		zap.String("stage", string(stage)),
		zap.Error(err))
	return &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) save(ctx context.Context, rec *machine.Record) {
	if o.records == nil {
		return
	}
	if err := o.records.Save(ctx, rec); err != nil {
		logging.Logger().Warn("failed to persist machine record",
			zap.String("machine", rec.Name),
			zap.Error(err))
	}
}
