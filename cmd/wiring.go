package cmd

import (
	"encoding/json"
	"fmt"

	"vmforge/internal/access"
	"vmforge/internal/bootstrap"
	"vmforge/internal/config"
	"vmforge/internal/controlplane"
	"vmforge/internal/hostcmd"
	"vmforge/internal/logging"
	"vmforge/internal/machine"
	"vmforge/internal/network"
	"vmforge/internal/orchestrator"
	"vmforge/internal/storage"
	"vmforge/internal/store"

	"go.uber.org/zap"
)

// deps is everything a provisioning command needs, wired from config.
type deps struct {
	cfg      *config.Config
	cp       controlplane.Client
	orch     *orchestrator.Orchestrator
	resolver *access.Resolver
	records  store.RecordStore
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cp, err := controlplane.Connect(cfg.LibvirtURI)
	if err != nil {
		return nil, err
	}

	runner := hostcmd.ExecRunner{}
	records := store.NewStore(cfg.EtcdEndpoints, cfg.StateFile)

	orch := orchestrator.New(
		cp,
		network.NewManager(cp),
		storage.NewProvisioner(runner, cfg.ImageRoot, cfg.BaseImage),
		bootstrap.NewGenerator(runner, cfg.ImageRoot, cfg.LoginUser, cfg.PasswordLength),
		records,
	)

	resolver := access.NewResolver(
		cp,
		access.NewSSHProbe(cfg.SSHPort),
		cfg.LoginUser,
		cfg.ProbeInterval(),
		cfg.ProbeTimeout(),
	)

	return &deps{cfg: cfg, cp: cp, orch: orch, resolver: resolver, records: records}, nil
}

func (d *deps) close() {
	if err := d.cp.Close(); err != nil {
		logging.Logger().Warn("failed to close control-plane connection", zap.Error(err))
	}
	if err := d.records.Close(); err != nil {
		logging.Logger().Warn("failed to close record store", zap.Error(err))
	}
}

// recordOutput is the shape printed for callers.
type recordOutput struct {
	Name   string          `json:"name"`
	Tenant string          `json:"tenant"`
	CPU    int             `json:"cpu"`
	Memory int             `json:"memory"`
	Disk   int             `json:"disk"`
	Status string          `json:"status"`
	Access *machine.Access `json:"access,omitempty"`
}

func printRecord(rec *machine.Record, acc *machine.Access) {
	out := recordOutput{
		Name:   rec.Name,
		Tenant: rec.Tenant,
		CPU:    rec.CPU,
		Memory: rec.MemoryMB,
		Disk:   rec.DiskGB,
		Status: rec.Status,
		Access: acc,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logging.Logger().Error("failed to render record", zap.Error(err))
		return
	}
	fmt.Println(string(data))
}
