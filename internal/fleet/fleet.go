// Package fleet provisions batches of machines from a YAML manifest. Items
// run concurrently on a bounded pool; each machine's resources are scoped
// to its own name and tenant segment, so parallel runs are safe. Two items
// for the same tenant may race ensure on the segment, which the control
// plane tolerates as a duplicate-define attempt.
package fleet

import (
	"context"
	"fmt"
	"os"
	"sync"

	"vmforge/internal/logging"
	"vmforge/internal/machine"
	"vmforge/internal/request"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Provisioner runs one provisioning workflow. Implemented by the
// orchestrator.
type Provisioner interface {
	Provision(ctx context.Context, raw request.Raw) (*machine.Record, error)
}

// Item is one machine in a manifest.
type Item struct {
	Name     string `yaml:"name"`
	Tenant   string `yaml:"tenant"`
	CPU      int    `yaml:"cpu"`
	MemoryMB int    `yaml:"memory_mb"`
	DiskGB   int    `yaml:"disk_gb"`
}

// Manifest is the YAML document the fleet command consumes.
type Manifest struct {
	Machines []Item `yaml:"machines"`
}

// Result is the outcome for one manifest item.
type Result struct {
	Name   string
	Record *machine.Record
	Err    error
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Machines) == 0 {
		return nil, fmt.Errorf("manifest contains no machines")
	}
	return &m, nil
}

// Run provisions every manifest item on a pool of maxWorkers. It always
// returns one result per item, in manifest order.
func Run(ctx context.Context, prov Provisioner, m *Manifest, maxWorkers int) []Result {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	logging.Logger().Info("starting fleet provisioning",
		zap.Int("machines", len(m.Machines)),
		zap.Int("max_workers", maxWorkers))

	results := make([]Result, len(m.Machines))
	var mu sync.Mutex

	pool := pond.NewPool(maxWorkers)
	for i, item := range m.Machines {
		pool.Submit(func() {
			rec, err := prov.Provision(ctx, request.Raw{
				Name:     item.Name,
				Tenant:   item.Tenant,
				CPU:      item.CPU,
				MemoryMB: item.MemoryMB,
				DiskGB:   item.DiskGB,
			})
			if err != nil {
				logging.Logger().Error("fleet item failed",
					zap.String("machine", item.Name),
					zap.Error(err))
			}
			mu.Lock()
			results[i] = Result{Name: item.Name, Record: rec, Err: err}
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}
	logging.Logger().Info("fleet provisioning finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded))

	return results
}
