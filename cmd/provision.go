package cmd

import (
	"context"
	"errors"
	"time"

	"vmforge/internal/access"
	"vmforge/internal/logging"
	"vmforge/internal/machine"
	"vmforge/internal/remote"
	"vmforge/internal/request"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	provisionName   string
	provisionTenant string
	provisionCPU    int
	provisionMemory int
	provisionDisk   int
	provisionSmoke  bool
)

// provisionCmd represents the provision command
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a machine on its tenant's network segment",
	Long: `Provision runs the full workflow: ensure the tenant segment, create
the copy-on-write disk, build the bootstrap payload, register and start
the machine, then resolve its address and wait for SSH to answer.`,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := buildDeps()
		if err != nil {
			logging.Logger().Fatal("Failed to initialize", zap.Error(err))
		}
		defer d.close()

		ctx := context.Background()

		rec, err := d.orch.Provision(ctx, request.Raw{
			Name:     provisionName,
			Tenant:   provisionTenant,
			CPU:      provisionCPU,
			MemoryMB: provisionMemory,
			DiskGB:   provisionDisk,
		})
		if err != nil {
			logging.Logger().Fatal("Provisioning failed", zap.Error(err))
		}

		acc, err := d.resolver.Resolve(ctx, rec)
		if err != nil {
			if errors.Is(err, access.ErrNotRunning) {
				logging.Logger().Warn("machine not confirmed running; retry resolution with 'vmforge resolve'",
					zap.String("machine", rec.Name))
				printRecord(rec, nil)
				return
			}
			// Machine is up but unreachable; callers can retry resolution
			// without re-provisioning.
			logging.Logger().Error("machine running but unreachable", zap.Error(err))
			printRecord(rec, nil)
			return
		}

		if err := d.records.Save(ctx, rec); err != nil {
			logging.Logger().Warn("failed to persist resolved record", zap.Error(err))
		}

		if provisionSmoke && acc.Ready {
			runSmokeTest(acc, rec.Name)
		}

		printRecord(rec, acc)
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().StringVarP(&provisionName, "name", "n", "", "Machine name (required)")
	provisionCmd.Flags().StringVarP(&provisionTenant, "tenant", "t", "", "Tenant owning the machine (required)")
	provisionCmd.Flags().IntVar(&provisionCPU, "cpu", 2, "CPU count")
	provisionCmd.Flags().IntVar(&provisionMemory, "memory", 2048, "Memory in MB")
	provisionCmd.Flags().IntVar(&provisionDisk, "disk", 20, "Disk size in GB")
	provisionCmd.Flags().BoolVar(&provisionSmoke, "smoke-test", false, "Run a trivial command over SSH once ready")

	_ = provisionCmd.MarkFlagRequired("name")
	_ = provisionCmd.MarkFlagRequired("tenant")
}

func runSmokeTest(acc *machine.Access, name string) {
	shell, err := remote.Dial(acc, 0, 10*time.Second)
	if err != nil {
		logging.Logger().Warn("smoke test could not connect",
			zap.String("machine", name),
			zap.Error(err))
		return
	}
	defer shell.Close()

	out, err := shell.Run("hostname")
	if err != nil {
		logging.Logger().Warn("smoke test command failed",
			zap.String("machine", name),
			zap.Error(err))
		return
	}
	logging.Logger().Info("smoke test passed",
		zap.String("machine", name),
		zap.String("hostname", logging.Truncate(out)))
}
