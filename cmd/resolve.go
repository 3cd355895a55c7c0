package cmd

import (
	"context"
	"errors"

	"vmforge/internal/access"
	"vmforge/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveName string

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Re-resolve access details for a provisioned machine",
	Long: `Resolve discovers a machine's address and probes its SSH service
again, without re-provisioning. Useful when a machine was provisioned but
its shell was not yet reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := buildDeps()
		if err != nil {
			logging.Logger().Fatal("Failed to initialize", zap.Error(err))
		}
		defer d.close()

		ctx := context.Background()

		rec, ok, err := d.records.Get(ctx, resolveName)
		if err != nil {
			logging.Logger().Fatal("Failed to load record", zap.Error(err))
		}
		if !ok {
			logging.Logger().Fatal("No record for machine", zap.String("machine", resolveName))
		}

		acc, err := d.resolver.Resolve(ctx, rec)
		if err != nil {
			if errors.Is(err, access.ErrNotRunning) {
				logging.Logger().Fatal("Machine is not running; retry after it starts",
					zap.String("machine", resolveName))
			}
			logging.Logger().Fatal("Resolution failed", zap.Error(err))
		}

		if err := d.records.Save(ctx, rec); err != nil {
			logging.Logger().Warn("failed to persist resolved record", zap.Error(err))
		}

		printRecord(rec, acc)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveName, "name", "n", "", "Machine name (required)")
	_ = resolveCmd.MarkFlagRequired("name")
}
