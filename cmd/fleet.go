package cmd

import (
	"context"
	"fmt"
	"os"

	"vmforge/internal/fleet"
	"vmforge/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fleetManifestPath string

// fleetCmd represents the fleet command
var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Provision a batch of machines from a manifest",
	Long: `Provision every machine listed in a YAML manifest. Items run
concurrently on a bounded worker pool; a failed item does not abort the rest.`,
	Run: func(cmd *cobra.Command, args []string) {
		manifest, err := fleet.LoadManifest(fleetManifestPath)
		if err != nil {
			logging.Logger().Fatal("Failed to load manifest", zap.Error(err))
		}

		d, err := buildDeps()
		if err != nil {
			logging.Logger().Fatal("Failed to initialize", zap.Error(err))
		}
		defer d.close()

		results := fleet.Run(context.Background(), d.orch, manifest, d.cfg.MaxWorkers)

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("%-20s failed: %v\n", r.Name, r.Err)
				continue
			}
			fmt.Printf("%-20s %s\n", r.Name, r.Record.Status)
			if err := d.records.Save(context.Background(), r.Record); err != nil {
				logging.Logger().Warn("Failed to save record",
					zap.String("machine", r.Name), zap.Error(err))
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(fleetCmd)

	fleetCmd.Flags().StringVarP(&fleetManifestPath, "manifest", "m", "", "Path to fleet manifest YAML")
	fleetCmd.MarkFlagRequired("manifest")
}
