package cmd

import (
	"context"
	"fmt"

	"vmforge/internal/config"
	"vmforge/internal/logging"
	"vmforge/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List provisioned machines",
	Long:  `List all machine records known to the configured record store.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		records := store.NewStore(cfg.EtcdEndpoints, cfg.StateFile)
		defer records.Close()

		list, err := records.List(context.Background())
		if err != nil {
			logging.Logger().Fatal("Failed to list records", zap.Error(err))
		}
		if len(list) == 0 {
			fmt.Println("no machines provisioned")
			return
		}

		fmt.Printf("%-20s %-10s %-5s %-8s %-6s %-10s %s\n",
			"NAME", "TENANT", "CPU", "MEM(MB)", "DISK", "STATUS", "ADDRESS")
		for _, rec := range list {
			fmt.Printf("%-20s %-10s %-5d %-8d %-6d %-10s %s\n",
				rec.Name, rec.Tenant, rec.CPU, rec.MemoryMB, rec.DiskGB, rec.Status, rec.Address)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
