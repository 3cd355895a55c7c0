package cmd

import (
	"context"

	"vmforge/internal/config"
	"vmforge/internal/image"
	"vmforge/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fetchImageURL string

// fetchImageCmd represents the fetch-image command
var fetchImageCmd = &cobra.Command{
	Use:   "fetch-image",
	Short: "Download the base image machines are cloned from",
	Long: `Download the shared base image to the configured base_image path.
The URL comes from base_image_url unless overridden with --url. An existing
image is left in place.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		url := fetchImageURL
		if url == "" {
			url = cfg.BaseImageURL
		}
		if url == "" {
			logging.Logger().Fatal("No image URL configured; set base_image_url or pass --url")
		}

		if err := image.NewFetcher().Fetch(context.Background(), url, cfg.BaseImage); err != nil {
			logging.Logger().Fatal("Failed to fetch base image", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(fetchImageCmd)

	fetchImageCmd.Flags().StringVar(&fetchImageURL, "url", "", "Image URL (overrides base_image_url)")
}
