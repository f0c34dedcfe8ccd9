package cli

import (
	"fmt"

	"veogen/internal/retrieval"
	"veogen/internal/veo"

	"github.com/spf13/cobra"
)

var (
	downloadIndex     int
	downloadOutputDir string
)

var downloadCmd = &cobra.Command{
	Use:   "download <session-id>",
	Short: "Download a generated video from a completed session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().IntVar(&downloadIndex, "index", 0, "index of the video to download (0-based)")
	downloadCmd.Flags().StringVarP(&downloadOutputDir, "output-dir", "o", "", "destination directory (default: per-session downloads dir)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	client := veo.NewHTTPClient(cfg.API.Key, cfg.API.BaseURL)
	svc := retrieval.New(store, client, cfg.DownloadsDir)

	result, err := svc.Download(cmd.Context(), args[0], downloadIndex, downloadOutputDir)
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(result)
		return nil
	}
	if result.Reused {
		fmt.Printf("Already downloaded: %s (%d bytes)\n", result.FilePath, result.FileSize)
	} else {
		fmt.Printf("Downloaded %s (%d bytes)\n", result.FilePath, result.FileSize)
	}
	return nil
}
