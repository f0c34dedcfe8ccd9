package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cleanupOlderThanDays int
	cleanupCompletedOnly bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old session records, logs, and downloaded videos",
	Long:  "Removes state for sessions past the age threshold. Sessions with a live worker are never removed, regardless of age.",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupOlderThanDays, "older-than-days", 7, "delete sessions older than this many days")
	cleanupCmd.Flags().BoolVar(&cleanupCompletedOnly, "completed-only", true, "only delete sessions that reached a terminal state")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupOlderThanDays < 1 {
		return fmt.Errorf("older-than-days must be at least 1, got %d", cleanupOlderThanDays)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ctl := newController(cfg, store)

	olderThan := time.Duration(cleanupOlderThanDays) * 24 * time.Hour
	cleaned, err := ctl.Cleanup(olderThan, cleanupCompletedOnly)
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(struct {
			CleanedCount int `json:"cleaned_count"`
		}{CleanedCount: cleaned})
		return nil
	}
	fmt.Printf("Cleaned up %d sessions.\n", cleaned)
	return nil
}
