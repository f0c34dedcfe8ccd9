package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listActive bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List generation sessions",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listActive, "active", false, "only show sessions that are still in flight")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ctl := newController(cfg, store)

	views, err := ctl.List(listActive)
	if err != nil {
		return err
	}

	if jsonOut {
		out := make([]checkOutput, 0, len(views))
		for _, v := range views {
			out = append(out, snapshot(v))
		}
		printJSON(struct {
			Sessions []checkOutput `json:"sessions"`
			Total    int           `json:"total"`
		}{Sessions: out, Total: len(out)})
		return nil
	}

	if len(views) == 0 {
		if listActive {
			fmt.Println("No active sessions.")
		} else {
			fmt.Println("No sessions.")
		}
		return nil
	}

	for _, v := range views {
		out := snapshot(v)
		fmt.Printf("%-28s %-10s %-28s %s\n", out.SessionID, out.Status, out.Model, truncate(out.Prompt, 60))
	}
	fmt.Printf("\n%d sessions.\n", len(views))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
