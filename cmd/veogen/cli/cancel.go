package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running generation session",
	Long:  "Sends the session's worker a termination signal, escalating to a forced kill after the grace period. The worker records the cancelled state itself.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ctl := newController(cfg, store)

	result, err := ctl.Cancel(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(result)
		return nil
	}
	if result.Killed {
		fmt.Printf("Session %s worker did not stop gracefully and was killed.\n", result.SessionID)
	} else {
		fmt.Printf("Session %s cancelled.\n", result.SessionID)
	}
	return nil
}
