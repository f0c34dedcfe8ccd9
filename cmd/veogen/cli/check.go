package cli

import (
	"fmt"

	"veogen/internal/registry"
	"veogen/internal/state"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <session-id>",
	Short: "Check the status of a generation session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkOutput is the status snapshot reported to callers. Status is the
// effective status after liveness reconciliation; the persisted record is
// never rewritten by a read.
type checkOutput struct {
	SessionID   string       `json:"session_id"`
	Status      state.Status `json:"status"`
	Progress    string       `json:"progress,omitempty"`
	Prompt      string       `json:"prompt"`
	Model       string       `json:"model"`
	PID         int          `json:"pid,omitempty"`
	VideoCount  int          `json:"video_count,omitempty"`
	Error       string       `json:"error,omitempty"`
	StartedAt   string       `json:"started_at"`
	CompletedAt string       `json:"completed_at,omitempty"`
}

func snapshot(view registry.View) checkOutput {
	sess := view.Session
	out := checkOutput{
		SessionID: sess.ID,
		Status:    view.Effective,
		Progress:  sess.Progress,
		Prompt:    sess.Params.Prompt,
		Model:     sess.Params.Model,
		PID:       sess.PID,
		StartedAt: sess.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if view.Effective == state.StatusCompleted {
		out.VideoCount = len(sess.Videos)
	}
	if sess.Error != nil {
		out.Error = sess.Error.Error()
	}
	if view.Reason != "" {
		out.Error = view.Reason
	}
	if sess.CompletedAt != nil {
		out.CompletedAt = sess.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return out
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ctl := newController(cfg, store)

	view, err := ctl.Check(args[0])
	if err != nil {
		return err
	}
	out := snapshot(view)

	if jsonOut {
		printJSON(out)
		return nil
	}
	fmt.Printf("%s  %s\n", out.SessionID, out.Status)
	if out.Progress != "" {
		fmt.Printf("  progress: %s\n", out.Progress)
	}
	if out.VideoCount > 0 {
		fmt.Printf("  videos:   %d (use 'veogen download %s')\n", out.VideoCount, out.SessionID)
	}
	if out.Error != "" {
		fmt.Printf("  error:    %s\n", out.Error)
	}
	return nil
}
