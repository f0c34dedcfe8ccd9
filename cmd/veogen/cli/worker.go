package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"veogen/internal/state"
	"veogen/internal/veo"
	"veogen/internal/worker"

	"github.com/spf13/cobra"
)

var (
	workerSessionID string
	workerStateDir  string
)

// workerCmd is the body of the spawned generation process, not a user-facing
// command. Its argv carries only the session ID and state directory: the job
// parameters live in the session record and the API key arrives via the
// environment, so neither shows up in process listings.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE:   runWorkerCmd,
}

func init() {
	workerCmd.Flags().StringVar(&workerSessionID, "session-id", "", "session to execute")
	workerCmd.Flags().StringVar(&workerStateDir, "state-dir", "", "state directory holding the session record")
	_ = workerCmd.MarkFlagRequired("session-id")
	_ = workerCmd.MarkFlagRequired("state-dir")
	rootCmd.AddCommand(workerCmd)
}

func runWorkerCmd(cmd *cobra.Command, args []string) error {
	// Structured logs to stderr; the supervisor already pointed stderr at
	// the per-session log file.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set in the worker environment")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.Open(workerStateDir)
	if err != nil {
		return err
	}

	baseURL := os.Getenv("VEOGEN_API_BASE_URL")
	client := veo.NewHTTPClient(apiKey, baseURL)

	w := worker.New(store, client, workerSessionID, worker.Options{
		PollInterval:    cfg.PollInterval(),
		MaxPollInterval: cfg.MaxPollInterval(),
		MaxPollFailures: cfg.Worker.MaxPollFailures,
	})

	// A termination signal cancels the context; the worker notices between
	// polls and still writes its terminal state before exiting.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Last-ditch crash handler: a panicking worker must not leave the record
	// in `running` when it can still be marked failed.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic", "session", workerSessionID, "panic", r, "stack", string(debug.Stack()))
			_, _ = store.Update(workerSessionID, func(s *state.Session) error {
				if err := s.Transition(state.StatusFailed, time.Now()); err != nil {
					return err
				}
				s.Error = &state.Failure{Stage: "worker", Message: fmt.Sprintf("worker panic: %v", r)}
				return nil
			})
			os.Exit(1)
		}
	}()

	return w.Run(ctx)
}
