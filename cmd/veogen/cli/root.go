package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"veogen/internal/config"
	"veogen/internal/controller"
	"veogen/internal/state"
	"veogen/internal/supervisor"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:     "veogen",
	Short:   "Background video generation sessions",
	Long:    "veogen starts Veo video generations as detached worker processes, then lets you poll, list, download, cancel, and clean up the resulting sessions.",
	Version: config.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// resolveConfigPath determines which config file to use, if any.
// Priority: --config flag > ./veogen.toml > ~/.config/veogen/config.toml.
// Returns "" when no file exists; the tool then runs on defaults + env.
func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if _, err := os.Stat("veogen.toml"); err == nil {
		return "veogen.toml"
	}
	if globalPath, err := config.GlobalConfigPath(); err == nil {
		if _, err := os.Stat(globalPath); err == nil {
			return globalPath
		}
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	if path := resolveConfigPath(); path != "" {
		return config.Load(path)
	}
	return config.Default()
}

func openStore(cfg *config.Config) (*state.Store, error) {
	return state.Open(cfg.StateDir)
}

// newController wires the facade the commands talk to. The API key reaches
// workers through their environment; argv stays free of parameters and
// secrets.
func newController(cfg *config.Config, store *state.Store) *controller.Controller {
	var workerEnv []string
	if cfg.API.Key != "" {
		workerEnv = append(workerEnv, "GEMINI_API_KEY="+cfg.API.Key)
	}
	if cfg.API.BaseURL != "" {
		workerEnv = append(workerEnv, "VEOGEN_API_BASE_URL="+cfg.API.BaseURL)
	}
	return controller.New(store, supervisor.New(cfg.LogDir()), controller.Options{
		DownloadsRoot: cfg.DownloadsDir,
		WorkerEnv:     workerEnv,
		CancelGrace:   cfg.CancelGrace(),
	})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
