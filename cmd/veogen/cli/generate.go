package cli

import (
	"fmt"

	"veogen/internal/config"
	"veogen/internal/state"

	"github.com/spf13/cobra"
)

var (
	genModel            string
	genAspectRatio      string
	genNegativePrompt   string
	genPersonGeneration string
	genResolution       string
	genCount            int
	genDuration         int
	genSeed             int64
	genEnhancePrompt    bool
	genAudio            bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Start a background video generation",
	Long:  "Starts a detached worker process for the generation and returns immediately. Use 'veogen check' to follow progress.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genModel, "model", "", "generation model (default from config)")
	generateCmd.Flags().StringVar(&genAspectRatio, "aspect-ratio", "16:9", "video aspect ratio: 16:9 or 9:16")
	generateCmd.Flags().StringVar(&genNegativePrompt, "negative-prompt", "", "elements to avoid in the generation")
	generateCmd.Flags().StringVar(&genPersonGeneration, "person-generation", "allow_adult", "person generation policy: allow_adult or dont_allow")
	generateCmd.Flags().StringVar(&genResolution, "resolution", "", "video resolution: 720p or 1080p")
	generateCmd.Flags().IntVar(&genCount, "count", 1, "number of video variations (1-4)")
	generateCmd.Flags().IntVar(&genDuration, "duration", 0, "video duration in seconds (model default if 0)")
	generateCmd.Flags().Int64Var(&genSeed, "seed", -1, "seed for reproducible generation (-1 for random)")
	generateCmd.Flags().BoolVar(&genEnhancePrompt, "enhance-prompt", false, "let the model enhance the prompt")
	generateCmd.Flags().BoolVar(&genAudio, "audio", false, "generate audio for the video")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	params, err := buildParams(cfg, args[0])
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ctl := newController(cfg, store)

	result, err := ctl.Start(params)
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(result)
		return nil
	}
	fmt.Printf("Session %s started (pid %d, status %s).\n", result.SessionID, result.PID, result.Status)
	fmt.Printf("Run 'veogen check %s' to follow progress.\n", result.SessionID)
	return nil
}

func buildParams(cfg *config.Config, prompt string) (state.Params, error) {
	if prompt == "" {
		return state.Params{}, fmt.Errorf("prompt must not be empty")
	}

	model := genModel
	if model == "" {
		model = cfg.API.Model
	}
	if !config.IsSupportedModel(model) {
		return state.Params{}, fmt.Errorf("unsupported model %q", model)
	}

	switch genAspectRatio {
	case "16:9", "9:16":
	default:
		return state.Params{}, fmt.Errorf("unsupported aspect ratio %q (use 16:9 or 9:16)", genAspectRatio)
	}
	switch genPersonGeneration {
	case "allow_adult", "dont_allow":
	default:
		return state.Params{}, fmt.Errorf("unsupported person-generation %q (use allow_adult or dont_allow)", genPersonGeneration)
	}
	switch genResolution {
	case "", "720p", "1080p":
	default:
		return state.Params{}, fmt.Errorf("unsupported resolution %q (use 720p or 1080p)", genResolution)
	}
	if genCount < 1 || genCount > 4 {
		return state.Params{}, fmt.Errorf("count must be between 1 and 4, got %d", genCount)
	}
	if genDuration < 0 {
		return state.Params{}, fmt.Errorf("duration must not be negative")
	}

	params := state.Params{
		Prompt:           prompt,
		Model:            model,
		AspectRatio:      genAspectRatio,
		NegativePrompt:   genNegativePrompt,
		PersonGeneration: genPersonGeneration,
		Resolution:       genResolution,
		NumberOfVideos:   genCount,
		DurationSeconds:  genDuration,
		EnhancePrompt:    genEnhancePrompt,
		GenerateAudio:    genAudio,
	}
	if genSeed >= 0 {
		seed := genSeed
		params.Seed = &seed
	}
	return params, nil
}
