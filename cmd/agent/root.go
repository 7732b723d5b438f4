package main

import (
	"context"
	"fmt"

	"search-agent/internal/application/port/input"
	"search-agent/internal/application/port/output"
	"search-agent/internal/di"
	"search-agent/internal/infrastructure/env"

	"github.com/spf13/cobra"
)

type options struct {
	provider   string
	model      string
	retries    int
	noHistory  bool
	files      []string
	raw        bool
	concurrent bool
	addr       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Web-search assistant backed by an LLM tool loop",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.provider, "provider", "", "model provider: gemini, openrouter, anthropic, ollama, langchain (env LLM_PROVIDER)")
	pf.StringVar(&opts.model, "model", "", "model name (env LLM_MODEL)")
	pf.IntVar(&opts.retries, "retries", 0, "retry budget for rate limits and server errors; -1 retries forever (env AGENT_RETRIES)")
	pf.BoolVar(&opts.concurrent, "concurrent", false, "run tool calls of one round concurrently")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "show model thinking and debug logs")

	root.AddCommand(newAskCmd(opts), newChatCmd(opts), newServeCmd(opts))
	return root
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cobra.Command, opts *options, observer output.TurnObserver) (di.Config, error) {
	cfg, err := di.ConfigFromEnv(env.NewEnvService())
	if err != nil {
		return cfg, err
	}
	applyFlags(cmd, opts, &cfg)
	cfg.Observer = observer
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *di.Config) {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = opts.provider
	}
	if flags.Changed("model") {
		cfg.Model = opts.model
	}
	if flags.Changed("retries") {
		cfg.Retries = opts.retries
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
}

func turnOptions(opts *options) []input.TurnOption {
	var out []input.TurnOption
	if opts.noHistory {
		out = append(out, input.WithoutHistory())
	}
	if len(opts.files) > 0 {
		out = append(out, input.WithFiles(opts.files...))
	}
	if opts.concurrent {
		out = append(out, input.WithConcurrentTools())
	}
	return out
}

func newContainer(ctx context.Context, cmd *cobra.Command, opts *options, observer output.TurnObserver) (*di.Container, error) {
	cfg, err := loadConfig(cmd, opts, observer)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return di.NewContainer(ctx, cfg)
}
