package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vcopcoach/internal/app"
	"vcopcoach/internal/config"
	"vcopcoach/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vcopcoach",
		Short: "VCOP writing coach",
		Long: `vcopcoach gives primary-school students annotated feedback on their
writing (Vocabulary, Connectives, Openers, Punctuation), tracks each
student's progress across submissions, and serves the classroom web API.

Configuration is read from config.yaml (or CONFIG_PATH) with environment
overrides.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newStudentCmd(),
		newGradeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp loads configuration and wires the services. The caller closes it.
func openApp() (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return app.New(cfg, lg)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}
