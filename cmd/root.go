// Package cmd defines the CLI commands for the sitespider executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/app"
	"github.com/JakeFAU/sitespider/internal/config"
	"github.com/JakeFAU/sitespider/internal/spider"
)

type appKeyType string

const appKey appKeyType = "app"

// Runner is the part of app.App the commands use. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context) (spider.Result, error)
	Logger() *zap.Logger
	RunID() string
	Close()
}

// newApp builds the run services. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (Runner, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "sitespider",
		Short: "A bounded crawl-and-parse spider for a single site.",
		Long: `sitespider walks one site from a start page, keeps the links under the
base URL, and runs an extraction strategy against every page that matches the
capture pattern. The crawl stage runs under a deadline; the extracted records
are written once, as JSON or CSV, when the run completes.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand, so the
		// subcommand's flags take part in config loading.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			runner, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, runner))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().Bool("verbose", true, "enable logging")
	cmd.PersistentFlags().Bool("development", true, "human-readable development logs")

	cmd.AddCommand(newRunCmd())
	return cmd
}

func resolveRunner(ctx context.Context) (Runner, error) {
	runner, ok := ctx.Value(appKey).(Runner)
	if !ok || runner == nil {
		return nil, errors.New("application services not initialized")
	}
	return runner, nil
}

// Execute is the main entry point. It exits non-zero when the command fails.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitespider: %v\n", err)
		os.Exit(1)
	}
}
