// Package cmd defines the CLI commands of the harvester executable.
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

	"github.com/JakeFAU/uiblocks-harvester/internal/app"
	"github.com/JakeFAU/uiblocks-harvester/internal/config"
	"github.com/JakeFAU/uiblocks-harvester/internal/logging"
	"github.com/JakeFAU/uiblocks-harvester/internal/pipeline"
	"github.com/JakeFAU/uiblocks-harvester/internal/session"
)

// version is stamped at build time with -ldflags.
var version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests swap in a
// fake through newApp.
type App interface {
	Collect(ctx context.Context, opts app.RunOptions) (pipeline.Summary, error)
	Login(ctx context.Context, browser bool) (*session.Session, error)
	Logout() error
	SessionStatus(ctx context.Context) (*session.Session, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger, app.WithVersion(version))
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvests a gated design-system catalog into a clean dataset.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Long: `harvester signs in to the component catalog, fetches every subcategory in
every framework, version and color mode, merges the fragments into one tree
per variant, correlates the modes into one record per component, strips the
records down to metadata and writes an index and manifest for the run.

Every unit of work is checkpointed; re-run with --resume after a failure.`,

		// Builds the App once flags are parsed and hands it to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["app"] == "none" {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
					appInstance.Logger().Warn("Shutdown failed", zap.Error(err))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newAuthCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with SIGINT/SIGTERM cancelling the context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
