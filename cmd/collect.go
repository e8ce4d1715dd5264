package cmd

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/app"
)

func newCollectCmd() *cobra.Command {
	var opts app.RunOptions
	cmd := &cobra.Command{
		Use:   "collect [run-label]",
		Short: "Runs a full harvest",
		Long: `Runs every phase of a harvest into <output_root>/<run-label>. The label
defaults to today's UTC date. Pass --resume with the same label to continue an
interrupted run past every unit it already completed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts.Label = time.Now().UTC().Format(time.DateOnly)
			if len(args) == 1 {
				opts.Label = args[0]
			}
			opts.Operator = operator()

			sum, runErr := appInstance.Collect(cmd.Context(), opts)
			if sum.RunID != "" {
				writeSummary(cmd.OutOrStdout(), sum)
			}
			if runErr != nil {
				appInstance.Logger().Error("Collect failed; re-run with --resume to continue",
					zap.String("label", opts.Label), zap.Error(runErr))
				return fmt.Errorf("collect %s: %w", opts.Label, runErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue the run with this label from its checkpoint")
	cmd.Flags().BoolVar(&opts.AllVariants, "all-variants", false, "collect every framework/version/mode the site offers")
	cmd.Flags().BoolVar(&opts.BrowserLogin, "browser-login", false, "sign in through an interactive browser")
	return cmd
}

func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

