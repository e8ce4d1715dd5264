package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	var browser, logout, status bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manages the persisted catalog session",
		Long: `Without flags, signs in with the credential chain and saves the session so
the next collect --resume can reuse it. --browser signs in interactively,
--status probes the saved session and --logout deletes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logout && status {
				return errors.New("--logout and --status are mutually exclusive")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case logout:
				if err := appInstance.Logout(); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				fmt.Fprintln(out, "session removed")
			case status:
				s, err := appInstance.SessionStatus(cmd.Context())
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(out, "no saved session")
					return nil
				}
				if err != nil {
					return fmt.Errorf("session status: %w", err)
				}
				fmt.Fprintf(out, "session valid (asset version %s)\n", s.AssetVersion())
			default:
				s, err := appInstance.Login(cmd.Context(), browser)
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				fmt.Fprintf(out, "signed in (asset version %s)\n", s.AssetVersion())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&browser, "browser", false, "sign in through an interactive browser")
	cmd.Flags().BoolVar(&logout, "logout", false, "delete the saved session")
	cmd.Flags().BoolVar(&status, "status", false, "check whether the saved session is still valid")
	return cmd
}
