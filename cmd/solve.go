package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <image|url|data-uri>",
		Short: "Run CAPTCHA recognition on one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			solver, release, err := appInstance.Solver()
			if err != nil {
				return err
			}
			defer release()

			img, err := os.ReadFile(args[0])
			if err != nil {
				img, err = appInstance.ImageSource().Load(cmd.Context(), args[0], nil)
				if err != nil {
					return fmt.Errorf("load image: %w", err)
				}
			}
			answer := solver.Solve(cmd.Context(), img)
			if answer == "" {
				return fmt.Errorf("no text recognised")
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}
