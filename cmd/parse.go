package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file.html>",
		Short: "Merge a saved result page into the workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			markup, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			merger, err := appInstance.Merger()
			if err != nil {
				return err
			}
			res, err := merger.Merge(cmd.Context(), uuid.NewString(), markup)
			if errors.Is(err, harvest.ErrRecordNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no student name, nothing merged\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: merged as row %d (%s)\n", args[0], res.Serial, res.Label)
			return nil
		},
	}
}
