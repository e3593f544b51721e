package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/result-harvester/internal/batch"
	"github.com/JakeFAU/result-harvester/internal/config"
)

type fetchFlags struct {
	prefix     string
	start      int
	end        int
	width      int
	program    int
	semester   string
	nonGrading bool
}

func newFetchCmd() *cobra.Command {
	var flags fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Retrieve results for a range of enrollment numbers",
		Example: `  harvester fetch --prefix 0805CS24 --start 1001 --end 1050 --width 4 \
    --program 2 --semester 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.prefix, "prefix", "", "identifier prefix, e.g. 0805CS24")
	f.IntVar(&flags.start, "start", 0, "first number of the range")
	f.IntVar(&flags.end, "end", 0, "last number of the range (inclusive)")
	f.IntVar(&flags.width, "width", 3, "zero-padded width of the number")
	f.IntVar(&flags.program, "program", 1, "1-based program option on the landing page")
	f.StringVar(&flags.semester, "semester", "1", "semester option value")
	f.BoolVar(&flags.nonGrading, "non-grading", false, "request the non-grading result type")
	return cmd
}

// applyFlags overrides batch settings with the flags the user set.
func applyFlags(cmd *cobra.Command, cfg config.BatchConfig, flags fetchFlags) config.BatchConfig {
	f := cmd.Flags()
	if f.Changed("prefix") {
		cfg.Prefix = flags.prefix
	}
	if f.Changed("start") {
		cfg.Start = flags.start
	}
	if f.Changed("end") {
		cfg.End = flags.end
	}
	if f.Changed("width") {
		cfg.Width = flags.width
	}
	if f.Changed("program") {
		cfg.Program = flags.program
	}
	if f.Changed("semester") {
		cfg.Semester = flags.semester
	}
	if f.Changed("non-grading") {
		cfg.Grading = !flags.nonGrading
	}
	return cfg
}

func runFetch(cmd *cobra.Command, flags fetchFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	cfg.Batch = applyFlags(cmd, cfg.Batch, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	solver, releaseSolver, err := appInstance.Solver()
	if err != nil {
		return err
	}
	defer releaseSolver()

	nav, err := appInstance.Navigator(solver)
	if err != nil {
		return err
	}
	runner, releaseRunner, err := appInstance.Runner(cmd.Context(), cfg.Selection(), nav)
	if err != nil {
		return err
	}
	defer releaseRunner()

	appInstance.ServeMetrics(cmd.Context())

	sum, err := runner.Run(cmd.Context(), cfg.Range())
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	renderSummary(cmd.OutOrStdout(), sum)
	return nil
}

func renderSummary(w io.Writer, sum batch.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("run %s", sum.RunID))
	t.AppendHeader(table.Row{"Outcome", "Count"})
	t.AppendRows([]table.Row{
		{"merged", sum.Merged},
		{"not found (written)", sum.NotFoundWritten},
		{"not found (skipped)", sum.NotFoundSkipped},
		{"captcha rejected", sum.Rejected},
		{"timed out", sum.TimedOut},
		{"option not found", sum.OptionNotFound},
		{"failed", sum.Failed},
	})
	t.AppendFooter(table.Row{"processed", fmt.Sprintf("%d/%d", sum.Processed, sum.Total)})
	t.AppendFooter(table.Row{"attempts", sum.Attempts})
	if sum.Canceled {
		t.AppendFooter(table.Row{"canceled", "yes"})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
