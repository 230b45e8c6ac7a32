package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsdiag/internal/grid"
	"tsdiag/internal/llm"
	"tsdiag/internal/models"
	"tsdiag/internal/output"
	"tsdiag/internal/report"
	"tsdiag/internal/zones"
)

var reportLLM bool

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Score a session and show zone findings with repair steps",
	Long: `Build the full diagnostic report for a session: a 0-100 screen health
score with verdict, the grid summary, and faulty areas grouped by hardware
zone with their repair steps.

With --llm, an LLM-written repair narrative is appended (needs llm.api_key
or ANTHROPIC_API_KEY).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(cmd.Context(), args[0])
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportLLM, "llm", false, "Append an LLM-written repair narrative")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := resolveSession(context.Background(), s, id)
	if err != nil {
		return err
	}

	catalog, err := zones.Load()
	if err != nil {
		return err
	}

	rep := report.Build(sess, catalog)
	renderReport(rep)

	if reportLLM {
		client := newLLMClient()
		if client == nil {
			return fmt.Errorf("no LLM API key configured: set llm.api_key or ANTHROPIC_API_KEY")
		}
		ui.VerboseLog("Requesting repair narrative")
		advice, err := client.Advise(ctx, rep)
		if err != nil {
			return fmt.Errorf("llm advice: %w", err)
		}
		renderAdvice(advice)
	}

	return nil
}

func renderReport(rep *report.Report) {
	sess := rep.Session

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(sess.ID))
	fmt.Fprintf(ui.Out, "  Verdict:    %s (score %s/100)\n",
		output.VerdictColor(string(rep.Verdict)), output.ScoreColor(rep.Score.Total))
	fmt.Fprintln(ui.Out)

	fmt.Fprintf(ui.Out, "  Coverage:       %2d/20\n", rep.Score.Coverage)
	fmt.Fprintf(ui.Out, "  Cell health:    %2d/30\n", rep.Score.CellHealth)
	fmt.Fprintf(ui.Out, "  Ghost activity: %2d/25\n", rep.Score.GhostActivity)
	fmt.Fprintf(ui.Out, "  Area impact:    %2d/25\n", rep.Score.AreaImpact)
	fmt.Fprintln(ui.Out)

	fmt.Fprintf(ui.Out, "  Touches:    %d (%d ghost)\n", len(sess.TouchPoints), ghostCount(sess.TouchPoints))
	if sess.Type == models.SessionTypeGrid {
		counts := grid.Summary(sess.GridCells)
		fmt.Fprintf(ui.Out, "  Grid:       %dx%d - %d ok, %d faulty, %d ghost, %d untested\n",
			sess.GridRows, sess.GridCols,
			counts[models.CellStatusOK], counts[models.CellStatusFaulty],
			counts[models.CellStatusGhost], counts[models.CellStatusUntested])
	}

	if len(rep.Findings) == 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  No faulty areas found.")
	}

	for _, f := range rep.Findings {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  %s (%d area(s), worst %s)\n",
			output.Cyan(f.Zone.Label), f.Count, output.SeverityColor(string(f.Worst)))
		if len(f.Labels) > 0 {
			fmt.Fprintf(ui.Out, "    %s\n", strings.Join(f.Labels, "; "))
		}
		for i, step := range f.Zone.RepairSteps {
			fmt.Fprintf(ui.Out, "    %d. %s\n", i+1, step)
		}
	}

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  Generated:  %s\n", rep.GeneratedAt.Format(time.RFC3339))
}

func renderAdvice(advice *llm.Advice) {
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan("Repair advice"))
	fmt.Fprintf(ui.Out, "  %s\n", advice.Summary)
	if advice.LikelyCause != "" {
		fmt.Fprintf(ui.Out, "  Likely cause: %s\n", advice.LikelyCause)
	}
	for i, step := range advice.NextSteps {
		fmt.Fprintf(ui.Out, "  %d. %s\n", i+1, step)
	}
}
