package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsdiag/internal/grid"
	"tsdiag/internal/models"
	"tsdiag/internal/output"
	"tsdiag/internal/store"
)

var (
	sessionsType   string
	sessionsStatus string
	sessionsLimit  int
	sessionsFormat string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored diagnostic sessions",
	Long: `List, inspect, delete, and export stored diagnostic sessions.

Running bare 'tsdiag sessions' is the same as 'tsdiag sessions list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show detailed session information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "delete <session-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a stored session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsDeleteRun(args[0])
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as JSON, CSV, or Markdown",
	Long:  "Export one session: JSON emits the full record, CSV the touch points, Markdown a readable summary.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsExportRun(args[0])
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsType, "type", "", "Filter by type: grid, ghost_monitor, multi_touch")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status: active, completed, cancelled")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "Limit the number of sessions listed")

	sessionsExportCmd.Flags().StringVar(&sessionsFormat, "format", "json", "Output format: json, csv, markdown")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.SessionFilter{
		Type:   models.SessionType(sessionsType),
		Status: models.SessionStatus(sessionsStatus),
		Limit:  sessionsLimit,
	}
	summaries, err := s.ListSessions(ctx, filter)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		ui.Info("No sessions recorded. Use 'tsdiag run' to capture one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Type", "Status", "Device", "Started", "Touches", "Areas", "Synced"})
	for _, sum := range summaries {
		synced := ""
		if sum.SyncedAt != nil {
			synced = "yes"
		}
		table.Append([]string{
			output.Cyan(shortID(sum.ID)),
			string(sum.Type),
			output.StatusColor(string(sum.Status)),
			sum.DeviceModel,
			timeAgo(sum.StartedAt),
			strconv.Itoa(sum.TouchCount),
			strconv.Itoa(sum.FaultyAreaCount),
			synced,
		})
	}
	table.Render()
	return nil
}

func sessionsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := resolveSession(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(sess.ID))
	fmt.Fprintf(ui.Out, "  Type:       %s\n", sess.Type)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(sess.Status)))
	if sess.DeviceModel != "" {
		fmt.Fprintf(ui.Out, "  Device:     %s\n", sess.DeviceModel)
	}
	fmt.Fprintf(ui.Out, "  Viewport:   %gx%g\n", sess.ViewportW, sess.ViewportH)
	fmt.Fprintf(ui.Out, "  Started:    %s (%s)\n", sess.StartedAt.Format(time.RFC3339), timeAgo(sess.StartedAt))
	if sess.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  Ended:      %s\n", sess.EndedAt.Format(time.RFC3339))
		fmt.Fprintf(ui.Out, "  Duration:   %s\n", sess.Duration().Round(time.Second))
	}
	if sess.Notes != "" {
		fmt.Fprintf(ui.Out, "  Notes:      %s\n", sess.Notes)
	}
	if sess.SyncedAt != nil {
		fmt.Fprintf(ui.Out, "  Synced:     %s (remote %s)\n", timeAgo(*sess.SyncedAt), sess.RemoteID)
	}
	fmt.Fprintln(ui.Out)

	fmt.Fprintf(ui.Out, "  Touches:    %d (%d ghost)\n", len(sess.TouchPoints), ghostCount(sess.TouchPoints))
	if sess.Type == models.SessionTypeGrid {
		counts := grid.Summary(sess.GridCells)
		fmt.Fprintf(ui.Out, "  Grid:       %dx%d - %d ok, %d faulty, %d ghost, %d untested\n",
			sess.GridRows, sess.GridCols,
			counts[models.CellStatusOK], counts[models.CellStatusFaulty],
			counts[models.CellStatusGhost], counts[models.CellStatusUntested])
	}

	if len(sess.FaultyAreas) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Faulty areas:")
		for _, a := range sess.FaultyAreas {
			line := fmt.Sprintf("    [%s] %s", output.SeverityColor(string(a.Severity)), a.Label)
			if a.HardwareZone != "" {
				line += fmt.Sprintf(" (zone: %s)", a.HardwareZone)
			}
			fmt.Fprintln(ui.Out, line)
		}
	}

	return nil
}

func sessionsDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := resolveSession(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete session: %s", sess.ID)
		return nil
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	ui.Success("Deleted session: %s", output.Cyan(shortID(sess.ID)))
	return nil
}

func sessionsExportRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := resolveSession(ctx, s, id)
	if err != nil {
		return err
	}

	switch sessionsFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "X", "Y", "TimestampMS", "Pressure", "Slot", "Ghost"})
		for _, p := range sess.TouchPoints {
			w.Write([]string{
				p.ID,
				strconv.FormatFloat(p.X, 'f', -1, 64),
				strconv.FormatFloat(p.Y, 'f', -1, 64),
				strconv.FormatInt(p.TimestampMS, 10),
				strconv.FormatFloat(p.Pressure, 'f', -1, 64),
				strconv.Itoa(p.Slot),
				strconv.FormatBool(p.IsGhost),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintf(ui.Out, "# Session %s\n", sess.ID)
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "- Type: %s\n", sess.Type)
		fmt.Fprintf(ui.Out, "- Status: %s\n", sess.Status)
		if sess.DeviceModel != "" {
			fmt.Fprintf(ui.Out, "- Device: %s\n", sess.DeviceModel)
		}
		fmt.Fprintf(ui.Out, "- Started: %s\n", sess.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(ui.Out, "- Touches: %d (%d ghost)\n", len(sess.TouchPoints), ghostCount(sess.TouchPoints))
		if sess.Type == models.SessionTypeGrid {
			fmt.Fprintln(ui.Out)
			fmt.Fprintln(ui.Out, "| Cell status | Count |")
			fmt.Fprintln(ui.Out, "|-------------|-------|")
			counts := grid.Summary(sess.GridCells)
			for _, st := range []models.CellStatus{models.CellStatusOK, models.CellStatusFaulty, models.CellStatusGhost, models.CellStatusUntested} {
				fmt.Fprintf(ui.Out, "| %s | %d |\n", st, counts[st])
			}
		}
		if len(sess.FaultyAreas) > 0 {
			fmt.Fprintln(ui.Out)
			fmt.Fprintln(ui.Out, "| Area | Severity | Zone |")
			fmt.Fprintln(ui.Out, "|------|----------|------|")
			for _, a := range sess.FaultyAreas {
				fmt.Fprintf(ui.Out, "| %s | %s | %s |\n", a.Label, a.Severity, a.HardwareZone)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", sessionsFormat)
	}
}

// resolveSession finds a stored session by full ID or unique prefix.
func resolveSession(ctx context.Context, s store.Store, id string) (*models.DiagnosticSession, error) {
	// Try exact match first
	if sess, err := s.GetSession(ctx, id); err == nil {
		return sess, nil
	}

	upper := strings.ToUpper(id)
	summaries, err := s.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, sum := range summaries {
		if strings.HasPrefix(sum.ID, upper) {
			matches = append(matches, sum.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session not found: %s", id)
	case 1:
		return s.GetSession(ctx, matches[0])
	default:
		return nil, fmt.Errorf("ambiguous session ID %s: matches %d sessions", id, len(matches))
	}
}

// shortID returns the first 8 characters of a session ID for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func ghostCount(points []models.TouchPoint) int {
	n := 0
	for _, p := range points {
		if p.IsGhost {
			n++
		}
	}
	return n
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
