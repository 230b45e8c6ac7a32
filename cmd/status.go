package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tsdiag/internal/models"
	"tsdiag/internal/output"
	"tsdiag/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a session overview",
	Long:  "Show totals for stored sessions, the most recent runs, and the serve daemon state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	counts, err := s.CountSessions(ctx)
	if err != nil {
		return err
	}

	if counts.Total == 0 {
		ui.Info("No sessions recorded. Use 'tsdiag run' to capture one.")
		return serveStatusRun()
	}

	fmt.Fprintf(ui.Out, "%s  %d session(s)\n", output.Cyan("tsdiag"), counts.Total)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", formatStatusCounts(counts.ByStatus))
	fmt.Fprintf(ui.Out, "  Type:       %s\n", formatTypeCounts(counts.ByType))
	fmt.Fprintln(ui.Out)

	recent, err := s.ListSessions(ctx, store.SessionFilter{Limit: 5})
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Type", "Status", "Device", "Started", "Touches", "Areas"})
	for _, sum := range recent {
		table.Append([]string{
			output.Cyan(shortID(sum.ID)),
			string(sum.Type),
			output.StatusColor(string(sum.Status)),
			sum.DeviceModel,
			timeAgo(sum.StartedAt),
			strconv.Itoa(sum.TouchCount),
			strconv.Itoa(sum.FaultyAreaCount),
		})
	}
	table.Render()

	fmt.Fprintln(ui.Out)
	return serveStatusRun()
}

func formatStatusCounts(byStatus map[models.SessionStatus]int) string {
	parts := make([]string, 0, 3)
	for _, st := range []models.SessionStatus{models.SessionStatusActive, models.SessionStatusCompleted, models.SessionStatusCancelled} {
		if n := byStatus[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, output.StatusColor(string(st))))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func formatTypeCounts(byType map[models.SessionType]int) string {
	parts := make([]string, 0, 3)
	for _, typ := range []models.SessionType{models.SessionTypeGrid, models.SessionTypeGhostMonitor, models.SessionTypeMultiTouch} {
		if n := byType[typ]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, typ))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}
