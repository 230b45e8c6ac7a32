package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdiag/internal/diag"
	"tsdiag/internal/grid"
	"tsdiag/internal/models"
	"tsdiag/internal/output"
	"tsdiag/internal/replay"
)

var (
	runEvents string
	runDevice string
	runNotes  string

	runGridRows int
	runGridCols int

	runMonitorDuration time.Duration
	runMonitorFollow   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a diagnostic session",
	Long: `Run a diagnostic session from a captured touch event stream.

Events are JSONL, one {"timestamp_ms":..,"x":..,"y":..} object per line, as
exported from a device capture. Pass --events - to read stdin.`,
}

var runGridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Grid test: verify every screen region registers touch",
	Long: `Replay a tap stream into an RxC grid session. Each touch marks the cell
under it; cells nothing landed in stay untested and show up as coverage gaps
in the report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGridRun()
	},
}

var runMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Ghost monitor: record touches while the screen is untouched",
	Long: `Record touch events while nobody touches the screen. Every registration is
classified as a ghost.

With --follow the events file is tailed live for --duration (Ctrl-C ends the
window early and still saves the session). Without it the file is replayed
and the session ends immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitorRun()
	},
}

var runMultiCmd = &cobra.Command{
	Use:   "multi",
	Short: "Multi-touch capture: record a multi-finger stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMultiRun()
	},
}

func init() {
	runCmd.PersistentFlags().StringVarP(&runEvents, "events", "e", "", "Touch events file (JSONL; - for stdin)")
	runCmd.PersistentFlags().StringVarP(&runDevice, "device", "d", "", "Device model recorded on the session")
	runCmd.PersistentFlags().StringVar(&runNotes, "notes", "", "Notes attached when the session ends")

	runGridCmd.Flags().IntVar(&runGridRows, "rows", 0, "Grid rows (default from config)")
	runGridCmd.Flags().IntVar(&runGridCols, "cols", 0, "Grid columns (default from config)")

	runMonitorCmd.Flags().DurationVar(&runMonitorDuration, "duration", 0, "Monitor window (default from config)")
	runMonitorCmd.Flags().BoolVar(&runMonitorFollow, "follow", false, "Tail the events file live for the duration")

	runCmd.AddCommand(runGridCmd)
	runCmd.AddCommand(runMonitorCmd)
	runCmd.AddCommand(runMultiCmd)
	rootCmd.AddCommand(runCmd)
}

// newManager builds a session lifecycle manager backed by the shared store.
func newManager() (*diag.Manager, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return diag.NewManager(s, managerConfig()), nil
}

func runGridRun() error {
	if runEvents == "" {
		return fmt.Errorf("--events is required (JSONL file, or - for stdin)")
	}

	if dryRun {
		ui.DryRunMsg("Would start a grid session and replay %s", runEvents)
		return nil
	}

	mgr, err := newManager()
	if err != nil {
		return err
	}
	active, err := mgr.Start(diag.StartOptions{
		Type:        models.SessionTypeGrid,
		DeviceModel: runDevice,
		Rows:        runGridRows,
		Cols:        runGridCols,
	})
	if err != nil {
		return err
	}

	events, skipped, err := replayEvents(runEvents)
	if err != nil {
		active.Cancel()
		return fmt.Errorf("read events: %w", err)
	}
	if err := feedGrid(active, events); err != nil {
		active.Cancel()
		return err
	}

	sess, err := active.End(context.Background(), runNotes)
	if err != nil {
		return err
	}
	printRunSummary(sess, skipped)
	return nil
}

func runMonitorRun() error {
	if runEvents == "" {
		return fmt.Errorf("--events is required (JSONL file, or - for stdin)")
	}
	dur := runMonitorDuration
	if dur <= 0 {
		dur = viper.GetDuration("monitor.duration")
	}
	if dur <= 0 {
		dur = 60 * time.Second
	}

	if dryRun {
		if runMonitorFollow {
			ui.DryRunMsg("Would monitor %s live for %s", runEvents, dur)
		} else {
			ui.DryRunMsg("Would replay %s as a ghost monitor session", runEvents)
		}
		return nil
	}

	mgr, err := newManager()
	if err != nil {
		return err
	}
	active, err := mgr.Start(diag.StartOptions{
		Type:        models.SessionTypeGhostMonitor,
		DeviceModel: runDevice,
	})
	if err != nil {
		return err
	}

	if runMonitorFollow {
		return monitorFollow(active, dur)
	}

	events, skipped, err := replayEvents(runEvents)
	if err != nil {
		active.Cancel()
		return fmt.Errorf("read events: %w", err)
	}
	if err := feedTouches(active, events, diag.GhostAll); err != nil {
		active.Cancel()
		return err
	}

	sess, err := active.End(context.Background(), runNotes)
	if err != nil {
		return err
	}
	printRunSummary(sess, skipped)
	return nil
}

// monitorFollow tails the events file live while the countdown runs. Ctrl-C
// ends the window early; the session is still finalized and saved.
func monitorFollow(active *diag.ActiveSession, dur time.Duration) error {
	if runEvents == "-" {
		active.Cancel()
		return fmt.Errorf("--follow needs a file path, not stdin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	followErr := make(chan error, 1)
	go func() {
		followErr <- replay.Follow(ctx, runEvents, func(ev replay.Event) error {
			return active.RecordTouch(touchFromEvent(ev), diag.GhostAll)
		})
	}()

	ui.Info("Monitoring %s for %s; leave the screen untouched (Ctrl-C to stop early)", runEvents, dur)
	sess, err := active.Countdown(ctx, dur, runNotes, func(remaining time.Duration) {
		fmt.Fprintf(ui.Out, "\r  monitoring... %s remaining ", remaining)
	})
	fmt.Fprintln(ui.Out)

	stop()
	if ferr := <-followErr; ferr != nil && !errors.Is(ferr, context.Canceled) {
		ui.Warning("Event follow stopped: %v", ferr)
	}

	// Interrupted: the session is still active, so finalize it with a
	// fresh context.
	if errors.Is(err, context.Canceled) {
		sess, err = active.End(context.Background(), runNotes)
	}
	if err != nil {
		return err
	}
	printRunSummary(sess, 0)
	return nil
}

func runMultiRun() error {
	if runEvents == "" {
		return fmt.Errorf("--events is required (JSONL file, or - for stdin)")
	}

	if dryRun {
		ui.DryRunMsg("Would replay %s as a multi-touch session", runEvents)
		return nil
	}

	mgr, err := newManager()
	if err != nil {
		return err
	}
	active, err := mgr.Start(diag.StartOptions{
		Type:        models.SessionTypeMultiTouch,
		DeviceModel: runDevice,
	})
	if err != nil {
		return err
	}

	events, skipped, err := replayEvents(runEvents)
	if err != nil {
		active.Cancel()
		return fmt.Errorf("read events: %w", err)
	}
	if err := feedTouches(active, events, diag.GhostNone); err != nil {
		active.Cancel()
		return err
	}

	sess, err := active.End(context.Background(), runNotes)
	if err != nil {
		return err
	}
	printRunSummary(sess, skipped)
	return nil
}

// replayEvents loads the whole event stream from path, with "-" reading
// stdin. Returns the events plus the count of malformed lines skipped.
func replayEvents(path string) ([]replay.Event, int, error) {
	if path == "-" {
		var events []replay.Event
		skipped, err := replay.Read(os.Stdin, func(ev replay.Event) error {
			events = append(events, ev)
			return nil
		})
		return events, skipped, err
	}
	return replay.ParseFile(path)
}

// touchFromEvent converts a wire event into the session's touch model.
func touchFromEvent(ev replay.Event) models.TouchPoint {
	return models.TouchPoint{
		X:           ev.X,
		Y:           ev.Y,
		TimestampMS: ev.TimestampMS,
		Pressure:    ev.Pressure,
		Slot:        ev.Slot,
	}
}

// feedGrid replays events into a grid session, marking the cell under each
// touch. The first touch flips a cell from untested; repeats re-mark the
// current status so per-cell counts keep climbing.
func feedGrid(active *diag.ActiveSession, events []replay.Event) error {
	sess := active.Session()
	for _, ev := range events {
		if err := active.RecordTouch(touchFromEvent(ev), diag.GhostNone); err != nil {
			return err
		}
		row, col, ok := grid.CellForPoint(ev.X, ev.Y, sess.ViewportW, sess.ViewportH, sess.GridRows, sess.GridCols)
		if !ok {
			continue
		}
		status := sess.CellAt(row, col).Status
		if status == models.CellStatusUntested {
			status = grid.NextStatus(status)
		}
		if err := active.MarkCell(row, col, status); err != nil {
			return err
		}
	}
	return nil
}

func feedTouches(active *diag.ActiveSession, events []replay.Event, rule diag.GhostRule) error {
	for _, ev := range events {
		if err := active.RecordTouch(touchFromEvent(ev), rule); err != nil {
			return err
		}
	}
	return nil
}

func printRunSummary(sess *models.DiagnosticSession, skipped int) {
	if sess == nil {
		return
	}
	ui.Success("Session %s completed: %d touches (%d ghost), %d faulty areas",
		shortID(sess.ID), len(sess.TouchPoints), ghostCount(sess.TouchPoints), len(sess.FaultyAreas))
	if skipped > 0 {
		ui.Warning("Skipped %d malformed event lines", skipped)
	}
	for _, area := range sess.FaultyAreas {
		fmt.Fprintf(ui.Out, "  [%s] %s\n", output.SeverityColor(string(area.Severity)), area.Label)
	}
	fmt.Fprintf(ui.Out, "\nRun 'tsdiag report %s' for the full report.\n", shortID(sess.ID))
}
