package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdiag/internal/output"
	"tsdiag/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync sessions with a remote endpoint",
	Long: `Upload sessions to and pull sessions from a remote tsdiag endpoint.

Configure the remote with the sync.endpoint and sync.token config keys.`,
}

var syncUploadCmd = &cobra.Command{
	Use:   "upload <session-id>",
	Short: "Upload one session to the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncUploadRun(cmd.Context(), args[0])
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload every completed session not yet synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncPushRun(cmd.Context())
	},
}

var syncListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions stored on the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncListRun(cmd.Context())
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull <session-id>",
	Short: "Fetch a remote session into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncPullRun(cmd.Context(), args[0])
	},
}

func init() {
	syncCmd.AddCommand(syncUploadCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncListCmd)
	syncCmd.AddCommand(syncPullCmd)
	rootCmd.AddCommand(syncCmd)
}

// syncClient builds the remote client from config. Calls on it fail with
// sync.ErrNotConfigured when sync.endpoint is unset.
func syncClient() *sync.Client {
	return sync.NewClient(sync.Config{
		Endpoint: viper.GetString("sync.endpoint"),
		Token:    viper.GetString("sync.token"),
	})
}

func syncUploadRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := resolveSession(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would upload session %s to %s", sess.ID, viper.GetString("sync.endpoint"))
		return nil
	}

	c := syncClient()
	remoteID, err := c.Upload(ctx, sess)
	if err != nil {
		return fmt.Errorf("upload session: %w", err)
	}
	if err := s.MarkSynced(ctx, sess.ID, remoteID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	ui.Success("Uploaded session %s (remote %s)", output.Cyan(shortID(sess.ID)), remoteID)
	return nil
}

func syncPushRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would upload all unsynced completed sessions to %s", viper.GetString("sync.endpoint"))
		return nil
	}

	c := syncClient()
	result, err := c.Push(ctx, s)
	if err != nil {
		return fmt.Errorf("push sessions: %w", err)
	}

	ui.Success("Uploaded %d session(s), %d already synced", result.Uploaded, result.Skipped)
	for _, f := range result.Failed {
		ui.Warning("Failed %s: %v", shortID(f.SessionID), f.Err)
	}
	return nil
}

func syncListRun(ctx context.Context) error {
	c := syncClient()
	summaries, err := c.List(ctx)
	if err != nil {
		return fmt.Errorf("list remote sessions: %w", err)
	}

	if len(summaries) == 0 {
		ui.Info("No sessions on the remote.")
		return nil
	}

	table := ui.Table([]string{"ID", "Type", "Status", "Device", "Started", "Touches"})
	for _, sum := range summaries {
		table.Append([]string{
			output.Cyan(shortID(sum.ID)),
			string(sum.Type),
			output.StatusColor(string(sum.Status)),
			sum.DeviceModel,
			timeAgo(sum.StartedAt),
			fmt.Sprintf("%d", sum.TouchCount),
		})
	}
	table.Render()
	return nil
}

func syncPullRun(ctx context.Context, id string) error {
	c := syncClient()
	sess, err := c.Pull(ctx, id)
	if err != nil {
		return fmt.Errorf("pull session: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would store session %s locally", sess.ID)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	ui.Success("Pulled session %s", output.Cyan(shortID(sess.ID)))
	return nil
}
