package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdiag/internal/api"
	"tsdiag/internal/daemon"
	"tsdiag/internal/diag"
	webui "tsdiag/internal/ui"
	"tsdiag/internal/zones"
)

var (
	serveDaemon bool
	serveStop   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and dashboard",
	Long: `Serve the JSON API and the embedded dashboard. Companion capture apps
POST touches here to drive live sessions.

Runs in the foreground by default. --daemon backgrounds the server with a
PID file; --stop terminates a backgrounded server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveStop {
			return serveStopRun()
		}
		return serveStartRun()
	},
}

func init() {
	serveCmd.Flags().StringP("addr", "a", ":7311", "Listen address")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "Run in the background")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop a backgrounded server")
	viper.SetDefault("addr", ":7311")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file handle for the serve daemon.
func pidFile() *daemon.PIDFile {
	dir, err := configDirFunc()
	if err != nil {
		dir = os.TempDir()
	}
	return daemon.NewPIDFile(filepath.Join(dir, "tsdiag-serve.pid"))
}

// serveLogPath returns the log file path for the daemonized server.
func serveLogPath() string {
	dir, err := configDirFunc()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tsdiag-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("serve already running (pid %d)", pid)
	}

	if serveDaemon {
		return serveDaemonize(pf)
	}
	return serveForeground(pf)
}

// serveDaemonize re-executes the binary in the background, minus the
// --daemon flag, and records the child PID.
func serveDaemonize(pf *daemon.PIDFile) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logPath := serveLogPath()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, stripDaemonFlag(os.Args[1:])...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	ui.Success("Serve started (pid %d) on %s, log %s", child.Process.Pid, viper.GetString("addr"), logPath)
	return child.Process.Release()
}

// stripDaemonFlag removes --daemon from the args used for the re-exec.
func stripDaemonFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemon" || a == "--daemon=true" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func serveForeground(pf *daemon.PIDFile) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	catalog, err := zones.Load()
	if err != nil {
		return err
	}

	manager := diag.NewManager(s, managerConfig())
	apiSrv := api.NewServer(s, manager, catalog)

	dashboard, err := webui.Handler()
	if err != nil {
		return fmt.Errorf("dashboard assets: %w", err)
	}

	root := http.NewServeMux()
	root.Handle("/api/", apiSrv.Router())
	root.Handle("/", dashboard)

	if err := pf.Write(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	addr := viper.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: root}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ui.Info("Serving API and dashboard on %s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("serve is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop serve (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop serve: %w", err)
	}

	// Escalate if the process ignores TERM.
	if !pf.WaitExit(3 * time.Second) {
		_ = pf.Signal(sigKILL())
	}

	_ = pf.Remove()
	ui.Success("Stopped serve (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Info("serve running (pid %d) on %s", pid, viper.GetString("addr"))
	} else {
		ui.Info("serve is not running")
	}
	return nil
}
