package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/daemon"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/server"
)

const shutdownGrace = 15 * time.Second

func newStartCommand() *cobra.Command {
	var detach bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return startDetached()
			}
			return runServer(watch)
		},
	}
	cmd.Flags().BoolVarP(&detach, "daemon", "d", false, "run in the background")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload when the config file changes")
	return cmd
}

func startDetached() error {
	mgr, err := daemon.New()
	if err != nil {
		return err
	}

	args := []string{"start"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	pid, err := mgr.StartBackground(args)
	if err != nil {
		return err
	}
	fmt.Printf("server started (pid %d), logs at %s\n", pid, mgr.LogFile())
	return nil
}

func runServer(watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewWithOptions(cfg.Logging.Level, logging.Options{
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	mgr, err := daemon.New()
	if err == nil {
		mgr.WritePID()
		defer mgr.RemovePID()
	}

	stop := make(chan struct{})
	defer close(stop)
	srv.StartSessionCleanup(time.Minute, stop)

	var watcher *config.Watcher
	if watch && configPath != "" {
		watcher, err = config.NewWatcher(configPath)
		if err != nil {
			return err
		}
		watcher.OnChange(func(updated *config.Config) {
			logging.Info("configuration changed; restart to apply server-level settings")
		})
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if watcher != nil {
					if err := watcher.Reload(); err != nil {
						logging.Error("reload failed", zap.Error(err))
					}
				} else {
					logging.Info("reload requested; start with --watch to enable config reload")
				}
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			err := srv.Shutdown(ctx)
			cancel()
			return err
		}
	}
}

func newStopCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := daemon.New()
			if err != nil {
				return err
			}
			if err := mgr.Stop(force); err != nil {
				return err
			}
			fmt.Println("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "kill the process instead of signaling it")
	return cmd
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := daemon.New()
			if err != nil {
				return err
			}
			if pid, _ := mgr.Running(); pid != 0 {
				if err := mgr.Stop(false); err != nil {
					return err
				}
			}
			return startDetached()
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the background server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := daemon.New()
			if err != nil {
				return err
			}
			st, err := mgr.CheckStatus()
			if err != nil {
				return err
			}
			if !st.Running {
				fmt.Println("server is not running")
				return nil
			}
			fmt.Printf("server is running (pid %d, up %s)\n",
				st.PID, time.Since(st.Since).Round(time.Second))
			return nil
		},
	}
}

func newReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the background server to reload its configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := daemon.New()
			if err != nil {
				return err
			}
			if err := mgr.Reload(); err != nil {
				return err
			}
			fmt.Println("reload signal sent")
			return nil
		},
	}
}

func newLogsCommand() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := daemon.New()
			if err != nil {
				return err
			}
			return printTail(mgr.LogFile(), lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show")
	return cmd
}
