package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/config/ini"
	"github.com/oriys/ircbotd/internal/control"
	"github.com/oriys/ircbotd/internal/logging"
	"github.com/oriys/ircbotd/internal/metrics"
	"github.com/oriys/ircbotd/internal/observability"
	"github.com/oriys/ircbotd/internal/transport"
)

func runCmd() *cobra.Command {
	var iniPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect every configured network and dispatch channel messages to bound modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), iniPath)
		},
	}
	cmd.Flags().StringVar(&iniPath, "ini", "ircbot.ini", "path to the per-network INI configuration")
	return cmd
}

func runDaemon(ctx context.Context, iniPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if iniPath == "" {
		iniPath = cfg.Daemon.ConfigPath
	}

	logging.SetLevelFromString(cfg.Observability.Logging.Level)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := observability.Init(context.Background(), observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Observability.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				logging.Op().Warn("metrics server stopped", "error", err)
			}
		}()
	}

	doc, err := ini.Load(iniPath)
	if err != nil {
		return fmt.Errorf("load ini %s: %w", iniPath, err)
	}

	d, err := newDaemon(cfg, doc)
	if err != nil {
		return err
	}
	if err := d.build(); err != nil {
		return err
	}
	defer d.close()

	ctrl, err := control.Listen(cfg.Daemon.ControlSocket, d.handleControl)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer ctrl.Close()
	go func() {
		if err := ctrl.Serve(); err != nil {
			logging.Op().Debug("control: serve stopped", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	errCh := make(chan error, 1)
	go func() { errCh <- d.run(runCtx) }()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				logging.Op().Info("restart signal received, exec()ing new generation")
				if err := d.execRestart(); err != nil {
					logging.Op().Warn("restart failed, continuing under current generation", "error", err)
					continue
				}
				// execRestart replaces the process image on success; unreachable.
			default:
				logging.Op().Info("shutdown signal received")
				cancel()
				<-errCh
				return nil
			}
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		}
	}
}

// execRestart captures every instance's live connection, clears its
// close-on-exec flag so it survives past syscall.Exec, and re-execs the
// current binary with IRCBOTD_RESTART_FDS describing how to reattach —
// the daemon's answer to spec 4.1's fd-duplication restart mechanism.
func (d *daemon) execRestart() error {
	var tuples []string
	var keep []*os.File // keep referenced so the GC does not close them early

	for name, inst := range d.instances {
		conn := inst.Conn()
		if conn == nil {
			continue
		}
		hint, f, err := transport.CaptureForRestart(conn)
		if err != nil {
			logging.Op().Warn("restart: cannot capture connection", "instance", name, "error", err)
			continue
		}
		fd := int(f.Fd())
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
			f.Close()
			logging.Op().Warn("restart: clear close-on-exec failed", "instance", name, "error", err)
			continue
		}
		keep = append(keep, f)
		tuples = append(tuples, fmt.Sprintf("%s:%d:%s:%d", name, fd, hint.Host, hint.Port))
	}

	argv0, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: resolve executable: %w", err)
	}

	env := os.Environ()
	if len(tuples) > 0 {
		env = append(env, restartEnvVar+"="+strings.Join(tuples, ","))
	}

	return syscall.Exec(argv0, os.Args, env)
}
