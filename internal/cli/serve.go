package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/lockwatch/internal/bridge"
	"github.com/ppiankov/lockwatch/internal/config"
	"github.com/ppiankov/lockwatch/internal/guardian"
	"github.com/ppiankov/lockwatch/internal/locker"
)

const shutdownGrace = 5 * time.Second

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Bridge listen address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interception engine and bridge",
	Long:  "Runs the interception engine under a restart watchdog, the periodic\nsession reset, and the gRPC bridge the platform side connects to.\nThe config file is hot-reloaded.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	logger := newLogger(cfg)

	pidFile := pidPath(cfg.StateDir)
	if err := acquirePIDLock(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	hub := bridge.NewHub(logger)
	l, err := locker.Open(locker.Options{
		Config:    cfg,
		Presenter: hub,
		Launcher:  hub,
		Keyguard:  hub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open lockwatch: %w", err)
	}
	defer l.Close()

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	srv := bridge.NewServer(l, hub, logger)

	scheduler := guardian.NewResetScheduler(l, cfg.ResetInterval, cfg.MinResetInterval, logger)
	watchdog := &guardian.Watchdog{Delay: cfg.RestartDelay, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watchdog.Supervise(ctx, "engine", func(ctx context.Context) error {
			return l.Engine().Run(ctx, hub)
		})
	})
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return srv.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		stopServer(srv)
		return nil
	})

	reloader, err := config.NewReloader(configPath, func(next *config.Config) {
		l.Engine().SetIgnore(next.Ignore)
		eff := scheduler.SetInterval(next.ResetInterval)
		logger.Info("reset interval applied", "interval", eff)
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		g.Go(func() error { return reloader.Run(ctx) })
	}

	fmt.Fprintf(os.Stderr, "lockwatch bridge listening on %s\n", lis.Addr())
	if d := scheduler.Interval(); d > 0 {
		fmt.Fprintf(os.Stderr, "Session reset every %s\n", d)
	}
	fmt.Fprintln(os.Stderr)

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "\nShutting down lockwatch...")
	return err
}

// stopServer drains calls, then cuts watcher streams that never end on their own.
func stopServer(srv *bridge.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		srv.Stop()
	}
}
