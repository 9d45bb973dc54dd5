package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/cortexuvula/roomrelay/internal/chat"
	"github.com/cortexuvula/roomrelay/internal/completion"
	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/identity"
	"github.com/cortexuvula/roomrelay/internal/logging"
	"github.com/cortexuvula/roomrelay/internal/logring"
	"github.com/cortexuvula/roomrelay/internal/metrics"
	"github.com/cortexuvula/roomrelay/internal/ops"
	"github.com/cortexuvula/roomrelay/internal/rooms"
	"github.com/cortexuvula/roomrelay/internal/security"
	"github.com/cortexuvula/roomrelay/internal/server"
	"github.com/cortexuvula/roomrelay/internal/store"

	"golang.org/x/time/rate"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomrelay",
		Short: "Themed chat relay with ephemeral identities and per-room AI personas",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("roomrelay %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			dir, err := rooms.LoadFile(cfg.Chat.RoomsFile)
			if err != nil {
				return fmt.Errorf("rooms table invalid: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Ops: %s\n", cfg.Ops.ListenAddress)
			fmt.Printf("  Rooms: %d\n", dir.Len())
			fmt.Printf("  Model: %s\n", cfg.Completion.Model)
			fmt.Printf("  Persistence: %v\n", cfg.Store.Path != "")
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8091/health", "Health endpoint URL")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Set up logging; the ring feeds the ops /api/logs endpoint.
	var ring *logring.RingBuffer
	if cfg.Logging.RingSize > 0 {
		ring = logring.NewRingBuffer(cfg.Logging.RingSize)
	}
	lj := logging.Setup(cfg.Logging, ring)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting roomrelay",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"ops", cfg.Ops.ListenAddress,
		"model", cfg.Completion.Model,
	)

	// Room table
	dir, err := rooms.LoadFile(cfg.Chat.RoomsFile)
	if err != nil {
		return fmt.Errorf("loading rooms: %w", err)
	}
	slog.Info("room table loaded", "rooms", dir.Len())

	// Optional durable store
	var chatStore chat.Store
	if cfg.Store.Path != "" {
		ps, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer ps.Close()
		chatStore = ps
		slog.Info("message persistence enabled", "path", cfg.Store.Path)
	}

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Ops.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Ops.MetricsEndpoint)
	}

	history := chat.NewHistory(cfg.Chat.UserHistory, cfg.Chat.AIHistory, chatStore)
	defer history.Close()

	gateway := completion.New(cfg.Completion, dir)

	coord := chat.NewCoordinator(chat.Options{
		Registry:     chat.NewRegistry(identity.New(nil)),
		History:      history,
		Rooms:        dir,
		Completer:    gateway,
		Metrics:      m,
		FallbackText: cfg.Completion.FallbackText,
		MaxTextLen:   cfg.Chat.MaxMessageText,
	})

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}

	tracker := server.NewTracker()

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	handler := server.NewHandler(cfg, coord, tracker, rl, shutdownCtx)
	handler.Metrics = m

	chatServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler.Routes(),
	}

	// Ops server (listens on loopback)
	var opsServer *http.Server
	if cfg.Ops.Enabled {
		o := ops.New(ops.Dependencies{
			Tracker:     tracker,
			Coordinator: coord,
			RingBuffer:  ring,
			Metrics:     m,
			ProviderURL: cfg.Completion.BaseURL,
			Version:     Version,
			BuildTime:   BuildTime,
			GitCommit:   GitCommit,
			StartTime:   time.Now(),
			Detailed:    cfg.Ops.Detailed,
		})
		opsServer = &http.Server{
			Addr:    cfg.Ops.ListenAddress,
			Handler: o.Handler(cfg.Ops.MetricsEnabled, cfg.Ops.MetricsEndpoint),
		}
		go func() {
			slog.Info("ops endpoint listening", "address", cfg.Ops.ListenAddress)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("ops server error", "error", err)
			}
		}()
	}

	// Chat server
	go func() {
		slog.Info("chat relay listening", "address", cfg.Server.ListenAddress, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = chatServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = chatServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("chat server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Start watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			warnings := config.IsReloadSafe(cfg, newCfg)
			for _, w := range warnings {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			handler.UpdateConfig(cfg)
			gateway.UpdateTuning(cfg.Completion)
			coord.UpdateLimits(cfg.Completion.FallbackText, cfg.Chat.MaxMessageText)
			history.SetLimits(cfg.Chat.UserHistory, cfg.Chat.AIHistory)

			if cfg.Security.RateLimit.Enabled && rl != nil {
				r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
				rl.UpdateRate(r, cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			// Re-setup logging with new level
			logging.Setup(cfg.Logging, ring)

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			// Stop watchdog
			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Send close frames to connected clients, then stop accepting
			handler.StartDrain()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if opsServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					opsServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				chatServer.Shutdown(ctx)
			}()
			wg.Wait()

			shutdownCancel()
			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=roomrelay - themed chat relay
Documentation=https://github.com/cortexuvula/roomrelay
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=roomrelay
Group=roomrelay
ExecStartPre=/usr/local/bin/roomrelay validate --config /etc/roomrelay/config.yaml
ExecStart=/usr/local/bin/roomrelay start --config /etc/roomrelay/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/roomrelay
LogsDirectory=roomrelay
StateDirectory=roomrelay
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=roomrelay

[Install]
WantedBy=multi-user.target
`)
}
