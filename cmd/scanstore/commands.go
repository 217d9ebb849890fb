package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mamasecure/scanstore/internal/api"
	tracing "github.com/mamasecure/scanstore/internal/observability"
	"github.com/mamasecure/scanstore/internal/shell"
	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/config"
	"github.com/mamasecure/scanstore/pkg/observability"
	"github.com/mamasecure/scanstore/pkg/scan"
	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API with health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Printf("Starting scanstore v%s", Version)
	log.Printf("Storage: %s, Classifier: %s, HTTP Port: %d", cfg.Storage.Backend, cfg.Classifier.Kind, cfg.Server.HTTPPort)

	if err := tracing.Init(cfg.Tracing); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Initialize observability
	observability.SetVersion(Version)
	observability.InitMetrics()
	checker := observability.NewHealthChecker()
	checker.RegisterCheck(observability.PingCheck())
	if p, ok := svc.backend.(session.Pinger); ok {
		checker.RegisterCheck(observability.StorageCheck(svc.backend.Name(), p.Ping))
	}
	if p, ok := svc.classifier.(classify.Pinger); ok {
		checker.RegisterCheck(observability.ExternalServiceCheck("classifier:"+svc.classifier.Name(), p.Ping))
	}

	scheduler := observability.NewScheduler(checker, cfg.Server.HealthSchedule)
	if err := scheduler.Start(); err != nil {
		return err
	}

	handler := api.NewHandler(svc.manager, svc.classifier,
		api.WithRateLimit(cfg.Server.ScanRatePerSecond, cfg.Server.ScanBurst))
	obsServer := observability.NewServer(cfg.Server.MetricsPort, checker)

	// Without a dedicated metrics port the health and metrics endpoints
	// share the API listener.
	var root http.Handler = api.NewRouter(handler)
	if cfg.Server.MetricsPort == 0 {
		mux := http.NewServeMux()
		mux.Handle("/api/", root)
		mux.Handle("/", obsServer.Handler())
		root = mux
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Printf("Starting HTTP server on :%d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	if cfg.Server.MetricsPort > 0 {
		go func() {
			log.Printf("Starting observability server on :%d", cfg.Server.MetricsPort)
			if err := obsServer.Start(); err != nil {
				errChan <- fmt.Errorf("observability server error: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errChan:
		log.Printf("Error: %v", runErr)
	case <-quit:
		log.Println("Shutting down scanstore...")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Observability server shutdown error: %v", err)
	}
	if err := handler.Close(shutdownCtx); err != nil {
		log.Printf("Pending scans were abandoned: %v", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("Health scheduler stop error: %v", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("scanstore stopped")
	return runErr
}

func newShellCmd() *cobra.Command {
	var historyFile string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Scan interactively in the configured user's sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.open(ctx)
			if err != nil {
				return err
			}
			p := scan.NewPipeline(st, svc.classifier)
			defer p.Close(context.Background())

			var opts []shell.Option
			if historyFile != "" {
				opts = append(opts, shell.WithHistoryFile(historyFile))
			}
			return shell.New(p, cmd.OutOrStdout(), opts...).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&historyFile, "history", defaultHistoryFile(), "line history file (empty to disable)")
	return cmd
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scanstore_history")
}

func newScanCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "scan <input>...",
		Short: "Classify one input and record it in the active session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.open(ctx)
			if err != nil {
				return err
			}
			p := scan.NewPipeline(st, svc.classifier)
			defer p.Close(context.Background())

			input := strings.Join(args, " ")
			var job *scan.Job
			if sessionID != "" {
				job, err = p.SubmitTo(ctx, sessionID, input)
			} else {
				job, err = p.Submit(ctx, input)
			}
			if err != nil {
				return err
			}
			if job == nil {
				return errors.New("input is empty")
			}

			result, err := job.Wait(ctx)
			if err != nil {
				if !session.IsWarning(err) {
					return err
				}
				log.Printf("WARNING: %v", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(session.ScanRecord{Input: input, Result: result})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to record the scan in (default: active session)")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List the configured user's sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.open(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tSCANS")
			for _, s := range st.Sessions() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", s.ID, s.Label, len(s.Scans))
			}
			return w.Flush()
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the configured user's sessions and start over",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if _, err := svc.manager.Reset(ctx, svc.namespace()); err != nil {
				if !session.IsWarning(err) {
					return err
				}
				log.Printf("WARNING: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", svc.namespace())
			return nil
		},
	}
}
