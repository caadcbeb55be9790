package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flitsinc/liminal-board/internal/ai"
	"github.com/flitsinc/liminal-board/internal/api"
	"github.com/flitsinc/liminal-board/internal/compose"
	"github.com/flitsinc/liminal-board/internal/config"
	"github.com/flitsinc/liminal-board/internal/metrics"
	"github.com/flitsinc/liminal-board/internal/session"
	"github.com/flitsinc/liminal-board/internal/state"
	"github.com/flitsinc/liminal-board/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	verbose  bool
	httpAddr string
	limit    int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "liminald",
	Short: "Liminal-Board realtime chat relay",
	Long: `liminald accepts websocket clients, reacts to the consciousness events
attached to their messages and replies with a composed response.

Run without a subcommand to serve.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket relay and HTTP endpoints",
	RunE:  runServe,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Print the session ledger",
	RunE:  runSessions,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&httpAddr, "addr", "", "listen address (overrides LIMINAL_HTTP_ADDR)")
	serveCmd.Flags().StringVar(&httpAddr, "addr", "", "listen address (overrides LIMINAL_HTTP_ADDR)")
	sessionsCmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to print")
	rootCmd.AddCommand(serveCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	m := metrics.New()

	var store *state.Store
	var ledger session.Ledger
	if cfg.LedgerEnabled() {
		db, err := state.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		store = state.NewStore(db)
		if n, err := store.CloseDangling(cmd.Context(), time.Now()); err != nil {
			logger.Warn("close dangling sessions", zap.Error(err))
		} else if n > 0 {
			logger.Info("closed sessions left open by a previous run", zap.Int64("count", n))
		}
		ledger = store
	}

	var gen compose.Generator
	info := api.DiagnosticsInfo{HTTPAddr: cfg.HTTPAddr, WebDir: cfg.WebDir}
	if store != nil {
		info.DBPath = cfg.DBPath
	}
	if cfg.LLMConfigured() {
		client, err := ai.NewClient(ai.Config{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			APIKey:   cfg.LLMAPIKey,
			BaseURL:  cfg.LLMBaseURL,
			Timeout:  cfg.LLMTimeout,
		})
		if err != nil {
			logger.Warn("LLM disabled", zap.Error(err))
		} else {
			gen = client
			info.LLMProvider = client.Provider()
			info.LLMModel = client.Model()
			info.LLMConfigured = true
			logger.Info("generation backend configured", zap.String("provider", client.Provider()), zap.String("model", client.Model()))
		}
	} else {
		logger.Info("no LLM api key set, replies use the offline placeholder")
	}

	composer := compose.New(gen, logger.Named("compose"), m)
	manager := session.NewManager(composer, session.Options{
		Ledger:  ledger,
		Log:     logger.Named("session"),
		Metrics: m,
	})

	apiServer := &api.Server{
		Sessions:       manager,
		Store:          store,
		Metrics:        m,
		Log:            logger.Named("api"),
		AllowedOrigins: cfg.AllowedOrigins,
		StartedAt:      time.Now().UTC(),
		Info:           info,
	}
	if cfg.WebDir != "" {
		apiServer.Web = (&web.Server{Dir: cfg.WebDir}).Handler()
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	httpServer := &http.Server{
		Handler:           loggingMiddleware(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info("liminald listening", zap.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections ignore Shutdown; cancelling their
		// base context ends the read loops.
		serverCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		manager.Close()
		if err := manager.Wait(ctx); err != nil {
			logger.Warn("in-flight replies abandoned", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if !cfg.LedgerEnabled() {
		return errors.New("session ledger is disabled (LIMINAL_DB_PATH=off)")
	}
	db, err := state.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	return printSessions(cmd, db, limit)
}

func printSessions(cmd *cobra.Command, db *sql.DB, limit int) error {
	items, err := state.NewStore(db).ListSessions(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, rec := range items {
		closed := "open"
		if rec.ClosedAt != nil {
			closed = rec.ClosedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", rec.ID, rec.EstablishedAt.Format(time.RFC3339), closed, rec.RemoteAddr)
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
