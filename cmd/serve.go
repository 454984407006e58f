package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/monitoring"
	"github.com/sells-group/dep-population/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve task status and published tiles over HTTP",
	Long:  "Starts the status API: ledger tasks and counts, the monitoring snapshot, published STAC items, and POST /tiles/{row}/{col}/run to process a tile in the background.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(ctx, serverOptions(env))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		shutdownDone := make(chan struct{})
		go func() {
			defer close(shutdownDone)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			<-shutdownDone
			return eris.Wrap(err, "server listen")
		}
		<-shutdownDone
		srv.Close()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func serverOptions(env *tileEnv) server.Options {
	opts := server.Options{
		Runner:         env.Processor,
		Items:          env.Writer,
		LookbackHours:  cfg.Monitoring.LookbackWindowHours,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if env.Store != nil {
		opts.Tasks = env.Store
		opts.Metrics = monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StaleTaskMinutes)*time.Minute)
	}
	return opts
}
