package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/serveroute/serveroute/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildHandler(env),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		}
		servers := []*http.Server{srv}
		if cfg.Metrics.Enabled {
			servers = append(servers, &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
				Handler:           env.Metrics.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			})
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range servers {
			g.Go(func() error {
				zap.L().Info("starting server", zap.String("addr", s.Addr))
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return eris.Wrapf(err, "server listen %s", s.Addr)
				}
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
			defer cancel()
			for _, s := range servers {
				if err := s.Shutdown(shutdownCtx); err != nil {
					zap.L().Warn("server shutdown", zap.String("addr", s.Addr), zap.Error(err))
				}
			}
			return nil
		})

		return g.Wait()
	},
}

// buildHandler mounts the API and, for local photo storage, the photo
// directory.
func buildHandler(env *appEnv) http.Handler {
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	apiSrv := api.NewServer(api.Config{
		CORSOrigins:      cfg.Server.CORSOrigins,
		UploadRatePerMin: cfg.Server.UploadRatePerMin,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
	}, auth, env.Processor, env.Reviewer, env.Attempts, env.Store)

	if cfg.Photos.Driver == "gcs" {
		return apiSrv.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/photos/", http.StripPrefix("/photos/", http.FileServer(http.Dir(cfg.Photos.LocalDir))))
	mux.Handle("/", apiSrv.Handler())
	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
