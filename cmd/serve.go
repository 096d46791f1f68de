package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/blob"
	"github.com/cocorobi/cardpool/internal/ingest"
	"github.com/cocorobi/cardpool/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  "Serves the upload, tag, and profile endpoints until SIGINT or SIGTERM, then drains in-flight requests.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "serve: open store")
		}
		defer st.Close()

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "serve: store unreachable")
		}

		fs, err := blob.NewFS(cfg.Blob.Dir)
		if err != nil {
			return eris.Wrap(err, "serve: init blob store")
		}
		verifier, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return eris.Wrap(err, "serve: init token verifier")
		}

		handler := server.New(cfg, st, ingest.New(st, fs, cfg.Ingest), verifier)
		srv := &http.Server{
			Addr:              server.ListenAddr(cfg.Server),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "serve: http server")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "serve: shutdown")
		}

		zap.L().Info("http server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
