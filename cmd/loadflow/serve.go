package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/internal/middleware"
	"github.com/rpattn/loadflow/internal/pipeline"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var noDB bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), !noDB)
		},
	}
	cmd.Flags().BoolVar(&noDB, "no-db", false, "run without the database (no run log or saved mappings)")
	return cmd
}

func (a *app) serve(ctx context.Context, persist bool) error {
	log := logger.FromContext(ctx)

	st, err := buildStack(ctx, a.cfg, stackOptions{persist: persist})
	if err != nil {
		return err
	}
	defer st.Close()

	handlerOpts := []pipeline.HandlerOption{pipeline.WithPreviewRows(a.cfg.Server.PreviewRows)}
	if persist {
		handlerOpts = append(handlerOpts,
			pipeline.WithMappingRepository(st.mappings),
			pipeline.WithRunLog(st.runs),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/", pipeline.NewHTTPHandler(st.service, handlerOpts...))
	if a.cfg.Metrics.Enabled {
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(st.metrics, promhttp.HandlerOpts{}))
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(log)(mux)),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", server.Addr, "metrics", a.cfg.Metrics.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return err
	}
	log.Info("server exited")
	return nil
}
