package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"bridgeinspect/internal/api"
	"bridgeinspect/internal/metrics"
	"bridgeinspect/internal/records"
	"bridgeinspect/internal/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		if rt.cfg.AutoMigrate {
			if err := rt.migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		} else if err := settings.CheckCodeReusePolicy(rt.db, string(rt.policy)); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		opts := rt.options()
		opts.Observer = metrics.New(reg)
		svc := records.NewService(rt.db, rt.tax, opts)

		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery(), api.RequestLogger(rt.log), corsMiddleware())
		srv := &api.Server{Records: svc, Log: rt.log, Gatherer: reg}
		exporter, store, err := rt.snapshots(cmd.Context(), svc)
		switch {
		case err == nil:
			srv.Snapshots, srv.SnapshotStore = exporter, store
		case errors.Is(err, errSnapshotsDisabled):
			rt.log.Info("snapshot export disabled")
		default:
			return err
		}
		srv.RegisterRoutes(r)

		httpSrv := &http.Server{Addr: rt.cfg.Addr, Handler: r}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			rt.log.Info("listening", "addr", rt.cfg.Addr, "driver", rt.cfg.DBDriver, "policy", rt.policy)
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
		}

		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}
