package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/config"
	"github.com/cyp0633/libcaldora-sync/internal/dashboard"
	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/syncengine"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// syncService is the part of the engine the daemon's HTTP surface uses.
type syncService interface {
	GetSyncStatus() syncengine.SyncStatus
	FullSync(ctx context.Context, opts syncengine.FullSyncOptions) (*syncengine.SyncResult, error)
}

func newDaemonCmd(c *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync periodically and serve status, metrics and a status WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				c.cfg.HTTP.Listen = listen
			}
			return c.runDaemon(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from http.listen)")
	return cmd
}

func (c *cli) runDaemon(ctx context.Context) error {
	rt, err := c.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	c.watchConfig()

	hub := dashboard.NewHub(c.logger.With("component", "dashboard"), func() any {
		return newStatusView(rt.engine.GetSyncStatus())
	})
	defer hub.Close()
	id := rt.engine.AddSyncListener(func(s syncengine.SyncStatus) {
		hub.Publish(dashboard.MessageStatus, newStatusView(s))
	})
	defer rt.engine.RemoveSyncListener(id)

	srv := &http.Server{
		Addr:              c.cfg.HTTP.Listen,
		Handler:           newRouter(rt.engine, hub, c.logger),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.syncLoop(gctx, rt.engine, hub)
		return nil
	})
	g.Go(func() error {
		c.logger.Info("daemon listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("graceful shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	c.logger.Info("daemon stopped")
	return err
}

// syncLoop runs a full sync right away and then every sync.interval.
func (c *cli) syncLoop(ctx context.Context, svc syncService, hub *dashboard.Hub) {
	ticker := time.NewTicker(c.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		c.runScheduledSync(ctx, svc, hub)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *cli) runScheduledSync(ctx context.Context, svc syncService, hub *dashboard.Hub) {
	window := c.cfg.Window(time.Now())
	result, err := svc.FullSync(ctx, syncengine.FullSyncOptions{Window: &window})
	switch {
	case errors.Is(err, resource.ErrSyncInProgress):
		c.logger.Debug("scheduled sync skipped, another sync is running")
		return
	case errors.Is(err, resource.ErrOffline):
		c.logger.Debug("scheduled sync skipped, offline")
		return
	case err != nil:
		c.logger.Warn("scheduled sync failed", "error", err)
		return
	}
	hub.Publish(dashboard.MessageSyncComplete, newSyncSummary(result))
}

type syncSummary struct {
	Calendars    int      `json:"calendars"`
	AddressBooks int      `json:"addressBooks"`
	Refreshed    []string `json:"refreshed"`
	Replayed     int      `json:"replayed"`
	Conflicts    int      `json:"conflicts"`
	Remaining    int      `json:"remaining"`
	Errors       []string `json:"errors,omitempty"`
	DurationMS   int64    `json:"durationMs"`
}

func newSyncSummary(r *syncengine.SyncResult) syncSummary {
	s := syncSummary{
		Calendars:    len(r.Calendars),
		AddressBooks: len(r.AddressBooks),
		Refreshed:    r.Refreshed,
		Replayed:     r.Replay.Replayed,
		Conflicts:    len(r.Replay.Conflicts),
		Remaining:    r.Replay.Remaining,
		DurationMS:   r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	for _, err := range r.Errors {
		s.Errors = append(s.Errors, err.Error())
	}
	return s
}

// watchConfig reapplies log.level when the config file changes. Other
// settings need a restart.
func (c *cli) watchConfig() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level, err := config.ParseLevel(c.v.GetString("log.level"))
		if err != nil {
			c.logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		if level != c.level.Level() {
			c.level.Set(level)
			c.logger.Info("log level changed", "level", level.String())
		}
	})
	c.v.WatchConfig()
}

func newRouter(svc syncService, hub http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, newStatusView(svc.GetSyncStatus()), logger)
	})
	r.Get("/status/ws", hub.ServeHTTP)
	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		result, err := svc.FullSync(r.Context(), syncengine.FullSyncOptions{ForceRefresh: force})
		switch {
		case errors.Is(err, resource.ErrSyncInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, resource.ErrOffline):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			writeJSON(w, http.StatusOK, newSyncSummary(result), logger)
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
