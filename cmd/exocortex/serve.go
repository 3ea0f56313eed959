package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coolbeans/exocortex/pkg/dataset"
	"github.com/coolbeans/exocortex/pkg/server"
	"github.com/coolbeans/exocortex/pkg/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		Long: `Start the HTTP API on the configured listen address.

Routes:
  GET  /api/health         liveness and triple count
  POST /api/sparql         run a query: {"query": "...", "format": "json"}
  GET  /api/assets         search assets: ?q=&class=&limit=20
  GET  /api/graph          match triples: ?s=&p=&o=&limit=100
  POST /api/graph          add or remove one triple
  DELETE /api/graph        remove every triple matching ?s=&p=&o=
  GET  /api/graph/export   whole graph: ?format=turtle|ntriples|jsonld
  GET  /api/cache/stats    query cache counters
  POST /api/cache/invalidate
  PUT  /api/cache/config   {"enabled": true, "ttl": "5m", "max_entries": 1000}
  GET  /metrics            Prometheus metrics

With --watch the datasets are reloaded when their files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				a.cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Dataset.Watch, _ = cmd.Flags().GetBool("watch")
			}

			srv, err := server.New(server.Config{
				ListenAddr:  a.cfg.Server.Listen,
				APIKey:      a.cfg.Server.APIKey,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				Logger:      a.logger,
			}, a.engine)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if a.cfg.Dataset.Watch && len(a.paths) > 0 {
				go func() {
					err := a.loader.Watch(ctx, a.paths, dataset.DefaultDebounce, func(changed []string) {
						a.logger.Info("datasets changed", "files", changed)
						if err := a.reload(); err != nil {
							a.logger.Error("reloading datasets", "error", err)
						}
					})
					if err != nil {
						a.logger.Error("dataset watcher stopped", "error", err)
					}
				}()
			}
			go a.sweepCache(ctx)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().String("listen", "", "Override the configured listen address")
	cmd.Flags().Bool("watch", false, "Reload datasets when their files change")

	return cmd
}

// reload loads every dataset into a fresh store before touching the
// engine's, so a broken file leaves the previous contents in place.
func (a *app) reload() error {
	fresh := store.NewTripleStore()
	if _, err := a.loader.LoadInto(fresh, a.paths...); err != nil {
		return err
	}

	return a.engine.Update(func(ts *store.TripleStore) error {
		ts.Clear()
		added := ts.MergeFrom(fresh)
		a.logger.Info("datasets reloaded", "triples", added)
		return nil
	})
}

// sweepCache purges expired query cache entries once per TTL.
func (a *app) sweepCache(ctx context.Context) {
	interval := a.engine.CacheConfig().TTL
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.engine.CleanupCache()
		}
	}
}
