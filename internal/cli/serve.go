package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/rest"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the mixing HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	bindFlag(cmd.Flags(), "addr", "server.addr")
	cmd.Flags().String("audio-url", "", "audio-processing service URL")
	bindFlag(cmd.Flags(), "audio-url", "audio.url")
	cmd.Flags().Int("workers", 2, "prefetch workers")
	bindFlag(cmd.Flags(), "workers", "worker.count")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pool := worker.NewPool(a.orchestrator, cfg.Worker.QueueSize, cfg.Worker.JobTimeout)
	pool.Start(cfg.Worker.Count)
	defer pool.Stop()

	if a.audio != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.audio.Health(hctx); err != nil {
			log.Printf("WARN cli: audio service not reachable, continuing with local fallbacks: %v", err)
		}
		cancel()
	}
	if a.durable != nil {
		go purgeLoop(ctx, "expired cache entries", a.durable, time.Hour)
	}
	go purgeLoop(ctx, "idle mix sessions", a.orchestrator, cfg.Server.SessionRetention)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           rest.NewHandler(a.orchestrator, pool, a.board),
		ReadHeaderTimeout: 15 * time.Second,
	}
	log.Printf("INFO cli: mixing API listening on %s (providers: %v)", cfg.Server.Addr, a.orchestrator.Resolver().Providers())
	return listenAndServe(ctx, srv)
}

// purger drops expired entries: rows of the durable tier or idle sessions.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeLoop(ctx context.Context, what string, p purger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				log.Printf("WARN cli: purge %s: %v", what, err)
				continue
			}
			if n > 0 {
				log.Printf("INFO cli: purged %d %s", n, what)
			}
		}
	}
}

// listenAndServe runs srv until ctx is done, then shuts it down gracefully.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Printf("INFO cli: shutting down %s", srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
