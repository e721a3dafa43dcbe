package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/services"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/gateway"
)

func newGatewayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Runs the remote orchestration service",
		Long:  `Holds the AI provider credentials and resolves prompts for authenticated mixing services.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, opts)
		},
	}
	cmd.Flags().String("addr", ":9090", "listen address")
	bindFlag(cmd.Flags(), "addr", "gateway.addr")
	return cmd
}

func runGateway(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	board := services.NewStatusBoard(cfg.Verbose)
	resolver := services.NewResolver(providers(ctx, cfg, false),
		services.WithProviderTimeout(cfg.Resolver.ProviderTimeout),
		services.WithTickInterval(cfg.Resolver.TickInterval),
		services.WithResolverSink(board),
	)

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gateway.NewServer(resolver, gateway.Config{Clients: cfg.Gateway.Clients, TokenTTL: cfg.Gateway.TokenTTL}),
		ReadHeaderTimeout: 15 * time.Second,
	}
	log.Printf("INFO cli: gateway listening on %s (providers: %v)", cfg.Gateway.Addr, resolver.Providers())
	return listenAndServe(ctx, srv)
}
