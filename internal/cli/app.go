package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/audiosvc"
	gwclient "github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/gateway"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/localaudio"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/ollama"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/openai"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/adapters/sqlite"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/config"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/services"
)

// app holds the wired core and the resources that need closing.
type app struct {
	cfg          config.Config
	durable      *sqlite.Adapter
	audio        *audiosvc.Client
	board        *services.StatusBoard
	orchestrator *services.Orchestrator
}

// newApp wires adapters and services from cfg.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, board: services.NewStatusBoard(cfg.Verbose)}

	if cfg.Cache.Path != "" {
		durable, err := sqlite.NewAdapter(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("cli: open cache: %w", err)
		}
		if err := durable.Ping(ctx); err != nil {
			_ = durable.Close()
			return nil, fmt.Errorf("cli: open cache: %w", err)
		}
		a.durable = durable
	}

	cache, store, err := a.caches()
	if err != nil {
		a.Close()
		return nil, err
	}

	collab := services.Collaborators{
		FallbackAnalyzer: localaudio.NewAnalyzer(
			localaudio.WithLocalRoot(cfg.Audio.LocalRoot),
			localaudio.WithRemoteHosts(cfg.Audio.RemoteHosts...),
		),
		FallbackSeparator: localaudio.Separator{},
	}
	if cfg.Audio.URL != "" {
		audio := audiosvc.NewClient(audiosvc.Config{
			BaseURL:           cfg.Audio.URL,
			Timeout:           cfg.Audio.Timeout,
			Attempts:          cfg.Audio.Attempts,
			Delay:             cfg.Audio.Delay,
			RequestsPerSecond: cfg.Audio.RequestsPerSecond,
		})
		a.audio = audio
		collab.Analyzer = audio
		collab.Separator = audio
		collab.Renderer = audio
	} else {
		log.Printf("WARN cli: audio.url is empty, analysis uses the local fallback and mixes cannot render")
		collab.Renderer = unavailableRenderer{}
	}

	resolver := services.NewResolver(providers(ctx, cfg, true),
		services.WithProviderTimeout(cfg.Resolver.ProviderTimeout),
		services.WithTickInterval(cfg.Resolver.TickInterval),
		services.WithResolverSink(a.board),
	)
	a.orchestrator = services.NewOrchestrator(collab, cache, store, resolver,
		services.WithSink(a.board),
		services.WithAnalyzeTimeout(cfg.Audio.AnalyzeTimeout),
		services.WithRenderTimeout(cfg.Audio.RenderTimeout),
		services.WithSessionRetention(cfg.Server.SessionRetention),
	)
	return a, nil
}

func (a *app) caches() (*services.AnalysisCache, *services.PrecomputedStore, error) {
	common := []services.CacheOption{services.WithCapacity(a.cfg.Cache.Capacity)}
	if a.durable != nil {
		common = append(common, services.WithDurableTier(a.durable))
	}
	cache, err := services.NewAnalysisCache(append(common,
		services.WithTTL(a.cfg.Cache.AnalysisTTL),
		services.WithStemTTL(a.cfg.Cache.StemTTL),
	)...)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: analysis cache: %w", err)
	}
	store, err := services.NewPrecomputedStore(append(common, services.WithTTL(a.cfg.Cache.PrecomputedTTL))...)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: precomputed store: %w", err)
	}
	return cache, store, nil
}

// Close waits for background mixes and releases the durable tier.
func (a *app) Close() {
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}
	if a.durable != nil {
		if err := a.durable.Close(); err != nil {
			log.Printf("WARN cli: close cache: %v", err)
		}
	}
}

// providers returns the chain in priority order: gateway, OpenAI, Ollama.
// The gateway itself runs with withGateway false so it never calls itself.
func providers(ctx context.Context, cfg config.Config, withGateway bool) []ports.PromptProvider {
	var out []ports.PromptProvider
	if withGateway && cfg.Gateway.URL != "" {
		out = append(out, gwclient.NewClient(ctx, gwclient.Config{
			BaseURL:      cfg.Gateway.URL,
			ClientID:     cfg.Gateway.ClientID,
			ClientSecret: cfg.Gateway.ClientSecret,
			Timeout:      cfg.Resolver.ProviderTimeout,
			MaxRetries:   cfg.Gateway.MaxRetries,
			Backoff:      cfg.Gateway.Backoff,
		}))
	}
	if cfg.OpenAI.APIKey != "" {
		out = append(out, openai.NewClient(openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKey:            cfg.OpenAI.APIKey,
			Model:             cfg.OpenAI.Model,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
			Timeout:           cfg.Resolver.ProviderTimeout,
		}))
	}
	if cfg.Ollama.Host != "" {
		out = append(out, ollama.NewClient(cfg.Ollama.Host, cfg.Ollama.Model))
	}
	if len(out) == 0 {
		log.Printf("WARN cli: no prompt providers configured, prompts resolve to default settings")
	}
	return out
}

// unavailableRenderer fails every render; sessions stall at the first stage that needs one.
type unavailableRenderer struct{}

func (unavailableRenderer) Render(context.Context, string, domain.RenderParams) (domain.ArtifactRef, error) {
	return "", &domain.ProviderError{Provider: "renderer", Err: errors.New("audio service not configured")}
}
