package ports

import (
	"context"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// Analyzer extracts audio features for a track.
type Analyzer interface {
	Analyze(ctx context.Context, trackRef string, options map[string]string) (domain.AudioFeatures, error)
}

// StemSeparator splits a track into stems.
type StemSeparator interface {
	Separate(ctx context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error)
}

// Renderer produces tempo, key, gain and effect variants and the final mix.
type Renderer interface {
	Render(ctx context.Context, trackRef string, params domain.RenderParams) (domain.ArtifactRef, error)
}
