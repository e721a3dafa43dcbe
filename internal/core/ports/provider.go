package ports

import (
	"context"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// PromptProvider is one AI backend able to turn a mixing prompt into settings.
// Implementations return the provider's raw answer; interpretation and
// validation happen in the resolution chain.
type PromptProvider interface {
	Name() string
	ResolvePrompt(ctx context.Context, req domain.PromptRequest) ([]byte, error)
}
