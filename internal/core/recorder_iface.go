package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
)

// ArtifactSink receives finished recordings.
type ArtifactSink interface {
	Save(ctx context.Context, a *domain.Artifact) error
}
