package services

import (
	"context"

	"github.com/tas-memory-service/models"
)

// MemoryService is the single entry point for the memory system: it owns
// ingest, recall, and deletion on behalf of the HTTP surface and any
// embedding application.
type MemoryService interface {
	// Memorize ingests one conversation turn as a page plus abstract.
	Memorize(ctx context.Context, req models.MemorizeRequest) (*models.MemorizeResponse, error)

	// Research assembles a token-bounded memory context for a query.
	Research(ctx context.Context, req models.ResearchRequest) (*models.MemoryContext, error)

	// ResearchStream is the streaming variant of Research, emitting one
	// step per loop phase.
	ResearchStream(ctx context.Context, req models.ResearchRequest) <-chan models.ResearchStep

	// Forget deletes memories: everything for an owner, an explicit page
	// id list, or everything before a cutoff.
	Forget(ctx context.Context, req models.ForgetRequest) (*models.ForgetResponse, error)

	// Stats reports page counts and timestamps for one owner.
	Stats(ctx context.Context, ownerID string) (*models.OwnerStats, error)
}
