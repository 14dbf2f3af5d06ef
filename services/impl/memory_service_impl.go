package impl

import (
	"context"
	"errors"
	"fmt"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/services"
	"github.com/tas-memory-service/services/memory"
	"github.com/tas-memory-service/services/research"
	"github.com/tas-memory-service/store"
)

// memoryServiceImpl wires the ingest agent, the research agent, the store
// and the research cache behind the MemoryService interface.
type memoryServiceImpl struct {
	ingest   *memory.IngestAgent
	research *research.Agent
	store    store.PageStore
	cache    ResearchCache
	defaults models.ResearchOptions
	logger   *logger.Logger
}

// NewMemoryService creates the memory service facade. Research requests
// that leave option fields unset fall back to the given defaults.
func NewMemoryService(ingest *memory.IngestAgent, researchAgent *research.Agent, pageStore store.PageStore, cache ResearchCache, defaults models.ResearchOptions, log *logger.Logger) services.MemoryService {
	return &memoryServiceImpl{
		ingest:   ingest,
		research: researchAgent,
		store:    pageStore,
		cache:    cache,
		defaults: defaults,
		logger:   log,
	}
}

// Memorize creates the page and abstract for a turn and writes both in one
// transaction. The page id is authoritative: the abstract is rewritten to
// reference it before the write.
func (s *memoryServiceImpl) Memorize(ctx context.Context, req models.MemorizeRequest) (*models.MemorizeResponse, error) {
	turn := req.Turn()

	page, err := s.ingest.CreatePage(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	abstract, err := s.ingest.CreateAbstract(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("failed to create abstract: %w", err)
	}
	abstract.PageID = page.ID

	if err := s.store.StorePageWithAbstract(ctx, page, abstract); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateOwner(ctx, req.OwnerID); err != nil {
		s.logger.Warn("failed to invalidate research cache after memorize",
			"owner_id", req.OwnerID, "error", err)
	}

	s.logger.Info("memorized conversation turn",
		"owner_id", req.OwnerID, "page_id", page.ID, "token_count", page.TokenCount)

	return &models.MemorizeResponse{
		PageID:  page.ID,
		OwnerID: req.OwnerID,
	}, nil
}

// Research answers a query from memory, consulting the research cache
// before running the loop.
func (s *memoryServiceImpl) Research(ctx context.Context, req models.ResearchRequest) (*models.MemoryContext, error) {
	opts := req.Options(s.defaults)
	key := ResearchCacheKey(req.OwnerID, req.Query, opts)

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("research cache lookup failed", "owner_id", req.OwnerID, "error", err)
	}
	if cached != nil {
		s.logger.Debug("research cache hit", "owner_id", req.OwnerID)
		return cached, nil
	}

	result, err := s.research.Research(ctx, models.ResearchQuery{
		OwnerID:   req.OwnerID,
		QueryText: req.Query,
	}, opts)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, result); err != nil {
		s.logger.Warn("failed to cache research result", "owner_id", req.OwnerID, "error", err)
	}
	return result, nil
}

// ResearchStream runs the loop and streams each phase. Streamed runs
// bypass the cache; the caller wants to watch the loop work.
func (s *memoryServiceImpl) ResearchStream(ctx context.Context, req models.ResearchRequest) <-chan models.ResearchStep {
	return s.research.ResearchStream(ctx, models.ResearchQuery{
		OwnerID:   req.OwnerID,
		QueryText: req.Query,
	}, req.Options(s.defaults))
}

// Forget deletes memories. The three modes are checked in order: all,
// explicit page ids, cutoff date. Page id deletes are independent; a
// missing id is not an error.
func (s *memoryServiceImpl) Forget(ctx context.Context, req models.ForgetRequest) (*models.ForgetResponse, error) {
	var deleted int64

	switch {
	case req.All:
		n, err := s.store.DeleteByOwner(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		deleted = n

	case len(req.PageIDs) > 0:
		for _, id := range req.PageIDs {
			err := s.store.DeletePage(ctx, id)
			if errors.Is(err, store.ErrPageNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			deleted++
		}

	case req.Before != nil:
		n, err := s.store.DeleteBefore(ctx, req.OwnerID, *req.Before)
		if err != nil {
			return nil, err
		}
		deleted = n

	default:
		return nil, fmt.Errorf("forget request must set all, page_ids, or before")
	}

	if err := s.cache.InvalidateOwner(ctx, req.OwnerID); err != nil {
		s.logger.Warn("failed to invalidate research cache after forget",
			"owner_id", req.OwnerID, "error", err)
	}

	s.logger.Info("forgot memories", "owner_id", req.OwnerID, "pages_deleted", deleted)
	return &models.ForgetResponse{PagesDeleted: deleted}, nil
}

// Stats reports an owner's page counts and timestamps.
func (s *memoryServiceImpl) Stats(ctx context.Context, ownerID string) (*models.OwnerStats, error) {
	return s.store.StatsByOwner(ctx, ownerID)
}
