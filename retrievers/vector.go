package retrievers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
)

// ErrMissingQueryEmbedding is returned when a vector search is attempted
// without a query embedding.
var ErrMissingQueryEmbedding = errors.New("vector retrieval requires a query embedding")

// VectorRetriever ranks pages by cosine similarity between the query
// embedding and each page's stored embedding. Pages without an embedding
// are skipped.
type VectorRetriever struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewVectorRetriever creates a vector retriever over the given database.
func NewVectorRetriever(db *gorm.DB, log *logger.Logger) *VectorRetriever {
	return &VectorRetriever{db: db, logger: log}
}

// Name implements Retriever.
func (r *VectorRetriever) Name() string {
	return "vector_semantic"
}

// Retrieve implements Retriever. Scores are 1 minus cosine distance, so
// identical vectors score 1.0.
func (r *VectorRetriever) Retrieve(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if len(query.QueryEmbedding) == 0 {
		return nil, ErrMissingQueryEmbedding
	}

	vec := pgvector.NewVector(query.QueryEmbedding)

	sql := `
		SELECT id, (1 - (embedding <=> ?)) AS score, LEFT(content, 200) AS snippet
		FROM pages
		WHERE owner_id = ? AND embedding IS NOT NULL` + excludeClause(query) + `
		ORDER BY embedding <=> ?
		LIMIT ?`
	args := []interface{}{vec, query.OwnerID}
	args = appendExcludeArgs(args, query)
	args = append(args, vec, limitOf(query))

	var rows []struct {
		ID      uuid.UUID
		Score   float64
		Snippet string
	}
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		if query.MinScore > 0 && row.Score < query.MinScore {
			continue
		}
		results = append(results, models.RetrievalResult{
			PageID:    row.ID,
			Score:     row.Score,
			Retriever: r.Name(),
			Snippet:   row.Snippet,
		})
	}
	r.logger.Debug("vector retrieval complete", "owner_id", query.OwnerID, "candidates", len(rows), "returned", len(results))
	return results, nil
}
