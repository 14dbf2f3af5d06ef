package retrievers

import (
	"context"

	"github.com/tas-memory-service/models"
)

// Retriever is one search strategy over stored pages. Implementations
// score candidate pages for a query; the research agent merges results
// across retrievers.
type Retriever interface {
	// Name identifies the retriever in results and logs.
	Name() string

	// Retrieve returns scored candidates for the query, best first.
	// Pages listed in query.ExcludePageIDs must not appear.
	Retrieve(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error)
}
