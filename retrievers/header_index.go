package retrievers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
)

// HeaderIndexRetriever looks pages up by the headers recorded on their
// abstracts. Matching is case-insensitive substring over each header, and
// every hit scores 1.0: a header match is an exact topical hit, not a
// ranked guess.
type HeaderIndexRetriever struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewHeaderIndexRetriever creates a header index retriever over the given database.
func NewHeaderIndexRetriever(db *gorm.DB, log *logger.Logger) *HeaderIndexRetriever {
	return &HeaderIndexRetriever{db: db, logger: log}
}

// Name implements Retriever.
func (r *HeaderIndexRetriever) Name() string {
	return "page_index"
}

// Retrieve implements Retriever. QueryText is matched against the
// unnested headers array; the first matching header is reported on the
// result.
func (r *HeaderIndexRetriever) Retrieve(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if query.QueryText == "" {
		return []models.RetrievalResult{}, nil
	}

	sql := `
		SELECT a.page_id AS id,
		       (SELECT h FROM unnest(a.headers) AS h WHERE h ILIKE ? LIMIT 1) AS matched_header,
		       LEFT(a.summary, 200) AS snippet
		FROM abstracts a
		WHERE a.owner_id = ?
		  AND EXISTS (SELECT 1 FROM unnest(a.headers) AS h WHERE h ILIKE ?)` + headerExcludeClause(query) + `
		LIMIT ?`
	pattern := "%" + escapeLikePattern(query.QueryText) + "%"
	args := []interface{}{pattern, query.OwnerID, pattern}
	if len(query.ExcludePageIDs) > 0 {
		args = append(args, query.ExcludePageIDs)
	}
	args = append(args, limitOf(query))

	var rows []struct {
		ID            uuid.UUID
		MatchedHeader string
		Snippet       string
	}
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to run header index search: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.RetrievalResult{
			PageID:        row.ID,
			Score:         1.0,
			Retriever:     r.Name(),
			MatchedHeader: row.MatchedHeader,
			Snippet:       row.Snippet,
		})
	}
	r.logger.Debug("header index retrieval complete", "owner_id", query.OwnerID, "matches", len(results))
	return results, nil
}

// escapeLikePattern neutralizes LIKE wildcards in user text so the
// header match is a literal substring match. PostgreSQL's default
// escape character is a backslash.
func escapeLikePattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func headerExcludeClause(query models.RetrievalQuery) string {
	if len(query.ExcludePageIDs) == 0 {
		return ""
	}
	return " AND a.page_id NOT IN ?"
}
