package retrievers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
)

// keyword backend names, appended to the retriever name on each result
// so callers can tell which engine produced a score.
const (
	backendPgTextsearch = "pg_textsearch"
	backendParadeDB     = "paradedb"
	backendVchordBM25   = "vchord_bm25"
	backendNativeFTS    = "native_fts"
)

// KeywordRetriever ranks pages by lexical relevance. It prefers a BM25
// extension when one is installed and falls back to PostgreSQL's native
// full-text search otherwise. The backend is probed once and then sticky
// for the lifetime of the process.
type KeywordRetriever struct {
	db     *gorm.DB
	logger *logger.Logger

	probeOnce sync.Once
	backend   string
}

// NewKeywordRetriever creates a keyword retriever over the given database.
func NewKeywordRetriever(db *gorm.DB, log *logger.Logger) *KeywordRetriever {
	return &KeywordRetriever{db: db, logger: log}
}

// Name implements Retriever.
func (r *KeywordRetriever) Name() string {
	return "keyword_bm25"
}

// Retrieve implements Retriever. A failing query is logged and yields an
// empty result set rather than an error, so one broken backend does not
// sink a whole search fan-out.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if query.QueryText == "" {
		return []models.RetrievalResult{}, nil
	}

	backend := r.selectBackend(ctx)

	var rows []keywordRow
	var err error
	switch backend {
	case backendPgTextsearch:
		rows, err = r.queryPgTextsearch(ctx, query)
	case backendParadeDB:
		rows, err = r.queryParadeDB(ctx, query)
	case backendVchordBM25:
		rows, err = r.queryVchordBM25(ctx, query)
	default:
		rows, err = r.queryNativeFTS(ctx, query)
	}
	if err != nil {
		r.logger.Warn("keyword retrieval failed, returning empty results",
			"backend", backend, "owner_id", query.OwnerID, "error", err)
		return []models.RetrievalResult{}, nil
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		score := row.Score
		// pg_textsearch and VectorChord report BM25 distance as a
		// negative value; flip it into a positive score.
		if score < 0 {
			score = -score
		}
		if query.MinScore > 0 && score < query.MinScore {
			continue
		}
		results = append(results, models.RetrievalResult{
			PageID:    row.ID,
			Score:     score,
			Retriever: fmt.Sprintf("%s_%s", r.Name(), backend),
			Snippet:   row.Snippet,
		})
	}
	return results, nil
}

type keywordRow struct {
	ID      uuid.UUID
	Score   float64
	Snippet string
}

// selectBackend probes pg_extension once and caches the answer.
func (r *KeywordRetriever) selectBackend(ctx context.Context) string {
	r.probeOnce.Do(func() {
		switch {
		case r.extensionInstalled(ctx, "pg_textsearch"):
			r.backend = backendPgTextsearch
		case r.extensionInstalled(ctx, "pg_search"):
			r.backend = backendParadeDB
		case r.extensionInstalled(ctx, "vchord_bm25"):
			r.backend = backendVchordBM25
		default:
			r.backend = backendNativeFTS
		}
		r.logger.Info("keyword retriever backend selected", "backend", r.backend)
	})
	return r.backend
}

func (r *KeywordRetriever) extensionInstalled(ctx context.Context, name string) bool {
	var count int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM pg_extension WHERE extname = ?`, name).
		Scan(&count).Error
	if err != nil {
		return false
	}
	return count > 0
}

func (r *KeywordRetriever) queryPgTextsearch(ctx context.Context, query models.RetrievalQuery) ([]keywordRow, error) {
	sql := `
		SELECT id, (content <@> ?) AS score, LEFT(content, 200) AS snippet
		FROM pages
		WHERE owner_id = ?` + excludeClause(query) + `
		ORDER BY content <@> ?
		LIMIT ?`
	args := []interface{}{query.QueryText, query.OwnerID}
	args = appendExcludeArgs(args, query)
	args = append(args, query.QueryText, limitOf(query))
	return r.scan(ctx, sql, args)
}

func (r *KeywordRetriever) queryParadeDB(ctx context.Context, query models.RetrievalQuery) ([]keywordRow, error) {
	sql := `
		SELECT id, paradedb.score(id) AS score, LEFT(content, 200) AS snippet
		FROM pages
		WHERE content @@@ ? AND owner_id = ?` + excludeClause(query) + `
		ORDER BY paradedb.score(id) DESC
		LIMIT ?`
	args := []interface{}{query.QueryText, query.OwnerID}
	args = appendExcludeArgs(args, query)
	args = append(args, limitOf(query))
	return r.scan(ctx, sql, args)
}

func (r *KeywordRetriever) queryVchordBM25(ctx context.Context, query models.RetrievalQuery) ([]keywordRow, error) {
	sql := `
		SELECT id,
		       (content_bm25 <&> to_bm25query('idx_pages_content_bm25', tokenize(?, 'bert'))) AS score,
		       LEFT(content, 200) AS snippet
		FROM pages
		WHERE owner_id = ?` + excludeClause(query) + `
		ORDER BY content_bm25 <&> to_bm25query('idx_pages_content_bm25', tokenize(?, 'bert'))
		LIMIT ?`
	args := []interface{}{query.QueryText, query.OwnerID}
	args = appendExcludeArgs(args, query)
	args = append(args, query.QueryText, limitOf(query))
	return r.scan(ctx, sql, args)
}

func (r *KeywordRetriever) queryNativeFTS(ctx context.Context, query models.RetrievalQuery) ([]keywordRow, error) {
	sql := `
		SELECT id,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', ?)) AS score,
		       LEFT(content, 200) AS snippet
		FROM pages
		WHERE owner_id = ?
		  AND to_tsvector('english', content) @@ plainto_tsquery('english', ?)` + excludeClause(query) + `
		ORDER BY score DESC
		LIMIT ?`
	args := []interface{}{query.QueryText, query.OwnerID, query.QueryText}
	args = appendExcludeArgs(args, query)
	args = append(args, limitOf(query))
	return r.scan(ctx, sql, args)
}

func (r *KeywordRetriever) scan(ctx context.Context, sql string, args []interface{}) ([]keywordRow, error) {
	var rows []keywordRow
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func excludeClause(query models.RetrievalQuery) string {
	if len(query.ExcludePageIDs) == 0 {
		return ""
	}
	return " AND id NOT IN ?"
}

func appendExcludeArgs(args []interface{}, query models.RetrievalQuery) []interface{} {
	if len(query.ExcludePageIDs) == 0 {
		return args
	}
	return append(args, query.ExcludePageIDs)
}

func limitOf(query models.RetrievalQuery) int {
	if query.MaxResults > 0 {
		return query.MaxResults
	}
	return 10
}
