package store

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates the pages and abstracts tables and their indexes.
// The vector columns are dimension-parameterized, so the DDL is issued
// directly instead of relying on AutoMigrate.
func Migrate(db *gorm.DB, embeddingDims int) error {
	if embeddingDims <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", embeddingDims)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pages (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDims),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS abstracts (
			page_id UUID PRIMARY KEY REFERENCES pages(id) ON DELETE CASCADE,
			owner_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			headers TEXT[] NOT NULL DEFAULT '{}',
			summary_embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDims),
		`CREATE INDEX IF NOT EXISTS idx_pages_owner ON pages (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_owner_created ON pages (owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_owner ON abstracts (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_content_fts ON pages USING GIN (to_tsvector('english', content))`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_headers ON abstracts USING GIN (headers)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	ensureANNIndexes(db)
	ensureKeywordBackends(db)

	return nil
}

// ensureANNIndexes creates the HNSW indexes best effort: HNSW needs
// pgvector >= 0.5 and builds can fail on tiny maintenance_work_mem.
// Retrieval still works without them, just slower, so failures are
// ignored.
func ensureANNIndexes(db *gorm.DB) {
	annStmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_pages_embedding ON pages USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_summary_embedding ON abstracts USING hnsw (summary_embedding vector_cosine_ops)`,
	}
	for _, stmt := range annStmts {
		db.Exec(stmt)
	}
}

// ensureKeywordBackends creates BM25 indexes for whichever full-text
// extension happens to be installed. Failures are ignored: keyword
// retrieval falls back to native FTS, which the GIN index above covers.
func ensureKeywordBackends(db *gorm.DB) {
	if extensionInstalled(db, "pg_search") {
		db.Exec(`CREATE INDEX IF NOT EXISTS idx_pages_content_bm25 ON pages USING bm25 (id, content) WITH (key_field='id')`)
		return
	}
	if extensionInstalled(db, "vchord_bm25") {
		db.Exec(`ALTER TABLE pages ADD COLUMN IF NOT EXISTS content_bm25 bm25vector GENERATED ALWAYS AS (tokenize(content, 'bert')) STORED`)
		db.Exec(`CREATE INDEX IF NOT EXISTS idx_pages_content_bm25 ON pages USING bm25 (content_bm25 bm25_ops)`)
	}
}

func extensionInstalled(db *gorm.DB, name string) bool {
	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM pg_extension WHERE extname = ?`, name).Scan(&count).Error; err != nil {
		return false
	}
	return count > 0
}
