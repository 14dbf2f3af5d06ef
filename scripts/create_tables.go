package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// Standalone table setup for environments where the service itself is not
// allowed to run DDL. Mirrors store.Migrate.
func main() {
	fmt.Println("Creating memory service database tables...")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=memoryuser password=memorypassword dbname=memory_service sslmode=disable"
	}
	dims := 1536
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			log.Fatalf("Invalid EMBEDDING_DIMENSIONS: %q", v)
		}
		dims = parsed
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	fmt.Println("Creating vector extension...")
	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		log.Fatalf("Failed to create vector extension: %v", err)
	}
	fmt.Println("✅ Vector extension created/verified")

	fmt.Println("Creating pages table...")
	createPagesTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS pages (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		embedding vector(%d),
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, dims)
	if _, err := db.Exec(createPagesTable); err != nil {
		log.Fatalf("Failed to create pages table: %v", err)
	}
	fmt.Println("✅ Pages table created/verified")

	fmt.Println("Creating abstracts table...")
	createAbstractsTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS abstracts (
		page_id UUID PRIMARY KEY REFERENCES pages(id) ON DELETE CASCADE,
		owner_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		headers TEXT[] NOT NULL DEFAULT '{}',
		summary_embedding vector(%d),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, dims)
	if _, err := db.Exec(createAbstractsTable); err != nil {
		log.Fatalf("Failed to create abstracts table: %v", err)
	}
	fmt.Println("✅ Abstracts table created/verified")

	fmt.Println("Creating indexes...")
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_pages_owner ON pages (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_owner_created ON pages (owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_owner ON abstracts (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_content_fts ON pages USING GIN (to_tsvector('english', content))`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_headers ON abstracts USING GIN (headers)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_embedding ON pages USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_abstracts_summary_embedding ON abstracts USING hnsw (summary_embedding vector_cosine_ops)`,
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("Warning: failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	fmt.Println("Done.")
}
