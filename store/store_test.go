package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-memory-service/models"
)

const testEmbeddingDims = 4

// setupTestStore connects to the database named by MEMORY_TEST_DB_DSN.
// Tests are skipped when it is unset, so the suite stays runnable without
// a PostgreSQL instance.
func setupTestStore(t *testing.T) *PageStoreImpl {
	t.Helper()

	dsn := os.Getenv("MEMORY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping store integration test: MEMORY_TEST_DB_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db, testEmbeddingDims))

	t.Cleanup(func() {
		db.Exec(`DELETE FROM pages WHERE owner_id LIKE 'test-%'`)
	})

	return NewPageStore(db)
}

func testOwner(t *testing.T) string {
	return fmt.Sprintf("test-%s", uuid.New().String()[:8])
}

// brokenTestDB returns a gorm handle over an already-closed connection
// pool, so every statement fails without needing a server.
func brokenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	sqlDB, err := sql.Open("postgres", "postgres://localhost/none?sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func newTestPage(owner string) *models.Page {
	return &models.Page{
		ID:         uuid.New(),
		OwnerID:    owner,
		Content:    "User asked about deployment schedules.",
		TokenCount: 9,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestAbstract(pageID uuid.UUID, owner string) *models.Abstract {
	return &models.Abstract{
		PageID:  pageID,
		OwnerID: owner,
		Summary: "Deployment schedule discussion.",
		Headers: []string{"deployment", "schedule"},
	}
}

func TestStorePageAndGetPage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	page := newTestPage(owner)
	require.NoError(t, s.StorePage(ctx, page))

	got, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, page.Content, got.Content)
	assert.Equal(t, owner, got.OwnerID)
}

func TestGetPageNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetPage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestStorePageUpsertPreservesOwnerAndCreatedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	page := newTestPage(owner)
	page.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.StorePage(ctx, page))

	updated := &models.Page{
		ID:         page.ID,
		OwnerID:    "test-someone-else",
		Content:    "updated content",
		TokenCount: 3,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.StorePage(ctx, updated))

	got, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
	assert.Equal(t, owner, got.OwnerID)
	assert.WithinDuration(t, page.CreatedAt, got.CreatedAt, time.Second)
}

func TestStorePageWithAbstractAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	page := newTestPage(owner)
	abstract := newTestAbstract(uuid.New(), owner) // wrong id on purpose

	require.NoError(t, s.StorePageWithAbstract(ctx, page, abstract))
	assert.Equal(t, page.ID, abstract.PageID)

	gotAbstract, err := s.GetAbstract(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deployment schedule discussion.", gotAbstract.Summary)
	assert.Equal(t, []string{"deployment", "schedule"}, []string(gotAbstract.Headers))
}

func TestDeletePageCascadesToAbstract(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	page := newTestPage(owner)
	require.NoError(t, s.StorePageWithAbstract(ctx, page, newTestAbstract(page.ID, owner)))

	require.NoError(t, s.DeletePage(ctx, page.ID))

	_, err := s.GetPage(ctx, page.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)
	_, err = s.GetAbstract(ctx, page.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestDeletePageNotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.DeletePage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestDeleteByOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	other := testOwner(t)

	require.NoError(t, s.StorePage(ctx, newTestPage(owner)))
	require.NoError(t, s.StorePage(ctx, newTestPage(owner)))
	require.NoError(t, s.StorePage(ctx, newTestPage(other)))

	deleted, err := s.DeleteByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stats, err := s.StatsByOwner(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PageCount)
}

func TestDeleteBefore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	oldPage := newTestPage(owner)
	oldPage.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.StorePage(ctx, oldPage))

	newPage := newTestPage(owner)
	require.NoError(t, s.StorePage(ctx, newPage))

	deleted, err := s.DeleteBefore(ctx, owner, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetPage(ctx, oldPage.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)
	_, err = s.GetPage(ctx, newPage.ID)
	assert.NoError(t, err)
}

func TestDeleteBeforeEmptyOwnerSpansAllOwners(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ownerA := testOwner(t)
	ownerB := testOwner(t)

	oldA := newTestPage(ownerA)
	oldA.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.StorePage(ctx, oldA))

	oldB := newTestPage(ownerB)
	oldB.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.StorePage(ctx, oldB))

	recent := newTestPage(ownerA)
	require.NoError(t, s.StorePage(ctx, recent))

	deleted, err := s.DeleteBefore(ctx, "", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(2))

	_, err = s.GetPage(ctx, oldA.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)
	_, err = s.GetPage(ctx, oldB.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)
	_, err = s.GetPage(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestCleanupExpired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	expired := newTestPage(owner)
	expired.CreatedAt = time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, s.StorePage(ctx, expired))
	require.NoError(t, s.StorePage(ctx, newTestPage(owner)))

	deleted, err := s.CleanupExpired(ctx, 24*time.Hour, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Zero max age disables the sweep entirely.
	deleted, err = s.CleanupExpired(ctx, 0, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestGetPagesSkipsMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	page := newTestPage(owner)
	require.NoError(t, s.StorePage(ctx, page))

	pages, err := s.GetPages(ctx, []uuid.UUID{page.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, page.ID, pages[0].ID)
}

func TestStatsByOwnerEmpty(t *testing.T) {
	s := setupTestStore(t)

	stats, err := s.StatsByOwner(context.Background(), testOwner(t))
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PageCount)
	assert.Equal(t, int64(0), stats.TotalTokens)
	assert.Nil(t, stats.OldestPage)
	assert.Nil(t, stats.NewestPage)
}

func TestStatsByOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := testOwner(t)

	first := newTestPage(owner)
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	first.TokenCount = 10
	require.NoError(t, s.StorePage(ctx, first))

	second := newTestPage(owner)
	second.TokenCount = 5
	require.NoError(t, s.StorePage(ctx, second))

	stats, err := s.StatsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PageCount)
	assert.Equal(t, int64(15), stats.TotalTokens)
	require.NotNil(t, stats.OldestPage)
	require.NotNil(t, stats.NewestPage)
	assert.True(t, stats.OldestPage.Before(*stats.NewestPage))
}
