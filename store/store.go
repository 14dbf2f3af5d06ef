package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tas-memory-service/models"
)

// ErrPageNotFound is returned when a page id does not exist.
var ErrPageNotFound = errors.New("page not found")

// PageStore is the persistence surface for pages and abstracts.
type PageStore interface {
	StorePage(ctx context.Context, page *models.Page) error
	StoreAbstract(ctx context.Context, abstract *models.Abstract) error
	StorePageWithAbstract(ctx context.Context, page *models.Page, abstract *models.Abstract) error
	GetPage(ctx context.Context, id uuid.UUID) (*models.Page, error)
	GetPages(ctx context.Context, ids []uuid.UUID) ([]models.Page, error)
	GetAbstract(ctx context.Context, pageID uuid.UUID) (*models.Abstract, error)
	DeletePage(ctx context.Context, id uuid.UUID) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	DeleteBefore(ctx context.Context, ownerID string, cutoff time.Time) (int64, error)
	CleanupExpired(ctx context.Context, maxAge time.Duration, ownerID string) (int64, error)
	StatsByOwner(ctx context.Context, ownerID string) (*models.OwnerStats, error)
	DB() *gorm.DB
}

// PageStoreImpl implements PageStore on top of PostgreSQL via GORM.
type PageStoreImpl struct {
	db *gorm.DB
}

// NewPageStore creates a new page store.
func NewPageStore(db *gorm.DB) *PageStoreImpl {
	return &PageStoreImpl{db: db}
}

// DB exposes the underlying connection for retrievers that issue raw queries.
func (s *PageStoreImpl) DB() *gorm.DB {
	return s.db
}

// StorePage inserts a page, or updates its content on id conflict. The
// owner and creation timestamp of an existing row are preserved.
func (s *PageStoreImpl) StorePage(ctx context.Context, page *models.Page) error {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "token_count", "embedding", "metadata"}),
	}).Create(page).Error
	if err != nil {
		return fmt.Errorf("failed to store page: %w", err)
	}
	return nil
}

// StoreAbstract inserts an abstract, or replaces it on page id conflict.
func (s *PageStoreImpl) StoreAbstract(ctx context.Context, abstract *models.Abstract) error {
	if abstract.CreatedAt.IsZero() {
		abstract.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "headers", "summary_embedding"}),
	}).Create(abstract).Error
	if err != nil {
		return fmt.Errorf("failed to store abstract: %w", err)
	}
	return nil
}

// StorePageWithAbstract writes a page and its abstract in one transaction,
// so readers never observe a page without its abstract.
func (s *PageStoreImpl) StorePageWithAbstract(ctx context.Context, page *models.Page, abstract *models.Abstract) error {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	abstract.PageID = page.ID
	if abstract.CreatedAt.IsZero() {
		abstract.CreatedAt = page.CreatedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "token_count", "embedding", "metadata"}),
		}).Create(page).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "page_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary", "headers", "summary_embedding"}),
		}).Create(abstract).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store page with abstract: %w", err)
	}
	return nil
}

// GetPage fetches one page by id.
func (s *PageStoreImpl) GetPage(ctx context.Context, id uuid.UUID) (*models.Page, error) {
	var page models.Page
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

// GetPages bulk-fetches pages by id. Missing ids are silently absent from
// the result; callers that care compare lengths.
func (s *PageStoreImpl) GetPages(ctx context.Context, ids []uuid.UUID) ([]models.Page, error) {
	if len(ids) == 0 {
		return []models.Page{}, nil
	}
	var pages []models.Page
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pages: %w", err)
	}
	return pages, nil
}

// GetAbstract fetches the abstract for a page.
func (s *PageStoreImpl) GetAbstract(ctx context.Context, pageID uuid.UUID) (*models.Abstract, error) {
	var abstract models.Abstract
	err := s.db.WithContext(ctx).Where("page_id = ?", pageID).First(&abstract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("failed to get abstract: %w", err)
	}
	return &abstract, nil
}

// DeletePage removes a page; its abstract goes with it via cascade.
func (s *PageStoreImpl) DeletePage(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Page{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete page: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPageNotFound
	}
	return nil
}

// DeleteByOwner removes all of an owner's pages and abstracts and returns
// how many pages were deleted.
func (s *PageStoreImpl) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&models.Page{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete pages for owner: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteBefore removes pages created strictly before the cutoff and
// returns how many were deleted. When ownerID is empty the delete spans
// every owner, matching CleanupExpired.
func (s *PageStoreImpl) DeleteBefore(ctx context.Context, ownerID string, cutoff time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Where("created_at < ?", cutoff)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	result := query.Delete(&models.Page{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete pages before cutoff: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupExpired removes pages older than maxAge. When ownerID is empty
// the sweep covers every owner.
func (s *PageStoreImpl) CleanupExpired(ctx context.Context, maxAge time.Duration, ownerID string) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	query := s.db.WithContext(ctx).Where("created_at < ?", cutoff)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	result := query.Delete(&models.Page{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired pages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// StatsByOwner aggregates page counts and timestamps for one owner.
// An owner with no pages gets zero counts and nil timestamps.
func (s *PageStoreImpl) StatsByOwner(ctx context.Context, ownerID string) (*models.OwnerStats, error) {
	var row struct {
		PageCount   int64
		TotalTokens int64
		OldestPage  *time.Time
		NewestPage  *time.Time
	}
	err := s.db.WithContext(ctx).
		Model(&models.Page{}).
		Select("COUNT(*) AS page_count, COALESCE(SUM(token_count), 0) AS total_tokens, MIN(created_at) AS oldest_page, MAX(created_at) AS newest_page").
		Where("owner_id = ?", ownerID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for owner: %w", err)
	}

	return &models.OwnerStats{
		OwnerID:     ownerID,
		PageCount:   row.PageCount,
		TotalTokens: row.TotalTokens,
		OldestPage:  row.OldestPage,
		NewestPage:  row.NewestPage,
	}, nil
}
