package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrInvalidName      = errors.New("name is required")
	ErrInvalidPrice     = errors.New("price must not be negative")
	ErrInvalidColor     = errors.New("bgColor must be a hex color like #ffaa00")
	ErrDuplicateName    = errors.New("a category with this name already exists")
	ErrCategoryInUse    = errors.New("category still has items")
)

var colorRegex = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// FileStorage keeps catalog images and returns their public URLs.
type FileStorage interface {
	Upload(ctx context.Context, filename, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// Image is an uploaded picture for a category or item.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type Category struct {
	ID          string    `json:"categoryId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BgColor     string    `json:"bgColor"`
	ImgURL      string    `json:"imgUrl"`
	Items       int       `json:"items"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Item struct {
	ID           string          `json:"itemId"`
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	ImgURL       string          `json:"imgUrl"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type NewCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BgColor     string `json:"bgColor"`
}

type NewItem struct {
	CategoryID  string          `json:"categoryId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Service manages categories and the items sold under them
type Service struct {
	store store.CatalogStoreInterface
	files FileStorage
	now   func() time.Time
	log   *slog.Logger
}

func NewService(cs store.CatalogStoreInterface, files FileStorage) *Service {
	return &Service{store: cs, files: files, now: time.Now, log: logging.New("catalog")}
}

// upload stores img when given; a nil image leaves the URL empty.
func (s *Service) upload(ctx context.Context, img *Image) (string, error) {
	if img == nil || img.Body == nil {
		return "", nil
	}
	url, err := s.files.Upload(ctx, img.Filename, img.ContentType, img.Body)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return url, nil
}

// discard removes an image whose owning row is gone or was never written.
// Failures only leave an unreferenced object behind, so they are logged.
func (s *Service) discard(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if err := s.files.Delete(ctx, url); err != nil {
		s.log.Warn("orphaned catalog image", "url", url, "err", err)
	}
}

func (s *Service) AddCategory(ctx context.Context, in NewCategory, img *Image) (*Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrInvalidName
	}
	if in.BgColor != "" && !colorRegex.MatchString(in.BgColor) {
		return nil, ErrInvalidColor
	}

	url, err := s.upload(ctx, img)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &store.CategoryRecord{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		BgColor:     in.BgColor,
		ImgURL:      url,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertCategory(ctx, rec); err != nil {
		s.discard(ctx, url)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}

	s.log.Info("category added", "category_id", rec.ID, "name", rec.Name)
	return categoryFromRecord(rec), nil
}

func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	recs, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Category, len(recs))
	for i := range recs {
		out[i] = *categoryFromRecord(&recs[i])
	}
	return out, nil
}

// DeleteCategory removes the row first and the image after it, so a
// storage failure can only orphan an object, never a category without its
// picture.
func (s *Service) DeleteCategory(ctx context.Context, categoryID string) error {
	rec, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCategoryNotFound
		}
		return err
	}
	if rec.ItemCount > 0 {
		return ErrCategoryInUse
	}

	if err := s.store.DeleteCategory(ctx, categoryID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrCategoryNotFound
		case errors.Is(err, store.ErrInUse):
			return ErrCategoryInUse
		}
		return err
	}
	s.discard(ctx, rec.ImgURL)
	s.log.Info("category deleted", "category_id", categoryID)
	return nil
}

func (s *Service) AddItem(ctx context.Context, in NewItem, img *Image) (*Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrInvalidName
	}
	if in.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	category, err := s.store.GetCategory(ctx, in.CategoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	url, err := s.upload(ctx, img)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &store.ItemRecord{
		ID:           uuid.New().String(),
		CategoryID:   category.ID,
		CategoryName: category.Name,
		Name:         in.Name,
		Description:  strings.TrimSpace(in.Description),
		Price:        in.Price,
		ImgURL:       url,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertItem(ctx, rec); err != nil {
		s.discard(ctx, url)
		if errors.Is(err, store.ErrInUse) {
			// category removed between the lookup and the insert
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("insert item: %w", err)
	}

	s.log.Info("item added", "item_id", rec.ID, "category_id", rec.CategoryID)
	return itemFromRecord(rec), nil
}

func (s *Service) Items(ctx context.Context) ([]Item, error) {
	recs, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(recs))
	for i := range recs {
		out[i] = *itemFromRecord(&recs[i])
	}
	return out, nil
}

func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	rec, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	s.discard(ctx, rec.ImgURL)
	s.log.Info("item deleted", "item_id", itemID)
	return nil
}

func categoryFromRecord(r *store.CategoryRecord) *Category {
	return &Category{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		BgColor:     r.BgColor,
		ImgURL:      r.ImgURL,
		Items:       r.ItemCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func itemFromRecord(r *store.ItemRecord) *Item {
	return &Item{
		ID:           r.ID,
		CategoryID:   r.CategoryID,
		CategoryName: r.CategoryName,
		Name:         r.Name,
		Description:  r.Description,
		Price:        r.Price,
		ImgURL:       r.ImgURL,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
