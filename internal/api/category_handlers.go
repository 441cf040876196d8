package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/pos-billing/internal/domain/catalog"
)

// maxUploadBytes bounds a multipart catalog upload, image included.
const maxUploadBytes = 10 << 20

type CatalogService interface {
	AddCategory(ctx context.Context, in catalog.NewCategory, img *catalog.Image) (*catalog.Category, error)
	Categories(ctx context.Context) ([]catalog.Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
	AddItem(ctx context.Context, in catalog.NewItem, img *catalog.Image) (*catalog.Item, error)
	Items(ctx context.Context) ([]catalog.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// CategoryHandlers handles categories and the items listed under them
type CategoryHandlers struct {
	catalog CatalogService
}

func NewCategoryHandlers(svc CatalogService) *CategoryHandlers {
	return &CategoryHandlers{catalog: svc}
}

// readMultipart decodes the JSON part named field into v and returns the
// optional "file" part as an image. The returned func releases the upload
// and must always be called.
func readMultipart(w http.ResponseWriter, r *http.Request, field string, v any) (*catalog.Image, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, func() {}, errBadRequest
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	raw := r.FormValue(field)
	if raw == "" {
		return nil, cleanup, errBadRequest
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return nil, cleanup, errBadRequest
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, cleanup, nil
	}
	if err != nil {
		return nil, cleanup, errBadRequest
	}
	img := &catalog.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
	return img, func() {
		_ = file.Close()
		cleanup()
	}, nil
}

// Category Handlers

func (h *CategoryHandlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if categories == nil {
		categories = []catalog.Category{}
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *CategoryHandlers) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.NewCategory
	img, done, err := readMultipart(w, r, "category", &req)
	defer done()
	if err != nil {
		respondError(w, r, err)
		return
	}

	created, err := h.catalog.AddCategory(r.Context(), req, img)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *CategoryHandlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCategory(r.Context(), r.PathValue("categoryId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Item Handlers

func (h *CategoryHandlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.Items(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *CategoryHandlers) AddItem(w http.ResponseWriter, r *http.Request) {
	var req catalog.NewItem
	img, done, err := readMultipart(w, r, "item", &req)
	defer done()
	if err != nil {
		respondError(w, r, err)
		return
	}

	created, err := h.catalog.AddItem(r.Context(), req, img)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *CategoryHandlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteItem(r.Context(), r.PathValue("itemId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
