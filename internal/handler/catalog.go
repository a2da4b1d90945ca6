package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/service"
)

// CatalogHandler serves public catalog browsing and the staff title
// management endpoints. Reads go through the short-TTL redis cache; mutations
// rely on the TTL rather than explicit invalidation.
type CatalogHandler struct {
	Titles *repository.TitleRepo
	Cache  *service.CatalogCache
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(titles *repository.TitleRepo, cache *service.CatalogCache) *CatalogHandler {
	if titles == nil {
		panic("nil repository passed to NewCatalogHandler")
	}
	return &CatalogHandler{Titles: titles, Cache: cache}
}

// titleView is the public shape of a catalog entry. The borrower pointer is
// staff-internal and never serialized here.
type titleView struct {
	ID             uint64 `json:"id"`
	DisplayName    string `json:"display_name"`
	Author         string `json:"author,omitempty"`
	Genre          string `json:"genre,omitempty"`
	Year           int    `json:"year,omitempty"`
	TotalStock     int    `json:"total_stock"`
	AvailableStock int    `json:"available_stock"`
	Status         string `json:"status"`
}

func toTitleView(t *model.Title) titleView {
	return titleView{
		ID: t.ID, DisplayName: t.DisplayName, Author: t.Author, Genre: t.Genre,
		Year: t.Year, TotalStock: t.TotalStock, AvailableStock: t.AvailableStock,
		Status: t.Status,
	}
}

// ListTitles handles GET /v1/titles. Supports ?genre=, ?limit=, ?offset=.
func (h *CatalogHandler) ListTitles(c echo.Context) error {
	ctx := c.Request().Context()
	genre := c.QueryParam("genre")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	cacheKey := "titles:" + genre + ":" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset)
	if body, ok := h.Cache.Get(ctx, cacheKey); ok {
		return c.JSONBlob(http.StatusOK, body)
	}

	titles, err := h.Titles.List(ctx, genre, limit, offset)
	if err != nil {
		return engineError(c, err)
	}
	views := make([]titleView, 0, len(titles))
	for i := range titles {
		views = append(views, toTitleView(&titles[i]))
	}
	body, err := json.Marshal(echo.Map{"titles": views})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.Cache.Set(ctx, cacheKey, body)
	return c.JSONBlob(http.StatusOK, body)
}

// GetTitle handles GET /v1/titles/:id.
func (h *CatalogHandler) GetTitle(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	title, err := h.Titles.TitleByID(c.Request().Context(), id)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toTitleView(title))
}

type createTitleReq struct {
	DisplayName string `json:"display_name"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	TotalStock  int    `json:"total_stock"`
}

// CreateTitle handles POST /v1/staff/titles. New titles start with a full
// shelf: available stock equals total stock.
func (h *CatalogHandler) CreateTitle(c echo.Context) error {
	var req createTitleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.DisplayName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "display_name is required"})
	}
	if req.TotalStock < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total_stock must not be negative"})
	}
	t := &model.Title{
		DisplayName: req.DisplayName,
		Author:      req.Author,
		Genre:       req.Genre,
		Year:        req.Year,
		TotalStock:  req.TotalStock,
	}
	if err := h.Titles.Create(c.Request().Context(), t); err != nil {
		return engineError(c, err)
	}
	// Listing caches age out through their TTL; no explicit invalidation.
	return c.JSON(http.StatusCreated, toTitleView(t))
}
