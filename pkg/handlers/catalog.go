package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/catalog"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// CatalogResponse lists the scannable tables.
type CatalogResponse struct {
	ScannedAt time.Time             `json:"scanned_at"`
	Tables    []models.CatalogTable `json:"tables"`
}

// CatalogHandler exposes the schema catalog so clients can build the scope
// selection UI.
type CatalogHandler struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(cat *catalog.Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: cat, logger: logger}
}

// RegisterRoutes registers the catalog routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /catalog", h.List)
}

// List handles GET /catalog.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := CatalogResponse{
		ScannedAt: h.catalog.ScannedAt(),
		Tables:    h.catalog.Tables(),
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write catalog response", zap.Error(err))
	}
}
