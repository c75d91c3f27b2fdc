package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gearbox-erp/gearbox-erp/internal/platform/httpx"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

type Handler struct {
	registry *Registry
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	return &Handler{registry: registry, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "organisation scope required")
		return
	}
	accounts, err := h.registry.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}
