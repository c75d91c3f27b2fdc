package composites

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/gearbox-erp/gearbox-erp/internal/inventory/stock"
	ledgershared "github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
	"github.com/gearbox-erp/gearbox-erp/internal/platform/httpx"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/availability", h.Availability)
	r.Get("/{id}/price", h.Price)
	r.Get("/{id}/builds", h.BuildHistory)
	r.Post("/{id}/build", h.Build)
	r.Post("/{id}/unbuild", h.Unbuild)
}

type componentForm struct {
	ItemID     int64  `json:"item_id" validate:"required"`
	QtyPerUnit string `json:"qty_per_unit" validate:"required"`
	WastePct   string `json:"waste_pct"`
}

type definitionForm struct {
	ItemID          int64           `json:"item_id" validate:"required"`
	Name            string          `json:"name" validate:"required"`
	Kind            string          `json:"kind" validate:"required,oneof=KIT ASSEMBLY BUNDLE"`
	PricingMode     string          `json:"pricing_mode" validate:"required,oneof=FIXED MARKUP"`
	FixedPrice      int64           `json:"fixed_price"`
	MarkupPct       string          `json:"markup_pct"`
	TrackAccounting bool            `json:"track_accounting"`
	AutoBuild       bool            `json:"auto_build"`
	Components      []componentForm `json:"components" validate:"required,min=1,dive"`
}

type buildForm struct {
	Qty   string `json:"qty" validate:"required"`
	Notes string `json:"notes"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	list, err := h.service.List(r.Context(), orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"composites": list})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	comp, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, comp)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeDefinition(w, r)
	if !ok {
		return
	}
	comp, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, comp)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeDefinition(w, r)
	if !ok {
		return
	}
	comp, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, comp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), orgID, id, internalShared.IdentityFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	qty := decimal.NewFromInt(1)
	if raw := r.URL.Query().Get("qty"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "qty must be a positive number")
			return
		}
		qty = parsed
	}
	avail, err := h.service.CheckAvailability(r.Context(), orgID, id, qty)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, avail)
}

func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	price, err := h.service.Price(r.Context(), orgID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"price": price})
}

func (h *Handler) BuildHistory(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	records, err := h.service.BuildHistory(r.Context(), orgID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"builds": records})
}

func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	h.runBuild(w, r, h.service.Build)
}

func (h *Handler) Unbuild(w http.ResponseWriter, r *http.Request) {
	h.runBuild(w, r, h.service.Unbuild)
}

func (h *Handler) runBuild(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, input BuildInput) (BuildRecord, error)) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var form buildForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(form.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "qty must be numeric")
		return
	}
	record, err := fn(r.Context(), BuildInput{
		OrgID:       orgID,
		CompositeID: id,
		Qty:         qty,
		Notes:       form.Notes,
		Actor:       internalShared.IdentityFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) decodeDefinition(w http.ResponseWriter, r *http.Request) (DefinitionInput, bool) {
	orgID := internalShared.OrgFromContext(r.Context())
	var form definitionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return DefinitionInput{}, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return DefinitionInput{}, false
	}
	input := DefinitionInput{
		OrgID:           orgID,
		ItemID:          form.ItemID,
		Name:            form.Name,
		Kind:            Kind(form.Kind),
		PricingMode:     PricingMode(form.PricingMode),
		FixedPrice:      form.FixedPrice,
		TrackAccounting: form.TrackAccounting,
		AutoBuild:       form.AutoBuild,
		Actor:           internalShared.IdentityFromContext(r.Context()),
	}
	if form.MarkupPct != "" {
		markup, err := decimal.NewFromString(form.MarkupPct)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Markup", "markup_pct must be numeric")
			return DefinitionInput{}, false
		}
		input.MarkupPct = markup
	}
	for _, cf := range form.Components {
		qty, err := decimal.NewFromString(cf.QtyPerUnit)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Component", "qty_per_unit must be numeric")
			return DefinitionInput{}, false
		}
		component := ComponentInput{ItemID: cf.ItemID, QtyPerUnit: qty}
		if cf.WastePct != "" {
			waste, err := decimal.NewFromString(cf.WastePct)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Component", "waste_pct must be numeric")
				return DefinitionInput{}, false
			}
			component.WastePct = waste
		}
		input.Components = append(input.Components, component)
	}
	return input, true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var locked *ledgershared.PeriodLockedError
	switch {
	case errors.Is(err, ErrCompositeNotFound), errors.Is(err, stock.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoComponents), errors.Is(err, ErrSelfReference):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientComponentStock), errors.Is(err, ErrInsufficientCompositeStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.As(err, &locked):
		meta := map[string]any{"period": locked.Year*100 + int(locked.Month), "status": locked.Status}
		if locked.ExpiresAt != nil {
			meta["expired_at"] = locked.ExpiresAt
		}
		httpx.ProblemWithMeta(w, http.StatusConflict, "Period Locked", err.Error(), meta)
	case errors.Is(err, stock.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
	case errors.Is(err, ledgershared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, internalShared.ErrResourceBusy):
		httpx.Problem(w, http.StatusConflict, "Resource Busy", err.Error())
	case errors.Is(err, ledgershared.ErrAccountNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Account Mapping Missing", err.Error())
	default:
		h.logger.Error("composite operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
