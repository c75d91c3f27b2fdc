package adjustments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

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
	idem      *internalShared.IdempotencyStore
}

func NewHandler(logger *slog.Logger, service *Service, idem *internalShared.IdempotencyStore) *Handler {
	return &Handler{service: service, logger: logger, validator: validator.New(), idem: idem}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/abc", h.ABC)
	r.Get("/reasons", h.Reasons)
	r.Post("/reasons", h.AddReason)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/convert", h.Convert)
	r.Post("/{id}/void", h.Void)
}

type lineForm struct {
	ItemID   int64  `json:"item_id" validate:"required"`
	NewQty   string `json:"new_qty"`
	NewValue int64  `json:"new_value"`
}

type adjustmentForm struct {
	Type       string     `json:"type" validate:"required,oneof=QUANTITY VALUE"`
	Date       string     `json:"date"`
	Reason     string     `json:"reason" validate:"required"`
	AccountKey string     `json:"account_key"`
	TicketRef  string     `json:"ticket_ref"`
	Lines      []lineForm `json:"lines" validate:"required,min=1,dive"`
}

type updateForm struct {
	Date       string     `json:"date"`
	Reason     string     `json:"reason" validate:"required"`
	AccountKey string     `json:"account_key"`
	TicketRef  string     `json:"ticket_ref"`
	Lines      []lineForm `json:"lines" validate:"required,min=1,dive"`
}

type voidForm struct {
	Detail string `json:"detail"`
}

type reasonForm struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	list, err := h.service.List(r.Context(), orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := internalShared.NewPagination(page, perPage, len(list))
	start := (pagination.Page - 1) * pagination.PerPage
	if start > len(list) {
		start = len(list)
	}
	end := start + pagination.PerPage
	if end > len(list) {
		end = len(list)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"adjustments": list[start:end],
		"pagination":  pagination,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	adj, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	var form adjustmentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, lines, ok := h.parseForm(w, form.Date, form.Lines)
	if !ok {
		return
	}
	// Draft creation has no natural idempotency key, so retried requests
	// would pile up duplicate drafts without the client-supplied header.
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), orgID, key, SourceModule); err != nil {
			if errors.Is(err, internalShared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "request already processed")
				return
			}
			h.respondError(w, err)
			return
		}
	}
	adj, err := h.service.CreateDraft(r.Context(), CreateInput{
		OrgID:      orgID,
		Type:       Type(form.Type),
		Date:       date,
		Reason:     form.Reason,
		AccountKey: form.AccountKey,
		TicketRef:  form.TicketRef,
		Actor:      internalShared.IdentityFromContext(r.Context()),
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var form updateForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, lines, ok := h.parseForm(w, form.Date, form.Lines)
	if !ok {
		return
	}
	adj, err := h.service.UpdateDraft(r.Context(), UpdateInput{
		OrgID:      orgID,
		ID:         id,
		Date:       date,
		Reason:     form.Reason,
		AccountKey: form.AccountKey,
		TicketRef:  form.TicketRef,
		Actor:      internalShared.IdentityFromContext(r.Context()),
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), orgID, id, internalShared.IdentityFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	adj, err := h.service.Convert(r.Context(), orgID, id, internalShared.IdentityFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var form voidForm
	_ = httpx.DecodeJSON(r, &form)
	adj, err := h.service.Void(r.Context(), orgID, id, internalShared.IdentityFromContext(r.Context()), form.Detail)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) ABC(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	report, err := h.service.ClassifyABC(r.Context(), orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) Reasons(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	reasons, err := h.service.Reasons(r.Context(), orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reasons": reasons})
}

func (h *Handler) AddReason(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	var form reasonForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AddReason(r.Context(), orgID, form.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) parseForm(w http.ResponseWriter, rawDate string, lineForms []lineForm) (time.Time, []LineInput, bool) {
	var date time.Time
	if rawDate != "" {
		parsed, err := time.Parse("2006-01-02", rawDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
			return time.Time{}, nil, false
		}
		date = parsed
	}
	lines := make([]LineInput, 0, len(lineForms))
	for _, lf := range lineForms {
		line := LineInput{ItemID: lf.ItemID, NewValue: lf.NewValue}
		if lf.NewQty != "" {
			qty, err := decimal.NewFromString(lf.NewQty)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "new_qty must be numeric")
				return time.Time{}, nil, false
			}
			line.NewQty = qty
		}
		lines = append(lines, line)
	}
	return date, lines, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var locked *ledgershared.PeriodLockedError
	var transition *ledgershared.TransitionError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, stock.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnknownReason), errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &locked):
		meta := map[string]any{"period": locked.Year*100 + int(locked.Month), "status": locked.Status}
		if locked.ExpiresAt != nil {
			meta["expired_at"] = locked.ExpiresAt
		}
		httpx.ProblemWithMeta(w, http.StatusConflict, "Period Locked", err.Error(), meta)
	case errors.As(err, &transition):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Invalid Transition", err.Error(), map[string]any{
			"current":   transition.Current,
			"attempted": transition.Attempted,
		})
	case errors.Is(err, stock.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
	case errors.Is(err, ledgershared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, internalShared.ErrResourceBusy):
		httpx.Problem(w, http.StatusConflict, "Resource Busy", err.Error())
	case errors.Is(err, ledgershared.ErrAccountNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Account Mapping Missing", err.Error())
	default:
		h.logger.Error("inventory adjustment operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
