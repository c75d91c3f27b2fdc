package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
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
	r.Get("/{year}/{month}", h.Status)
	r.Post("/{year}/{month}/lock", h.Lock)
	r.Post("/{year}/{month}/unlock", h.Unlock)
	r.Post("/{year}/{month}/extend", h.Extend)
	r.Post("/{year}/{month}/relock", h.Relock)
	r.Post("/fiscal-year/lock", h.LockFiscalYear)
}

type unlockForm struct {
	Reason      string `json:"reason" validate:"required,min=10"`
	WindowHours int    `json:"window_hours" validate:"required,gt=0"`
}

type extendForm struct {
	AdditionalHours int `json:"additional_hours" validate:"required,gt=0"`
}

type lockForm struct {
	Reason string `json:"reason"`
}

type fiscalYearForm struct {
	StartYear  int    `json:"start_year" validate:"required"`
	StartMonth int    `json:"start_month" validate:"required,min=1,max=12"`
	Reason     string `json:"reason"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	locks, err := h.service.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list period locks", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": locks})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	year, month, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	p, err := h.service.Status(r.Context(), orgID, year, month)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	year, month, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	var form lockForm
	_ = httpx.DecodeJSON(r, &form)
	p, err := h.service.Lock(r.Context(), LockInput{
		OrgID:  orgID,
		Year:   year,
		Month:  month,
		Actor:  internalShared.IdentityFromContext(r.Context()),
		Reason: form.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	year, month, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	var form unlockForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.Unlock(r.Context(), UnlockInput{
		OrgID:       orgID,
		Year:        year,
		Month:       month,
		Actor:       internalShared.IdentityFromContext(r.Context()),
		Reason:      form.Reason,
		WindowHours: form.WindowHours,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	year, month, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	var form extendForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.Extend(r.Context(), ExtendInput{
		OrgID:           orgID,
		Year:            year,
		Month:           month,
		Actor:           internalShared.IdentityFromContext(r.Context()),
		AdditionalHours: form.AdditionalHours,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) Relock(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	year, month, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	var form lockForm
	_ = httpx.DecodeJSON(r, &form)
	p, err := h.service.Relock(r.Context(), LockInput{
		OrgID:  orgID,
		Year:   year,
		Month:  month,
		Actor:  internalShared.IdentityFromContext(r.Context()),
		Reason: form.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) LockFiscalYear(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	var form fiscalYearForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	locked, err := h.service.LockFiscalYear(r.Context(), FiscalYearInput{
		StartYear:  form.StartYear,
		StartMonth: time.Month(form.StartMonth),
		OrgID:      orgID,
		Actor:      internalShared.IdentityFromContext(r.Context()),
		Reason:     form.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locked": locked})
}

func (h *Handler) parsePeriod(w http.ResponseWriter, r *http.Request) (int, time.Month, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", "year must be numeric")
		return 0, 0, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", "month must be 1-12")
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var locked *shared.PeriodLockedError
	var transition *shared.TransitionError
	switch {
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnlockReasonTooShort):
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
	case errors.Is(err, shared.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("period lock operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
