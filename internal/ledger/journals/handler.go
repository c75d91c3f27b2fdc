package journals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

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

type postLineForm struct {
	AccountID int64  `json:"account_id" validate:"required"`
	Debit     int64  `json:"debit" validate:"gte=0"`
	Credit    int64  `json:"credit" validate:"gte=0"`
	Memo      string `json:"memo"`
}

type postForm struct {
	Date         string         `json:"date" validate:"required"`
	SourceModule string         `json:"source_module" validate:"required"`
	SourceID     string         `json:"source_id" validate:"required,uuid"`
	Memo         string         `json:"memo"`
	Lines        []postLineForm `json:"lines" validate:"required,min=2,dive"`
}

type reverseForm struct {
	Memo string `json:"memo"`
	Date string `json:"date"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	entries, err := h.service.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	var form postForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", form.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	sourceID, err := uuid.Parse(form.SourceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "source_id must be a UUID")
		return
	}
	lines := make([]PostingLineInput, 0, len(form.Lines))
	for _, line := range form.Lines {
		lines = append(lines, PostingLineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo})
	}
	entry, err := h.service.Post(r.Context(), PostingInput{
		OrgID:        orgID,
		Date:         date,
		SourceModule: form.SourceModule,
		SourceID:     sourceID,
		Memo:         form.Memo,
		PostedBy:     internalShared.IdentityFromContext(r.Context()).UserID,
		Lines:        lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var form reverseForm
	_ = httpx.DecodeJSON(r, &form)
	input := ReverseInput{
		OrgID:   orgID,
		EntryID: entryID,
		ActorID: internalShared.IdentityFromContext(r.Context()).UserID,
		Memo:    form.Memo,
	}
	if form.Date != "" {
		date, err := time.Parse("2006-01-02", form.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		input.TargetDate = &date
	}
	entry, err := h.service.Reverse(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var locked *shared.PeriodLockedError
	switch {
	case errors.As(err, &locked):
		meta := map[string]any{"status": locked.Status}
		if locked.ExpiresAt != nil {
			meta["expired_at"] = locked.ExpiresAt
		}
		httpx.ProblemWithMeta(w, http.StatusConflict, "Period Locked", err.Error(), meta)
	case errors.Is(err, shared.ErrUnbalanced),
		errors.Is(err, shared.ErrTooFewLines),
		errors.Is(err, shared.ErrMixedSides):
		httpx.Problem(w, http.StatusBadRequest, "Unbalanced Entry", err.Error())
	case errors.Is(err, shared.ErrAccountNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Account Not Found", err.Error())
	case errors.Is(err, shared.ErrSourceAlreadyLinked):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrJournalNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("journal operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
