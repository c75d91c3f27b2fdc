package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/gearbox-erp/gearbox-erp/internal/platform/httpx"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

// Handler serves the read-only report endpoints. Identical concurrent
// requests collapse through singleflight since the aggregation query is
// the expensive part.
type Handler struct {
	repo   Repository
	logger *slog.Logger
	group  singleflight.Group
}

func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.TrialBalance)
	r.Get("/profit-and-loss", h.ProfitAndLoss)
	r.Get("/balance-sheet", h.BalanceSheet)
}

var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	asOf, ok := h.parseDate(w, r, "as_of", time.Now().UTC())
	if !ok {
		return
	}
	key := fmt.Sprintf("tb:%d:%s", orgID, asOf.Format("2006-01-02"))
	result, err, _ := h.group.Do(key, func() (any, error) {
		balances, err := h.repo.AccountBalances(r.Context(), orgID, epoch, asOf)
		if err != nil {
			return nil, err
		}
		return BuildTrialBalance(balances), nil
	})
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) ProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	from, ok := h.parseDate(w, r, "from", epoch)
	if !ok {
		return
	}
	to, ok := h.parseDate(w, r, "to", time.Now().UTC())
	if !ok {
		return
	}
	key := fmt.Sprintf("pl:%d:%s:%s", orgID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	result, err, _ := h.group.Do(key, func() (any, error) {
		balances, err := h.repo.AccountBalances(r.Context(), orgID, from, to)
		if err != nil {
			return nil, err
		}
		return BuildProfitAndLoss(balances), nil
	})
	if err != nil {
		h.logger.Error("profit and loss", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) BalanceSheet(w http.ResponseWriter, r *http.Request) {
	orgID := internalShared.OrgFromContext(r.Context())
	asOf, ok := h.parseDate(w, r, "as_of", time.Now().UTC())
	if !ok {
		return
	}
	key := fmt.Sprintf("bs:%d:%s", orgID, asOf.Format("2006-01-02"))
	result, err, _ := h.group.Do(key, func() (any, error) {
		balances, err := h.repo.AccountBalances(r.Context(), orgID, epoch, asOf)
		if err != nil {
			return nil, err
		}
		return BuildBalanceSheet(balances), nil
	})
	if err != nil {
		h.logger.Error("balance sheet", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) parseDate(w http.ResponseWriter, r *http.Request, param string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return fallback, true
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", param+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}
