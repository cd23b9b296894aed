package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doorscomputers/stockflow/internal/platform/httpx"
	"github.com/doorscomputers/stockflow/internal/rbac"
	"github.com/doorscomputers/stockflow/internal/shared"
)

// Handler exposes ledger reads and the reconciliation trigger.
type Handler struct {
	logger     *slog.Logger
	store      *Store
	reconciler *Reconciler
	rbac       rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, store *Store, reconciler *Reconciler, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:     logger,
		store:      store,
		reconciler: reconciler,
		rbac:       rbac,
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapLedgerView))
		r.Get("/ledger/stock-card", h.stockCard)
		r.Get("/ledger/projections/{variationID}/{locationID}", h.projection)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapReconcileRun))
		r.Post("/ledger/reconcile", h.reconcile)
	})
}

// stockCard lists the movement history for one (variation, location) pair.
func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variationID, err := strconv.ParseInt(q.Get("variation_id"), 10, 64)
	if err != nil || variationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variation_id is required and must be numeric")
		return
	}
	locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id is required and must be numeric")
		return
	}

	filter := HistoryFilter{VariationID: variationID, LocationID: locationID}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		filter.From = ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		filter.To = ts
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	entries, err := h.store.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card query failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) projection(w http.ResponseWriter, r *http.Request) {
	variationID, err := strconv.ParseInt(chi.URLParam(r, "variationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "variation id must be numeric")
		return
	}
	locationID, err := strconv.ParseInt(chi.URLParam(r, "locationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "location id must be numeric")
		return
	}

	proj, err := h.store.Projection(r.Context(), variationID, locationID)
	if err != nil {
		h.logger.Error("projection query failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, proj)
}

// reconcile runs a reconciliation pass. fix=true appends correction entries;
// the default is a diagnostic run that only reports drift.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	fix := r.URL.Query().Get("fix") == "true"

	report, err := h.reconciler.Run(r.Context(), fix)
	if err != nil {
		h.logger.Error("reconciliation failed", slog.Bool("fix", fix), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Reconciliation Failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"pairs_scanned": report.PairsScanned,
		"drift_count":   len(report.Drifts),
		"drifts":        report.Drifts,
		"corrected":     report.Corrected,
		"fix":           fix,
		"duration_ms":   report.Duration.Milliseconds(),
	})
}
