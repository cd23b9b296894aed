package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/doorscomputers/stockflow/internal/platform/httpx"
	"github.com/doorscomputers/stockflow/internal/rbac"
	"github.com/doorscomputers/stockflow/internal/shared"
)

// Handler manages stock transfer endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validate,
		rbac:     rbac,
	}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferView))
		r.Get("/transfers", h.list)
		r.Get("/transfers/{id}", h.get)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferCreate))
		r.Post("/transfers", h.create)
		r.Post("/transfers/{id}/submit", h.submit)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferCheck))
		r.Post("/transfers/{id}/check", h.checkApprove)
		r.Post("/transfers/{id}/reject", h.checkReject)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferSend))
		r.Post("/transfers/{id}/send", h.send)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferReceive))
		r.Post("/transfers/{id}/arrive", h.arrive)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferVerify))
		r.Post("/transfers/{id}/start-verification", h.startVerification)
		r.Post("/transfers/{id}/items/{itemID}/verify", h.verifyItem)
		r.Post("/transfers/{id}/items/{itemID}/unverify", h.unverifyItem)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferComplete))
		r.Post("/transfers/{id}/complete", h.complete)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapTransferCancel))
		r.Post("/transfers/{id}/cancel", h.cancel)
	})
}

func (h *Handler) actor(r *http.Request) (shared.Actor, bool) {
	return shared.ActorFromContext(r.Context())
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// respondErr maps the transfer error taxonomy onto RFC7807 responses.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid   *InvalidTransitionError
		processed *AlreadyProcessedError
		sod       *SeparationOfDutiesError
		stock     *InsufficientStockError
		ledgerErr *LedgerWriteError
	)
	switch {
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &processed):
		httpx.Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.As(err, &sod):
		httpx.Problem(w, http.StatusForbidden, "Separation Of Duties", err.Error())
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, ErrLocationAccess):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.As(err, &stock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrSameLocation), errors.Is(err, ErrNoItems), errors.Is(err, ErrItemNotVerified):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.As(err, &ledgerErr):
		h.logger.Error("ledger write failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Ledger Write Failed", "stock movement could not be recorded")
	default:
		h.logger.Error("transfer request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}

	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	t, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return
	}

	t, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}

	req := ListRequest{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st := Status(v)
		if !st.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status "+v)
			return
		}
		req.Status = &st
	}
	if v := q.Get("from_location_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from_location_id must be numeric")
			return
		}
		req.FromLocationID = &id
	}
	if v := q.Get("to_location_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to_location_id must be numeric")
			return
		}
		req.ToLocationID = &id
	}
	req.Page, _ = strconv.Atoi(q.Get("page"))
	req.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	transfers, total, err := h.service.List(r.Context(), actor, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       transfers,
		"pagination": shared.NewPagination(req.Page, req.PerPage, total),
	})
}

// transition wraps the id-only POST endpoints.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, int64) (*Transfer, error)) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return
	}

	t, err := fn(actor, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.SubmitForCheck(r.Context(), actor, id)
	})
}

func (h *Handler) checkApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.CheckApprove(r.Context(), actor, id)
	})
}

func (h *Handler) checkReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.CheckReject(r.Context(), actor, id, req.Reason)
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.Send(r.Context(), actor, id)
	})
}

func (h *Handler) arrive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.MarkArrived(r.Context(), actor, id)
	})
}

func (h *Handler) startVerification(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.StartVerification(r.Context(), actor, id)
	})
}

func (h *Handler) verifyItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}

	// Body is optional; an empty body verifies the requested quantity.
	var req VerifyItemRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}

	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.VerifyItem(r.Context(), actor, id, itemID, req)
	})
}

func (h *Handler) unverifyItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.UnverifyItem(r.Context(), actor, id, itemID)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.Complete(r.Context(), actor, id)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.transition(w, r, func(actor shared.Actor, id int64) (*Transfer, error) {
		return h.service.Cancel(r.Context(), actor, id, req.Reason)
	})
}
