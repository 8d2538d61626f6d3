package posting

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/platform/httpx"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Handler wires the JSON API for events, ledgers, stock cards and sequences.
type Handler struct {
	logger     *slog.Logger
	events     *Coordinator
	ledgers    *ledger.Service
	statements *journal.Service
	stock      *inventory.Service
}

// NewHandler constructs the API handler.
func NewHandler(logger *slog.Logger, events *Coordinator, ledgers *ledger.Service, statements *journal.Service, stock *inventory.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, events: events, ledgers: ledgers, statements: statements, stock: stock}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.postEvent)
		r.Get("/{id}", h.getEvent)
		r.Put("/{id}", h.updateEvent)
		r.Delete("/{id}", h.deleteEvent)
	})
	r.Route("/ledgers", func(r chi.Router) {
		r.Post("/", h.createLedger)
		r.Get("/{id}/balance", h.ledgerBalance)
		r.Get("/{id}/statement", h.ledgerStatement)
	})
	r.Get("/items/{id}/card", h.itemCard)
	r.Get("/sequences/{docType}/next", h.nextNumber)
}

type balanceResponse struct {
	LedgerID int64           `json:"ledger_id"`
	Balance  decimal.Decimal `json:"balance"`
}

type nextNumberResponse struct {
	DocType string `json:"doc_type"`
	Period  string `json:"period,omitempty"`
	Number  string `json:"number"`
}

func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	var e Event
	if err := httpx.DecodeJSON(r, &e); err != nil {
		h.fail(w, r, shared.Invalid("body", "%v", err))
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		e.IdempotencyKey = key
	}
	posted, err := h.events.Post(r.Context(), e)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if posted.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, posted)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	posted, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, posted)
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e Event
	if err := httpx.DecodeJSON(r, &e); err != nil {
		h.fail(w, r, shared.Invalid("body", "%v", err))
		return
	}
	posted, err := h.events.Update(r.Context(), id, e)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, posted)
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.events.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createLedger(w http.ResponseWriter, r *http.Request) {
	var in ledger.NewLedger
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Invalid("body", "%v", err))
		return
	}
	l, err := h.ledgers.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, l)
}

func (h *Handler) ledgerBalance(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bal, err := h.ledgers.Balance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{LedgerID: id, Balance: bal})
}

func (h *Handler) ledgerStatement(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.statements.Statement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) itemCard(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.stock.Card(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) nextNumber(w http.ResponseWriter, r *http.Request) {
	docType := chi.URLParam(r, "docType")
	period := r.URL.Query().Get("period")
	number, err := h.events.PreviewNumber(r.Context(), Kind(docType), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nextNumberResponse{DocType: docType, Period: period, Number: number})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func eventID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Invalid("id", "not a uuid")
	}
	return id, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "must be a positive integer")
	}
	return id, nil
}
