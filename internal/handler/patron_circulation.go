package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// PatronCirculationHandler serves the authenticated patron's circulation
// endpoints: requesting, self-service borrowing, cancelling and the personal
// history views.
type PatronCirculationHandler struct {
	Engine  *circulation.Engine
	Ledger  *repository.TransactionRepo
	Returns *repository.ReturnRequestRepo
}

// NewPatronCirculationHandler constructs a PatronCirculationHandler.
func NewPatronCirculationHandler(engine *circulation.Engine, ledger *repository.TransactionRepo, returns *repository.ReturnRequestRepo) *PatronCirculationHandler {
	return &PatronCirculationHandler{Engine: engine, Ledger: ledger, Returns: returns}
}

// txView is the JSON shape of a ledger entry.
type txView struct {
	ID              uint64     `json:"id"`
	TitleID         uint64     `json:"title_id"`
	PatronID        uint64     `json:"patron_id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	TitleName       string     `json:"title_name"`
	RequestedAt     time.Time  `json:"requested_at"`
	ActiveFrom      *time.Time `json:"active_from,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

func toTxView(t *model.Transaction) txView {
	return txView{
		ID: t.ID, TitleID: t.TitleID, PatronID: t.PatronID, Kind: t.Kind,
		Status: t.Status, TitleName: t.TitleName, RequestedAt: t.RequestedAt,
		ActiveFrom: t.ActiveFrom, DueAt: t.DueAt, ReturnedAt: t.ReturnedAt,
		RejectionReason: t.RejectionReason,
	}
}

func toTxViews(ts []model.Transaction) []txView {
	out := make([]txView, 0, len(ts))
	for i := range ts {
		out = append(out, toTxView(&ts[i]))
	}
	return out
}

// returnView is the JSON shape of a return request.
type returnView struct {
	ID              uint64     `json:"id"`
	TransactionID   uint64     `json:"transaction_id"`
	TitleID         uint64     `json:"title_id"`
	PatronID        uint64     `json:"patron_id"`
	TitleName       string     `json:"title_name"`
	Condition       string     `json:"condition"`
	Notes           *string    `json:"notes,omitempty"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	DecisionAt      *time.Time `json:"decision_at,omitempty"`
}

func toReturnView(r *model.ReturnRequest) returnView {
	return returnView{
		ID: r.ID, TransactionID: r.TransactionID, TitleID: r.TitleID,
		PatronID: r.PatronID, TitleName: r.TitleName, Condition: r.Condition,
		Notes: r.Notes, Status: r.Status, RejectionReason: r.RejectionReason,
		RequestedAt: r.RequestedAt, DecisionAt: r.DecisionAt,
	}
}

// RequestBorrow handles POST /v1/titles/:id/borrow-requests.
func (h *PatronCirculationHandler) RequestBorrow(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	titleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	t, err := h.Engine.RequestBorrow(c.Request().Context(), titleID, patronID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toTxView(t))
}

// BorrowDirect handles POST /v1/titles/:id/borrow. The loan activates
// immediately when a copy is free; no staff decision involved.
func (h *PatronCirculationHandler) BorrowDirect(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	titleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	t, err := h.Engine.BorrowDirect(c.Request().Context(), titleID, patronID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toTxView(t))
}

// RequestReservation handles POST /v1/titles/:id/reservations.
func (h *PatronCirculationHandler) RequestReservation(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	titleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	t, err := h.Engine.RequestReservation(c.Request().Context(), titleID, patronID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"transaction": toTxView(t),
		"expires_at":  t.RequestedAt.Add(h.Engine.ApprovalWindow()),
	})
}

// CancelPending handles DELETE /v1/transactions/:id. Only the owner can
// withdraw, and only while the request is still pending.
func (h *PatronCirculationHandler) CancelPending(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	if err := h.Engine.CancelPending(c.Request().Context(), txID, patronID); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyTransactions handles GET /v1/transactions.
func (h *PatronCirculationHandler) MyTransactions(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ts, err := h.Ledger.ByPatron(c.Request().Context(), patronID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": toTxViews(ts)})
}

type requestReturnReq struct {
	Condition string  `json:"condition"`
	Notes     *string `json:"notes"`
}

// RequestReturn handles POST /v1/transactions/:id/return-requests.
func (h *PatronCirculationHandler) RequestReturn(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	var req requestReturnReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	r, err := h.Engine.RequestReturn(c.Request().Context(), txID, patronID, req.Condition, req.Notes)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toReturnView(r))
}

// MyReturnRequests handles GET /v1/return-requests.
func (h *PatronCirculationHandler) MyReturnRequests(c echo.Context) error {
	patronID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reqs, err := h.Returns.ByPatron(c.Request().Context(), patronID)
	if err != nil {
		return engineError(c, err)
	}
	views := make([]returnView, 0, len(reqs))
	for i := range reqs {
		views = append(views, toReturnView(&reqs[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"return_requests": views})
}
