package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// StaffCirculationHandler serves the staff-only circulation endpoints:
// approval queues, decisions, reconciliation and reporting.
type StaffCirculationHandler struct {
	Engine  *circulation.Engine
	Ledger  *repository.TransactionRepo
	Returns *repository.ReturnRequestRepo
	Audit   *repository.AuditRepo
}

// NewStaffCirculationHandler constructs a StaffCirculationHandler.
func NewStaffCirculationHandler(engine *circulation.Engine, ledger *repository.TransactionRepo, returns *repository.ReturnRequestRepo, audit *repository.AuditRepo) *StaffCirculationHandler {
	return &StaffCirculationHandler{Engine: engine, Ledger: ledger, Returns: returns, Audit: audit}
}

type decisionReq struct {
	Reason string `json:"reason"`
}

// PendingTransactions handles GET /v1/staff/transactions/pending. Accepts
// ?kind=BORROW or ?kind=RESERVE; unfiltered returns both queues.
func (h *StaffCirculationHandler) PendingTransactions(c echo.Context) error {
	kind := c.QueryParam("kind")
	switch kind {
	case "", model.KindBorrow, model.KindReserve:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be BORROW or RESERVE"})
	}
	ts, err := h.Ledger.PendingByKind(c.Request().Context(), kind)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": toTxViews(ts)})
}

// ActiveLoans handles GET /v1/staff/loans/active.
func (h *StaffCirculationHandler) ActiveLoans(c echo.Context) error {
	ts, err := h.Ledger.ActiveLoans(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"loans": toTxViews(ts)})
}

// ApproveBorrow handles POST /v1/staff/transactions/:id/approve-borrow.
func (h *StaffCirculationHandler) ApproveBorrow(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	t, err := h.Engine.ApproveBorrow(c.Request().Context(), txID, staffID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toTxView(t))
}

// RejectBorrow handles POST /v1/staff/transactions/:id/reject-borrow.
func (h *StaffCirculationHandler) RejectBorrow(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Engine.RejectBorrow(c.Request().Context(), txID, staffID, req.Reason); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ApproveReservation handles POST /v1/staff/transactions/:id/approve-reservation.
func (h *StaffCirculationHandler) ApproveReservation(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	t, err := h.Engine.ApproveReservation(c.Request().Context(), txID, staffID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toTxView(t))
}

// RejectReservation handles POST /v1/staff/transactions/:id/reject-reservation.
func (h *StaffCirculationHandler) RejectReservation(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Engine.RejectReservation(c.Request().Context(), txID, staffID, req.Reason); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReturnLoan handles POST /v1/staff/transactions/:id/return, the front-desk
// return path that skips the patron request step.
func (h *StaffCirculationHandler) ReturnLoan(c echo.Context) error {
	txID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}
	if err := h.Engine.ReturnBook(c.Request().Context(), txID); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PendingReturnRequests handles GET /v1/staff/return-requests.
func (h *StaffCirculationHandler) PendingReturnRequests(c echo.Context) error {
	reqs, err := h.Returns.Pending(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	views := make([]returnView, 0, len(reqs))
	for i := range reqs {
		views = append(views, toReturnView(&reqs[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"return_requests": views})
}

// ApproveReturn handles POST /v1/staff/return-requests/:id/approve.
func (h *StaffCirculationHandler) ApproveReturn(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reqID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid return request id"})
	}
	if err := h.Engine.ApproveReturn(c.Request().Context(), reqID, staffID); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RejectReturn handles POST /v1/staff/return-requests/:id/reject.
func (h *StaffCirculationHandler) RejectReturn(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reqID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid return request id"})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Engine.RejectReturn(c.Request().Context(), reqID, staffID, req.Reason); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ForceReturn handles POST /v1/staff/patrons/:id/force-return, the cleanup
// pass after a patron account was removed.
func (h *StaffCirculationHandler) ForceReturn(c echo.Context) error {
	patronID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid patron id"})
	}
	report, err := h.Engine.ForceReturnForDeletedPatron(c.Request().Context(), patronID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// ArchiveTitle handles POST /v1/staff/titles/:id/archive.
func (h *StaffCirculationHandler) ArchiveTitle(c echo.Context) error {
	staffID, err := getPatronID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	titleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	if err := h.Engine.ArchiveTitle(c.Request().Context(), titleID, staffID); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyTitle handles GET /v1/staff/titles/:id/consistency. A clean title
// answers 200; a broken one answers 500 through the invariant mapping.
func (h *StaffCirculationHandler) VerifyTitle(c echo.Context) error {
	titleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid title id"})
	}
	if err := h.Engine.VerifyTitleConsistency(c.Request().Context(), titleID); err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"consistent": true})
}

// RecentAudit handles GET /v1/staff/audit. Accepts ?limit=.
func (h *StaffCirculationHandler) RecentAudit(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.Audit.Recent(c.Request().Context(), limit)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}
