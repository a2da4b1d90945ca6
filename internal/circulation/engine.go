package circulation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Default circulation periods. The originals are overridable through
// configuration; see config.Load.
const (
	DefaultLoanPeriod     = 7 * 24 * time.Hour
	DefaultApprovalWindow = 24 * time.Hour
	DefaultReminderLead   = 2 * time.Hour
)

// Engine validates and executes every circulation state transition. It is
// the single writer of transaction statuses and, through the Catalog
// primitives, of available stock. Each operation is one atomic unit: the
// stores perform conditional updates, and the engine compensates (releases a
// reserved copy) when a status update loses a race. Notification and audit
// calls always happen after the core writes and never fail an operation.
type Engine struct {
	catalog Catalog
	ledger  Ledger
	returns ReturnRequests
	notify  Notifier
	audit   Auditor
	patrons PatronDirectory

	loanPeriod     time.Duration
	approvalWindow time.Duration
	reminderLead   time.Duration

	now func() time.Time
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithLoanPeriod overrides the default 7 day loan period.
func WithLoanPeriod(d time.Duration) Option {
	return func(e *Engine) { e.loanPeriod = d }
}

// WithApprovalWindow overrides the default 24h reservation approval window.
func WithApprovalWindow(d time.Duration) Option {
	return func(e *Engine) { e.approvalWindow = d }
}

// WithReminderLead overrides how long before expiry the reminder goes out.
func WithReminderLead(d time.Duration) Option {
	return func(e *Engine) { e.reminderLead = d }
}

// WithClock replaces the time source. Tests use this to drive the
// reservation windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an Engine to its collaborators. All stores are required;
// notify, audit and patrons may not be nil either — use no-op
// implementations when a deployment has no broker or audit table.
func NewEngine(catalog Catalog, ledger Ledger, returns ReturnRequests, notify Notifier, audit Auditor, patrons PatronDirectory, opts ...Option) *Engine {
	e := &Engine{
		catalog:        catalog,
		ledger:         ledger,
		returns:        returns,
		notify:         notify,
		audit:          audit,
		patrons:        patrons,
		loanPeriod:     DefaultLoanPeriod,
		approvalWindow: DefaultApprovalWindow,
		reminderLead:   DefaultReminderLead,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApprovalWindow reports the configured reservation approval window.
func (e *Engine) ApprovalWindow() time.Duration { return e.approvalWindow }

// circulatingTitle loads a title and verifies it still circulates. Archived
// titles behave as if they were gone; damaged ones refuse new transactions.
func (e *Engine) circulatingTitle(ctx context.Context, titleID uint64) (*model.Title, error) {
	title, err := e.catalog.TitleByID(ctx, titleID)
	if err != nil {
		return nil, err
	}
	switch title.Status {
	case model.TitleStatusArchived:
		return nil, fmt.Errorf("title %d is archived: %w", titleID, ErrNotFound)
	case model.TitleStatusDamaged:
		return nil, fmt.Errorf("title %d is damaged: %w", titleID, ErrInvalidTransition)
	}
	return title, nil
}

// RequestBorrow creates a pending borrow request. Stock is not touched:
// copies are committed only at activation, so a queue of pending requests
// can never starve availability.
func (e *Engine) RequestBorrow(ctx context.Context, titleID, patronID uint64) (*model.Transaction, error) {
	title, err := e.circulatingTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	dup, err := e.ledger.HasLive(ctx, titleID, patronID, model.KindBorrow)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("patron %d already has a live borrow for title %d: %w", patronID, titleID, ErrDuplicateRequest)
	}
	t := &model.Transaction{
		TitleID:     titleID,
		PatronID:    patronID,
		Kind:        model.KindBorrow,
		Status:      model.StatusPending,
		TitleName:   title.DisplayName,
		RequestedAt: e.now(),
	}
	if err := e.ledger.Create(ctx, t); err != nil {
		return nil, err
	}
	e.record(ctx, patronID, "borrow.requested", t.ID)
	return t, nil
}

// BorrowDirect is the self-service path: the stock check substitutes for
// staff approval and the transaction is created already active. Activation
// happens at creation, so the decrement-at-activation policy still holds.
func (e *Engine) BorrowDirect(ctx context.Context, titleID, patronID uint64) (*model.Transaction, error) {
	title, err := e.circulatingTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	dup, err := e.ledger.HasLive(ctx, titleID, patronID, model.KindBorrow)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("patron %d already has a live borrow for title %d: %w", patronID, titleID, ErrDuplicateRequest)
	}
	if err := e.catalog.ReserveCopy(ctx, titleID); err != nil {
		return nil, err
	}
	now := e.now()
	due := now.Add(e.loanPeriod)
	t := &model.Transaction{
		TitleID:     titleID,
		PatronID:    patronID,
		Kind:        model.KindBorrow,
		Status:      model.StatusActive,
		TitleName:   title.DisplayName,
		RequestedAt: now,
		ActiveFrom:  &now,
		DueAt:       &due,
	}
	if err := e.ledger.Create(ctx, t); err != nil {
		// The copy was committed but the ledger write failed; hand the
		// copy back so stock and ledger stay in correspondence.
		if relErr := e.catalog.ReleaseCopy(ctx, titleID); relErr != nil {
			log.Printf("circulation: CONSISTENCY: release after failed create on title %d: %v", titleID, relErr)
		}
		return nil, err
	}
	if err := e.catalog.SetBorrower(ctx, titleID, &patronID, &now); err != nil {
		log.Printf("circulation: set borrower pointer on title %d: %v", titleID, err)
	}
	e.record(ctx, patronID, "borrow.direct", t.ID)
	return t, nil
}

// ApproveBorrow activates a pending borrow request. The copy is reserved
// first; if the status update then loses to a concurrent decision the copy
// is released again. On ErrOutOfStock the request stays pending — approval
// is never silently downgraded.
func (e *Engine) ApproveBorrow(ctx context.Context, txID, staffID uint64) (*model.Transaction, error) {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Kind != model.KindBorrow || t.Status != model.StatusPending {
		return nil, fmt.Errorf("transaction %d is %s/%s, not a pending borrow: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	if err := e.catalog.ReserveCopy(ctx, t.TitleID); err != nil {
		return nil, err
	}
	now := e.now()
	due := now.Add(e.loanPeriod)
	upd := TransitionUpdate{
		DecidedBy:  &staffID,
		DecisionAt: &now,
		ActiveFrom: &now,
		DueAt:      &due,
	}
	if err := e.ledger.Transition(ctx, txID, model.StatusPending, model.StatusActive, upd); err != nil {
		if relErr := e.catalog.ReleaseCopy(ctx, t.TitleID); relErr != nil {
			log.Printf("circulation: CONSISTENCY: release after lost activation race on title %d: %v", t.TitleID, relErr)
		}
		return nil, err
	}
	if err := e.catalog.SetBorrower(ctx, t.TitleID, &t.PatronID, &now); err != nil {
		log.Printf("circulation: set borrower pointer on title %d: %v", t.TitleID, err)
	}
	t.Status = model.StatusActive
	t.DecidedBy = &staffID
	t.DecisionAt = &now
	t.ActiveFrom = &now
	t.DueAt = &due
	e.record(ctx, staffID, "borrow.approved", txID)
	return t, nil
}

// RejectBorrow declines a pending borrow request. No stock effect.
func (e *Engine) RejectBorrow(ctx context.Context, txID, staffID uint64, reason string) error {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return err
	}
	if t.Kind != model.KindBorrow || t.Status != model.StatusPending {
		return fmt.Errorf("transaction %d is %s/%s, not a pending borrow: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	now := e.now()
	upd := TransitionUpdate{DecidedBy: &staffID, DecisionAt: &now, RejectionReason: &reason}
	if err := e.ledger.Transition(ctx, txID, model.StatusPending, model.StatusRejected, upd); err != nil {
		return err
	}
	e.record(ctx, staffID, "borrow.rejected", txID)
	return nil
}

// ReturnBook completes an active loan and releases its copy. The status
// update goes first: its conditional form guarantees a copy is released at
// most once per loan even under concurrent returns.
func (e *Engine) ReturnBook(ctx context.Context, txID uint64) error {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return err
	}
	if t.Kind != model.KindBorrow || t.Status != model.StatusActive {
		return fmt.Errorf("transaction %d is %s/%s, not an active loan: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	now := e.now()
	if err := e.ledger.Transition(ctx, txID, model.StatusActive, model.StatusCompleted, TransitionUpdate{ReturnedAt: &now}); err != nil {
		return err
	}
	if err := e.catalog.ReleaseCopy(ctx, t.TitleID); err != nil {
		// The loan is completed but the copy was not released: the
		// correspondence invariant is broken. Surface it, do not mask.
		log.Printf("circulation: INVARIANT: release for completed loan %d on title %d failed: %v", txID, t.TitleID, err)
		return fmt.Errorf("release copy for title %d: %w", t.TitleID, ErrInvariantViolation)
	}
	e.clearBorrowerIfIdle(ctx, t.TitleID)
	e.record(ctx, t.PatronID, "borrow.returned", txID)
	return nil
}

// clearBorrowerIfIdle drops the display borrower pointer once no active
// loans reference the title anymore.
func (e *Engine) clearBorrowerIfIdle(ctx context.Context, titleID uint64) {
	n, err := e.ledger.ActiveBorrowCount(ctx, titleID)
	if err != nil {
		log.Printf("circulation: active borrow count for title %d: %v", titleID, err)
		return
	}
	if n == 0 {
		if err := e.catalog.SetBorrower(ctx, titleID, nil, nil); err != nil {
			log.Printf("circulation: clear borrower pointer on title %d: %v", titleID, err)
		}
	}
}

// RequestReservation creates a pending reservation with a fixed approval
// window and notifies the patron.
func (e *Engine) RequestReservation(ctx context.Context, titleID, patronID uint64) (*model.Transaction, error) {
	title, err := e.circulatingTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	dup, err := e.ledger.HasLive(ctx, titleID, patronID, model.KindReserve)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("patron %d already has a live reservation for title %d: %w", patronID, titleID, ErrDuplicateRequest)
	}
	t := &model.Transaction{
		TitleID:     titleID,
		PatronID:    patronID,
		Kind:        model.KindReserve,
		Status:      model.StatusPending,
		TitleName:   title.DisplayName,
		RequestedAt: e.now(),
	}
	if err := e.ledger.Create(ctx, t); err != nil {
		return nil, err
	}
	e.record(ctx, patronID, "reserve.requested", t.ID)
	if patron := e.patron(ctx, patronID); patron != nil {
		if err := e.notify.ReservationPending(ctx, patron, title.DisplayName); err != nil {
			log.Printf("circulation: reservation pending notification for tx %d: %v", t.ID, err)
		}
	}
	return t, nil
}

// ApproveReservation activates a pending reservation. Approval does not
// consume a loan slot — the copy is committed later, when the reservation
// converts into a borrow at pickup — but it does require that the title is
// not currently checked out by another patron.
func (e *Engine) ApproveReservation(ctx context.Context, txID, staffID uint64) (*model.Transaction, error) {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Kind != model.KindReserve || t.Status != model.StatusPending {
		return nil, fmt.Errorf("transaction %d is %s/%s, not a pending reservation: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	title, err := e.catalog.TitleByID(ctx, t.TitleID)
	if err != nil {
		return nil, err
	}
	if title.BorrowedBy != nil && *title.BorrowedBy != t.PatronID {
		return nil, fmt.Errorf("title %d is checked out: %w", t.TitleID, ErrOutOfStock)
	}
	now := e.now()
	due := now.Add(e.loanPeriod)
	upd := TransitionUpdate{
		DecidedBy:  &staffID,
		DecisionAt: &now,
		ActiveFrom: &now,
		DueAt:      &due,
	}
	if err := e.ledger.Transition(ctx, txID, model.StatusPending, model.StatusActive, upd); err != nil {
		return nil, err
	}
	t.Status = model.StatusActive
	t.DecidedBy = &staffID
	t.DecisionAt = &now
	t.ActiveFrom = &now
	t.DueAt = &due
	e.record(ctx, staffID, "reserve.approved", txID)
	if patron := e.patron(ctx, t.PatronID); patron != nil {
		if err := e.notify.ReservationApproved(ctx, patron, t.TitleName, due); err != nil {
			log.Printf("circulation: reservation approved notification for tx %d: %v", txID, err)
		}
	}
	return t, nil
}

// RejectReservation declines a pending reservation and notifies the patron
// with the reason.
func (e *Engine) RejectReservation(ctx context.Context, txID, staffID uint64, reason string) error {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return err
	}
	if t.Kind != model.KindReserve || t.Status != model.StatusPending {
		return fmt.Errorf("transaction %d is %s/%s, not a pending reservation: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	now := e.now()
	upd := TransitionUpdate{DecidedBy: &staffID, DecisionAt: &now, RejectionReason: &reason}
	if err := e.ledger.Transition(ctx, txID, model.StatusPending, model.StatusRejected, upd); err != nil {
		return err
	}
	e.record(ctx, staffID, "reserve.rejected", txID)
	if patron := e.patron(ctx, t.PatronID); patron != nil {
		if err := e.notify.ReservationRejected(ctx, patron, t.TitleName, reason); err != nil {
			log.Printf("circulation: reservation rejected notification for tx %d: %v", txID, err)
		}
	}
	return nil
}

// CancelPending withdraws a patron's own pending request. Staff decisions
// racing the cancel are resolved by the conditional transition.
func (e *Engine) CancelPending(ctx context.Context, txID, patronID uint64) error {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return err
	}
	if t.PatronID != patronID {
		return fmt.Errorf("transaction %d does not belong to patron %d: %w", txID, patronID, ErrNotFound)
	}
	if t.Status != model.StatusPending {
		return fmt.Errorf("transaction %d is %s, not pending: %w", txID, t.Status, ErrInvalidTransition)
	}
	now := e.now()
	if err := e.ledger.Transition(ctx, txID, model.StatusPending, model.StatusCancelled, TransitionUpdate{DecisionAt: &now}); err != nil {
		return err
	}
	e.record(ctx, patronID, "request.cancelled", txID)
	return nil
}

// RequestReturn files a return request for an active loan owned by the
// patron. A second request while one is still pending is refused.
func (e *Engine) RequestReturn(ctx context.Context, txID, patronID uint64, condition string, notes *string) (*model.ReturnRequest, error) {
	t, err := e.ledger.ByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.PatronID != patronID {
		return nil, fmt.Errorf("transaction %d does not belong to patron %d: %w", txID, patronID, ErrNotFound)
	}
	if t.Kind != model.KindBorrow || t.Status != model.StatusActive {
		return nil, fmt.Errorf("transaction %d is %s/%s, not an active loan: %w", txID, t.Kind, t.Status, ErrInvalidTransition)
	}
	dup, err := e.returns.HasPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("return request already pending for transaction %d: %w", txID, ErrDuplicateRequest)
	}
	if condition == "" {
		condition = "good"
	}
	r := &model.ReturnRequest{
		TransactionID: txID,
		TitleID:       t.TitleID,
		PatronID:      patronID,
		TitleName:     t.TitleName,
		Condition:     condition,
		Notes:         notes,
		Status:        model.ReturnStatusPending,
		RequestedAt:   e.now(),
	}
	if err := e.returns.Create(ctx, r); err != nil {
		return nil, err
	}
	e.record(ctx, patronID, "return.requested", txID)
	return r, nil
}

// ApproveReturn accepts a pending return request: the request is marked
// approved and the underlying loan completes with full ReturnBook
// semantics.
func (e *Engine) ApproveReturn(ctx context.Context, requestID, staffID uint64) error {
	r, err := e.returns.ByID(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status != model.ReturnStatusPending {
		return fmt.Errorf("return request %d is %s, not pending: %w", requestID, r.Status, ErrInvalidTransition)
	}
	if err := e.returns.Decide(ctx, requestID, model.ReturnStatusApproved, staffID, nil, e.now()); err != nil {
		return err
	}
	if err := e.ReturnBook(ctx, r.TransactionID); err != nil {
		// The loan may already be back (force return, direct return). The
		// request decision stands either way; only invariant breaches
		// propagate.
		if errors.Is(err, ErrInvariantViolation) {
			return err
		}
		log.Printf("circulation: return of loan %d behind approved request %d: %v", r.TransactionID, requestID, err)
	}
	e.record(ctx, staffID, "return.approved", requestID)
	return nil
}

// RejectReturn declines a pending return request, leaving the loan active.
func (e *Engine) RejectReturn(ctx context.Context, requestID, staffID uint64, reason string) error {
	r, err := e.returns.ByID(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status != model.ReturnStatusPending {
		return fmt.Errorf("return request %d is %s, not pending: %w", requestID, r.Status, ErrInvalidTransition)
	}
	if reason == "" {
		reason = "no reason provided"
	}
	if err := e.returns.Decide(ctx, requestID, model.ReturnStatusRejected, staffID, &reason, e.now()); err != nil {
		return err
	}
	e.record(ctx, staffID, "return.rejected", requestID)
	return nil
}

// ReconciliationReport summarizes one ForceReturnForDeletedPatron pass.
type ReconciliationReport struct {
	LoansReturned   int `json:"loans_returned"`
	OrphansRepaired int `json:"orphans_repaired"`
}

// ForceReturnForDeletedPatron force-returns every active loan of a patron
// who no longer exists and then repairs titles whose borrower pointer
// references nobody with a live loan. The pass is idempotent: re-running it
// finds nothing left to do. Per-loan failures are logged and skipped so one
// bad row cannot wedge the cleanup.
func (e *Engine) ForceReturnForDeletedPatron(ctx context.Context, patronID uint64) (ReconciliationReport, error) {
	var report ReconciliationReport
	exists, err := e.patrons.Exists(ctx, patronID)
	if err != nil {
		return report, err
	}
	if exists {
		return report, fmt.Errorf("patron %d still exists: %w", patronID, ErrInvalidTransition)
	}
	loans, err := e.ledger.ActiveBorrowsByPatron(ctx, patronID)
	if err != nil {
		return report, err
	}
	for _, loan := range loans {
		now := e.now()
		if err := e.ledger.Transition(ctx, loan.ID, model.StatusActive, model.StatusCancelled, TransitionUpdate{ReturnedAt: &now}); err != nil {
			log.Printf("circulation: force return of loan %d: %v", loan.ID, err)
			continue
		}
		if err := e.catalog.ReleaseCopy(ctx, loan.TitleID); err != nil {
			log.Printf("circulation: INVARIANT: release for force-returned loan %d on title %d failed: %v", loan.ID, loan.TitleID, err)
			continue
		}
		e.clearBorrowerIfIdle(ctx, loan.TitleID)
		e.record(ctx, patronID, "borrow.force_returned", loan.ID)
		report.LoansReturned++
	}
	titles, err := e.catalog.TitlesWithBorrower(ctx)
	if err != nil {
		return report, err
	}
	for _, title := range titles {
		n, err := e.ledger.ActiveBorrowCount(ctx, title.ID)
		if err != nil {
			log.Printf("circulation: orphan check for title %d: %v", title.ID, err)
			continue
		}
		if n > 0 {
			continue
		}
		if err := e.catalog.SetBorrower(ctx, title.ID, nil, nil); err != nil {
			log.Printf("circulation: orphan repair for title %d: %v", title.ID, err)
			continue
		}
		e.record(ctx, patronID, "title.orphan_repaired", title.ID)
		report.OrphansRepaired++
	}
	return report, nil
}

// ArchiveTitle moves a fully returned title into the archive store. The
// title must have no live transactions and its stock must sit at the
// terminal consistent value; anything else is either a premature archive
// attempt or a broken invariant.
func (e *Engine) ArchiveTitle(ctx context.Context, titleID, staffID uint64) error {
	title, err := e.catalog.TitleByID(ctx, titleID)
	if err != nil {
		return err
	}
	if title.Status == model.TitleStatusArchived {
		return fmt.Errorf("title %d is already archived: %w", titleID, ErrInvalidTransition)
	}
	live, err := e.ledger.LiveCount(ctx, titleID)
	if err != nil {
		return err
	}
	if live > 0 {
		return fmt.Errorf("title %d has %d live transactions: %w", titleID, live, ErrInvalidTransition)
	}
	if title.AvailableStock != title.TotalStock {
		return fmt.Errorf("title %d has no live transactions but available=%d total=%d: %w",
			titleID, title.AvailableStock, title.TotalStock, ErrInvariantViolation)
	}
	if err := e.catalog.Archive(ctx, titleID, staffID); err != nil {
		return err
	}
	e.record(ctx, staffID, "title.archived", titleID)
	return nil
}

// VerifyTitleConsistency recomputes the two catalog/ledger invariants for
// one title. It reports violations instead of repairing them: a broken
// title is frozen for manual reconciliation, never patched automatically.
func (e *Engine) VerifyTitleConsistency(ctx context.Context, titleID uint64) error {
	title, err := e.catalog.TitleByID(ctx, titleID)
	if err != nil {
		return err
	}
	if title.AvailableStock < 0 || title.AvailableStock > title.TotalStock {
		return fmt.Errorf("title %d stock out of bounds: available=%d total=%d: %w",
			titleID, title.AvailableStock, title.TotalStock, ErrInvariantViolation)
	}
	active, err := e.ledger.ActiveBorrowCount(ctx, titleID)
	if err != nil {
		return err
	}
	if title.TotalStock-title.AvailableStock != active {
		return fmt.Errorf("title %d ledger drift: total=%d available=%d active loans=%d: %w",
			titleID, title.TotalStock, title.AvailableStock, active, ErrInvariantViolation)
	}
	return nil
}

// ExpireStaleReservations transitions every pending reservation past its
// approval window to expired and notifies the patron. Candidates that lose
// the conditional transition (decided meanwhile) are skipped silently;
// other per-candidate failures are logged and skipped. Returns the number
// of reservations expired.
func (e *Engine) ExpireStaleReservations(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.approvalWindow)
	stale, err := e.ledger.ExpiredPendingReservations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, t := range stale {
		if err := e.ledger.Transition(ctx, t.ID, model.StatusPending, model.StatusExpired, TransitionUpdate{}); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				log.Printf("circulation: expire reservation %d: %v", t.ID, err)
			}
			continue
		}
		expired++
		e.record(ctx, t.PatronID, "reserve.expired", t.ID)
		if patron := e.patron(ctx, t.PatronID); patron != nil {
			if err := e.notify.ReservationExpired(ctx, patron, t.TitleName); err != nil {
				log.Printf("circulation: reservation expired notification for tx %d: %v", t.ID, err)
			}
		}
	}
	return expired, nil
}

// SendExpiryReminders notifies patrons whose pending reservations expire
// within the reminder lead. The flag is only set after a successful send so
// a failed delivery is retried on the next sweep; the conditional
// MarkReminderSent keeps double sends out even across overlapping callers.
// Returns the number of reminders sent.
func (e *Engine) SendExpiryReminders(ctx context.Context) (int, error) {
	now := e.now()
	oldest := now.Add(-e.approvalWindow)
	newest := now.Add(-(e.approvalWindow - e.reminderLead))
	due, err := e.ledger.ReservationsDueReminder(ctx, oldest, newest)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, t := range due {
		patron := e.patron(ctx, t.PatronID)
		if patron == nil {
			continue
		}
		expiresAt := t.RequestedAt.Add(e.approvalWindow)
		if err := e.notify.ReservationReminder(ctx, patron, t.TitleName, expiresAt); err != nil {
			log.Printf("circulation: reservation reminder for tx %d: %v", t.ID, err)
			continue
		}
		if err := e.ledger.MarkReminderSent(ctx, t.ID); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				log.Printf("circulation: mark reminder sent for tx %d: %v", t.ID, err)
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// patron resolves a patron for notification addressing. Lookup failures are
// logged and yield nil so the triggering operation proceeds without the
// notification.
func (e *Engine) patron(ctx context.Context, patronID uint64) *model.Patron {
	p, err := e.patrons.ByID(ctx, patronID)
	if err != nil {
		log.Printf("circulation: resolve patron %d for notification: %v", patronID, err)
		return nil
	}
	return p
}

// record appends one audit entry. Audit is best-effort: failures are logged
// and never roll back the state change they describe.
func (e *Engine) record(ctx context.Context, actorID uint64, action string, subjectID uint64) {
	if err := e.audit.Record(ctx, actorID, action, subjectID); err != nil {
		log.Printf("circulation: audit %q actor=%d subject=%d: %v", action, actorID, subjectID, err)
	}
}
