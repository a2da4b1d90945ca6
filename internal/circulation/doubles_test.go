package circulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// The in-memory stores reproduce the conditional-update semantics of the SQL
// repositories: every mutation checks its precondition under the mutex, so
// concurrency tests exercise the same win/lose behavior the database gives.

type memCatalog struct {
	mu     sync.Mutex
	titles map[uint64]*model.Title
}

func newMemCatalog(titles ...*model.Title) *memCatalog {
	c := &memCatalog{titles: make(map[uint64]*model.Title)}
	for _, t := range titles {
		cp := *t
		c.titles[t.ID] = &cp
	}
	return c
}

func (c *memCatalog) TitleByID(_ context.Context, id uint64) (*model.Title, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.titles[id]
	if !ok {
		return nil, fmt.Errorf("title %d: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (c *memCatalog) ReserveCopy(_ context.Context, titleID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.titles[titleID]
	if !ok {
		return fmt.Errorf("title %d: %w", titleID, ErrNotFound)
	}
	if t.AvailableStock <= 0 {
		return fmt.Errorf("title %d: %w", titleID, ErrOutOfStock)
	}
	t.AvailableStock--
	return nil
}

func (c *memCatalog) ReleaseCopy(_ context.Context, titleID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.titles[titleID]
	if !ok {
		return fmt.Errorf("title %d: %w", titleID, ErrNotFound)
	}
	if t.AvailableStock >= t.TotalStock {
		return fmt.Errorf("title %d: %w", titleID, ErrInvariantViolation)
	}
	t.AvailableStock++
	return nil
}

func (c *memCatalog) SetBorrower(_ context.Context, titleID uint64, patronID *uint64, at *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.titles[titleID]
	if !ok {
		return fmt.Errorf("title %d: %w", titleID, ErrNotFound)
	}
	t.BorrowedBy = patronID
	t.BorrowedAt = at
	return nil
}

func (c *memCatalog) TitlesWithBorrower(_ context.Context) ([]model.Title, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Title
	for _, t := range c.titles {
		if t.BorrowedBy != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (c *memCatalog) Archive(_ context.Context, titleID, _ uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.titles[titleID]
	if !ok {
		return fmt.Errorf("title %d: %w", titleID, ErrNotFound)
	}
	t.Status = model.TitleStatusArchived
	return nil
}

// available reads current available stock for assertions.
func (c *memCatalog) available(titleID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles[titleID].AvailableStock
}

type memLedger struct {
	mu  sync.Mutex
	seq uint64
	txs map[uint64]*model.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{txs: make(map[uint64]*model.Transaction)}
}

func (l *memLedger) Create(_ context.Context, t *model.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	t.ID = l.seq
	cp := *t
	l.txs[t.ID] = &cp
	return nil
}

func (l *memLedger) ByID(_ context.Context, id uint64) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) HasLive(_ context.Context, titleID, patronID uint64, kind string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.txs {
		if t.TitleID == titleID && t.PatronID == patronID && t.Kind == kind && t.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) Transition(_ context.Context, id uint64, from, to string, upd TransitionUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if t.Status != from {
		return fmt.Errorf("transaction %d is not %s: %w", id, from, ErrInvalidTransition)
	}
	t.Status = to
	if upd.DecidedBy != nil {
		t.DecidedBy = upd.DecidedBy
	}
	if upd.DecisionAt != nil {
		t.DecisionAt = upd.DecisionAt
	}
	if upd.ActiveFrom != nil {
		t.ActiveFrom = upd.ActiveFrom
	}
	if upd.DueAt != nil {
		t.DueAt = upd.DueAt
	}
	if upd.ReturnedAt != nil {
		t.ReturnedAt = upd.ReturnedAt
	}
	if upd.RejectionReason != nil {
		t.RejectionReason = upd.RejectionReason
	}
	return nil
}

func (l *memLedger) MarkReminderSent(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if t.Status != model.StatusPending || t.ReminderSent {
		return fmt.Errorf("reminder for transaction %d already handled: %w", id, ErrInvalidTransition)
	}
	t.ReminderSent = true
	return nil
}

func (l *memLedger) ActiveBorrowCount(_ context.Context, titleID uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.txs {
		if t.TitleID == titleID && t.Kind == model.KindBorrow && t.Status == model.StatusActive {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) LiveCount(_ context.Context, titleID uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.txs {
		if t.TitleID == titleID && t.Live() {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ActiveBorrowsByPatron(_ context.Context, patronID uint64) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, t := range l.txs {
		if t.PatronID == patronID && t.Kind == model.KindBorrow && t.Status == model.StatusActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (l *memLedger) ExpiredPendingReservations(_ context.Context, cutoff time.Time) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, t := range l.txs {
		if t.Kind == model.KindReserve && t.Status == model.StatusPending && t.RequestedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (l *memLedger) ReservationsDueReminder(_ context.Context, oldest, newest time.Time) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, t := range l.txs {
		if t.Kind != model.KindReserve || t.Status != model.StatusPending || t.ReminderSent {
			continue
		}
		if t.RequestedAt.After(oldest) && !t.RequestedAt.After(newest) {
			out = append(out, *t)
		}
	}
	return out, nil
}

// status reads one transaction's status for assertions.
func (l *memLedger) status(id uint64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txs[id].Status
}

type memReturns struct {
	mu   sync.Mutex
	seq  uint64
	reqs map[uint64]*model.ReturnRequest
}

func newMemReturns() *memReturns {
	return &memReturns{reqs: make(map[uint64]*model.ReturnRequest)}
}

func (m *memReturns) Create(_ context.Context, r *model.ReturnRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = m.seq
	cp := *r
	m.reqs[r.ID] = &cp
	return nil
}

func (m *memReturns) ByID(_ context.Context, id uint64) (*model.ReturnRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, fmt.Errorf("return request %d: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memReturns) HasPending(_ context.Context, transactionID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.TransactionID == transactionID && r.Status == model.ReturnStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memReturns) Decide(_ context.Context, id uint64, status string, staffID uint64, reason *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return fmt.Errorf("return request %d: %w", id, ErrNotFound)
	}
	if r.Status != model.ReturnStatusPending {
		return fmt.Errorf("return request %d already decided: %w", id, ErrInvalidTransition)
	}
	r.Status = status
	r.DecidedBy = &staffID
	r.DecisionAt = &at
	r.RejectionReason = reason
	return nil
}

// memNotifier records sends and can be told to fail specific kinds.
type memNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func newMemNotifier() *memNotifier {
	return &memNotifier{fails: make(map[string]error)}
}

func (n *memNotifier) send(kind string, patron *model.Patron, titleName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.fails[kind]; ok {
		return err
	}
	n.sent = append(n.sent, fmt.Sprintf("%s:%d:%s", kind, patron.ID, titleName))
	return nil
}

func (n *memNotifier) failKind(kind string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.fails, kind)
		return
	}
	n.fails[kind] = err
}

func (n *memNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if len(s) >= len(kind) && s[:len(kind)] == kind {
			c++
		}
	}
	return c
}

func (n *memNotifier) ReservationPending(_ context.Context, p *model.Patron, titleName string) error {
	return n.send("pending", p, titleName)
}

func (n *memNotifier) ReservationApproved(_ context.Context, p *model.Patron, titleName string, _ time.Time) error {
	return n.send("approved", p, titleName)
}

func (n *memNotifier) ReservationRejected(_ context.Context, p *model.Patron, titleName, _ string) error {
	return n.send("rejected", p, titleName)
}

func (n *memNotifier) ReservationReminder(_ context.Context, p *model.Patron, titleName string, _ time.Time) error {
	return n.send("reminder", p, titleName)
}

func (n *memNotifier) ReservationExpired(_ context.Context, p *model.Patron, titleName string) error {
	return n.send("expired", p, titleName)
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) Record(_ context.Context, _ uint64, action string, _ uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *memAudit) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.actions {
		if s == action {
			return true
		}
	}
	return false
}

type memPatrons struct {
	mu      sync.Mutex
	patrons map[uint64]*model.Patron
}

func newMemPatrons(patrons ...*model.Patron) *memPatrons {
	m := &memPatrons{patrons: make(map[uint64]*model.Patron)}
	for _, p := range patrons {
		cp := *p
		m.patrons[p.ID] = &cp
	}
	return m
}

func (m *memPatrons) ByID(_ context.Context, id uint64) (*model.Patron, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrons[id]
	if !ok {
		return nil, fmt.Errorf("patron %d: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memPatrons) Exists(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.patrons[id]
	return ok, nil
}

func (m *memPatrons) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patrons, id)
}

// fakeClock is a settable time source for the window tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testWorld bundles an engine with all its doubles.
type testWorld struct {
	engine  *Engine
	catalog *memCatalog
	ledger  *memLedger
	returns *memReturns
	notify  *memNotifier
	audit   *memAudit
	patrons *memPatrons
	clock   *fakeClock
}

func newTestWorld(titles []*model.Title, patrons []*model.Patron, opts ...Option) *testWorld {
	w := &testWorld{
		catalog: newMemCatalog(titles...),
		ledger:  newMemLedger(),
		returns: newMemReturns(),
		notify:  newMemNotifier(),
		audit:   &memAudit{},
		patrons: newMemPatrons(patrons...),
		clock:   newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	opts = append([]Option{WithClock(w.clock.Now)}, opts...)
	w.engine = NewEngine(w.catalog, w.ledger, w.returns, w.notify, w.audit, w.patrons, opts...)
	return w
}
