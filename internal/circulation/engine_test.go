package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
)

func title(id uint64, name string, total int) *model.Title {
	return &model.Title{
		ID: id, DisplayName: name, TotalStock: total, AvailableStock: total,
		Status: model.TitleStatusAvailable,
	}
}

func patron(id uint64, email string) *model.Patron {
	return &model.Patron{ID: id, Email: email, FullName: email, Role: model.RolePatron}
}

func TestRequestBorrowLeavesStockUntouched(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, tx.Status)
	assert.Equal(t, "Dune", tx.TitleName)
	assert.Nil(t, tx.DueAt)
	assert.Equal(t, 2, w.catalog.available(1))
	assert.True(t, w.audit.has("borrow.requested"))
}

func TestRequestBorrowDuplicateRefused(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	_, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)
	_, err = w.engine.RequestBorrow(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestRequestBorrowArchivedTitleIsGone(t *testing.T) {
	archived := title(1, "Old", 1)
	archived.Status = model.TitleStatusArchived
	w := newTestWorld([]*model.Title{archived}, []*model.Patron{patron(10, "a@x")})

	_, err := w.engine.RequestBorrow(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestBorrowDamagedTitleRefused(t *testing.T) {
	damaged := title(1, "Torn", 1)
	damaged.Status = model.TitleStatusDamaged
	w := newTestWorld([]*model.Title{damaged}, []*model.Patron{patron(10, "a@x")})

	_, err := w.engine.RequestBorrow(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveBorrowActivatesAndCommitsCopy(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)

	got, err := w.engine.ApproveBorrow(ctx, tx.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	require.NotNil(t, got.DueAt)
	assert.Equal(t, w.clock.Now().Add(DefaultLoanPeriod), *got.DueAt)
	assert.Equal(t, uint64(99), *got.DecidedBy)
	assert.Equal(t, 1, w.catalog.available(1))

	stored, err := w.catalog.TitleByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.BorrowedBy)
	assert.Equal(t, uint64(10), *stored.BorrowedBy)
}

func TestApproveBorrowOutOfStockLeavesRequestPending(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x")},
	)
	ctx := context.Background()

	first, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)
	second, err := w.engine.RequestBorrow(ctx, 1, 11)
	require.NoError(t, err)

	_, err = w.engine.ApproveBorrow(ctx, first.ID, 99)
	require.NoError(t, err)

	_, err = w.engine.ApproveBorrow(ctx, second.ID, 99)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, model.StatusPending, w.ledger.status(second.ID))
	assert.Equal(t, 0, w.catalog.available(1))
}

func TestApproveBorrowWrongStateRefused(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, w.engine.RejectBorrow(ctx, tx.ID, 99, "no"))

	_, err = w.engine.ApproveBorrow(ctx, tx.ID, 99)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 2, w.catalog.available(1))
}

func TestConcurrentApprovalsCommitOneCopy(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x")},
	)
	ctx := context.Background()

	a, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)
	b, err := w.engine.RequestBorrow(ctx, 1, 11)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uint64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uint64) {
			defer wg.Done()
			_, errs[i] = w.engine.ApproveBorrow(ctx, id, 99)
		}(i, id)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrOutOfStock)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, w.catalog.available(1))

	active, err := w.ledger.ActiveBorrowCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestDoubleApprovalOfSameRequestReleasesCopy(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.engine.ApproveBorrow(ctx, tx.ID, 99)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	// The loser reserved a copy and must have handed it back.
	assert.Equal(t, 1, w.catalog.available(1))
}

func TestReturnBookRestoresStock(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, w.catalog.available(1))

	require.NoError(t, w.engine.ReturnBook(ctx, tx.ID))
	assert.Equal(t, model.StatusCompleted, w.ledger.status(tx.ID))
	assert.Equal(t, 2, w.catalog.available(1))

	stored, err := w.catalog.TitleByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, stored.BorrowedBy)
}

func TestReturnBookTwiceRefused(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, w.engine.ReturnBook(ctx, tx.ID))

	err = w.engine.ReturnBook(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 2, w.catalog.available(1))
}

func TestBorrowDirectOutOfStock(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x")},
	)
	ctx := context.Background()

	_, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	_, err = w.engine.BorrowDirect(ctx, 1, 11)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 0, w.catalog.available(1))
}

func TestPendingQueueNeverStarvesStock(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 2)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x"), patron(12, "c@x")},
	)
	ctx := context.Background()

	var ids []uint64
	for _, pid := range []uint64{10, 11, 12} {
		tx, err := w.engine.RequestBorrow(ctx, 1, pid)
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	// Three queued requests against two copies cost nothing yet.
	assert.Equal(t, 2, w.catalog.available(1))

	_, err := w.engine.ApproveBorrow(ctx, ids[0], 99)
	require.NoError(t, err)
	_, err = w.engine.ApproveBorrow(ctx, ids[1], 99)
	require.NoError(t, err)
	_, err = w.engine.ApproveBorrow(ctx, ids[2], 99)
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Equal(t, 0, w.catalog.available(1))
	assert.Equal(t, model.StatusPending, w.ledger.status(ids[2]))
	require.NoError(t, w.engine.VerifyTitleConsistency(ctx, 1))
}

func TestCancelPendingOwnerOnly(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x")},
	)
	ctx := context.Background()

	tx, err := w.engine.RequestBorrow(ctx, 1, 10)
	require.NoError(t, err)

	err = w.engine.CancelPending(ctx, tx.ID, 11)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.engine.CancelPending(ctx, tx.ID, 10))
	assert.Equal(t, model.StatusCancelled, w.ledger.status(tx.ID))

	err = w.engine.CancelPending(ctx, tx.ID, 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReservationLifecycleNotifies(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestReservation(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, w.notify.count("pending"))

	got, err := w.engine.ApproveReservation(ctx, tx.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, 1, w.notify.count("approved"))
	// Reservation approval never touches stock.
	assert.Equal(t, 1, w.catalog.available(1))
}

func TestRejectReservationCarriesReason(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestReservation(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, w.engine.RejectReservation(ctx, tx.ID, 99, "display copy only"))

	got, err := w.ledger.ByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "display copy only", *got.RejectionReason)
	assert.Equal(t, 1, w.notify.count("rejected"))
}

func TestApproveReservationCheckedOutByOtherPatron(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1)},
		[]*model.Patron{patron(10, "a@x"), patron(11, "b@x")},
	)
	ctx := context.Background()

	_, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)

	tx, err := w.engine.RequestReservation(ctx, 1, 11)
	require.NoError(t, err)

	_, err = w.engine.ApproveReservation(ctx, tx.ID, 99)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, model.StatusPending, w.ledger.status(tx.ID))
}

func TestReturnRequestLifecycle(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)

	req, err := w.engine.RequestReturn(ctx, tx.ID, 10, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", req.Condition)
	assert.Equal(t, model.ReturnStatusPending, req.Status)

	_, err = w.engine.RequestReturn(ctx, tx.ID, 10, "worn", nil)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	require.NoError(t, w.engine.ApproveReturn(ctx, req.ID, 99))
	assert.Equal(t, model.StatusCompleted, w.ledger.status(tx.ID))
	assert.Equal(t, 1, w.catalog.available(1))
}

func TestApproveReturnToleratesAlreadyReturnedLoan(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	req, err := w.engine.RequestReturn(ctx, tx.ID, 10, "good", nil)
	require.NoError(t, err)

	// Front desk processed the book before staff reached the queue.
	require.NoError(t, w.engine.ReturnBook(ctx, tx.ID))

	require.NoError(t, w.engine.ApproveReturn(ctx, req.ID, 99))
	got, err := w.returns.ByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReturnStatusApproved, got.Status)
	assert.Equal(t, 1, w.catalog.available(1))
}

func TestRejectReturnLeavesLoanActive(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	req, err := w.engine.RequestReturn(ctx, tx.ID, 10, "good", nil)
	require.NoError(t, err)

	require.NoError(t, w.engine.RejectReturn(ctx, req.ID, 99, "bring it in person"))
	assert.Equal(t, model.StatusActive, w.ledger.status(tx.ID))
	assert.Equal(t, 0, w.catalog.available(1))
}

func TestForceReturnForDeletedPatron(t *testing.T) {
	w := newTestWorld(
		[]*model.Title{title(1, "Dune", 1), title(2, "Foundation", 1)},
		[]*model.Patron{patron(10, "a@x")},
	)
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)

	// Title 2 carries a stale borrower pointer with no loan behind it.
	ghost := uint64(10)
	at := w.clock.Now()
	require.NoError(t, w.catalog.SetBorrower(ctx, 2, &ghost, &at))

	// While the account still exists the cleanup refuses to run.
	_, err = w.engine.ForceReturnForDeletedPatron(ctx, 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	w.patrons.remove(10)
	report, err := w.engine.ForceReturnForDeletedPatron(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LoansReturned)
	assert.Equal(t, 1, report.OrphansRepaired)
	assert.Equal(t, model.StatusCancelled, w.ledger.status(tx.ID))
	assert.Equal(t, 1, w.catalog.available(1))

	for _, id := range []uint64{1, 2} {
		stored, err := w.catalog.TitleByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, stored.BorrowedBy, "title %d", id)
	}

	// Second pass finds nothing left to do.
	report, err = w.engine.ForceReturnForDeletedPatron(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, report.LoansReturned)
	assert.Zero(t, report.OrphansRepaired)
}

func TestArchiveTitleGates(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)

	err = w.engine.ArchiveTitle(ctx, 1, 99)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, w.engine.ReturnBook(ctx, tx.ID))
	require.NoError(t, w.engine.ArchiveTitle(ctx, 1, 99))

	stored, err := w.catalog.TitleByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.TitleStatusArchived, stored.Status)

	err = w.engine.ArchiveTitle(ctx, 1, 99)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestArchiveTitleStockDriftIsInvariantViolation(t *testing.T) {
	drifted := title(1, "Dune", 3)
	drifted.AvailableStock = 2
	w := newTestWorld([]*model.Title{drifted}, nil)

	err := w.engine.ArchiveTitle(context.Background(), 1, 99)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestVerifyTitleConsistency(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 2)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	require.NoError(t, w.engine.VerifyTitleConsistency(ctx, 1))

	_, err := w.engine.BorrowDirect(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, w.engine.VerifyTitleConsistency(ctx, 1))

	// Drift the stock behind the engine's back.
	require.NoError(t, w.catalog.ReserveCopy(ctx, 1))
	err = w.engine.VerifyTitleConsistency(ctx, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestReservationExpiryWindows(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestReservation(ctx, 1, 10)
	require.NoError(t, err)

	// Well inside the window: nothing due yet.
	w.clock.Advance(12 * time.Hour)
	sent, err := w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	expired, err := w.engine.ExpireStaleReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	// 23h in: inside the 2h reminder lead, exactly one reminder, once.
	w.clock.Advance(11 * time.Hour)
	sent, err = w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	sent, err = w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, w.notify.count("reminder"))

	// 25h in: past the window, exactly one expiry, once.
	w.clock.Advance(2 * time.Hour)
	expired, err = w.engine.ExpireStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, model.StatusExpired, w.ledger.status(tx.ID))
	assert.Equal(t, 1, w.notify.count("expired"))

	expired, err = w.engine.ExpireStaleReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
	sent, err = w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestReminderRetriedAfterSendFailure(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	_, err := w.engine.RequestReservation(ctx, 1, 10)
	require.NoError(t, err)
	w.clock.Advance(23 * time.Hour)

	w.notify.failKind("reminder", context.DeadlineExceeded)
	sent, err := w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	// Broker back up: the flag was never set, so the next sweep delivers.
	w.notify.failKind("reminder", nil)
	sent, err = w.engine.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestDecidedReservationNotExpired(t *testing.T) {
	w := newTestWorld([]*model.Title{title(1, "Dune", 1)}, []*model.Patron{patron(10, "a@x")})
	ctx := context.Background()

	tx, err := w.engine.RequestReservation(ctx, 1, 10)
	require.NoError(t, err)
	_, err = w.engine.ApproveReservation(ctx, tx.ID, 99)
	require.NoError(t, err)

	w.clock.Advance(48 * time.Hour)
	expired, err := w.engine.ExpireStaleReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, model.StatusActive, w.ledger.status(tx.ID))
}
