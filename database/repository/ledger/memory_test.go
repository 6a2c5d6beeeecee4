package ledgerRepo

import (
	"context"
	"sync"
	"testing"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"github.com/shopspring/decimal"
)

func seedBooking(t *testing.T, m *MemoryLedger, id string, status models.BookingStatus) (*models.Booking, *models.Payment) {
	t.Helper()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	b := &models.Booking{
		ID: id, GuideID: "g1", ExperienceID: "e1", TouristID: "t1", BookingDate: "2026-11-0" + id[len(id)-1:],
		StartTime: "09:00", DurationMinutes: 120, Guests: 2, Currency: "USD",
		BasePrice: decimal.RequireFromString("100"), ServiceFee: decimal.RequireFromString("10"),
		TotalAmount: decimal.RequireFromString("110"), Status: status, CreatedAt: now, UpdatedAt: now,
	}
	p := &models.Payment{
		ID: "pay-" + id, BookingID: id, Amount: b.TotalAmount, Currency: "USD", Method: models.MethodCard,
		Gateway: models.GatewayStripe, Status: models.PaymentPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := m.CreateBookingWithPayment(context.Background(), b, p); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b, p
}

func TestMemoryCreateBookingRejectsSecondLiveBookingSameDay(t *testing.T) {
	m := NewMemoryLedger()
	first, _ := seedBooking(t, m, "b1", models.BookingPending)

	second := *first
	second.ID = "b9"
	err := m.CreateBookingWithPayment(context.Background(), &second, nil)
	if !utils.IsKind(err, utils.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if _, err := m.GetBooking(context.Background(), "b9"); !utils.IsKind(err, utils.KindNotFound) {
		t.Fatalf("rejected booking must not be stored, got %v", err)
	}
}

func TestMemoryCreatePaymentOneLivePerBooking(t *testing.T) {
	m := NewMemoryLedger()
	_, p := seedBooking(t, m, "b1", models.BookingPending)
	ctx := context.Background()

	dup := &models.Payment{ID: "pay-2", BookingID: "b1", Status: models.PaymentPending}
	if err := m.CreatePayment(ctx, dup); !utils.IsKind(err, utils.KindConflict) {
		t.Fatalf("expected Conflict while a live payment exists, got %v", err)
	}

	if ok, err := m.FailPayment(ctx, p.ID, models.FailureSuperseded, map[string]string{models.MetaSupersededBy: "pay-2"}, time.Now()); err != nil || !ok {
		t.Fatalf("fail payment: ok=%v err=%v", ok, err)
	}
	if err := m.CreatePayment(ctx, dup); err != nil {
		t.Fatalf("expected create after supersede, got %v", err)
	}
	live, err := m.GetLivePayment(ctx, "b1")
	if err != nil || live.ID != "pay-2" {
		t.Fatalf("expected pay-2 live, got %+v err=%v", live, err)
	}
}

func TestMemoryAttachPaymentReference(t *testing.T) {
	m := NewMemoryLedger()
	_, p := seedBooking(t, m, "b1", models.BookingPending)
	_, p2 := seedBooking(t, m, "b2", models.BookingPending)
	ctx := context.Background()

	ok, err := m.AttachPaymentReference(ctx, p.ID, "pi_1", map[string]string{"clientSecret": "x"}, time.Now())
	if err != nil || !ok {
		t.Fatalf("attach: ok=%v err=%v", ok, err)
	}
	ok, err = m.AttachPaymentReference(ctx, p.ID, "pi_other", nil, time.Now())
	if err != nil || ok {
		t.Fatalf("second attach must be a no-op, ok=%v err=%v", ok, err)
	}
	if _, err := m.AttachPaymentReference(ctx, p2.ID, "pi_1", nil, time.Now()); !utils.IsKind(err, utils.KindConflict) {
		t.Fatalf("expected Conflict on duplicate reference, got %v", err)
	}

	got, err := m.GetPaymentByReference(ctx, models.GatewayStripe, "pi_1")
	if err != nil || got.ID != p.ID {
		t.Fatalf("lookup by reference: %+v err=%v", got, err)
	}
	if _, err := m.GetPaymentByReference(ctx, models.GatewayMpesa, "pi_1"); !utils.IsKind(err, utils.KindNotFound) {
		t.Fatalf("reference must be scoped to its gateway, got %v", err)
	}
}

func TestMemorySettlePaymentConfirmsPendingBooking(t *testing.T) {
	m := NewMemoryLedger()
	b, p := seedBooking(t, m, "b1", models.BookingPending)
	at := time.Now()

	res, err := m.SettlePayment(context.Background(), Settlement{PaymentID: p.ID, Status: models.PaymentCompleted, At: at})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.PaymentApplied || !res.BookingConfirmed {
		t.Fatalf("expected both writes applied, got %+v", res)
	}
	got, _ := m.GetBooking(context.Background(), b.ID)
	if got.Status != models.BookingConfirmed {
		t.Fatalf("expected confirmed booking, got %s", got.Status)
	}

	again, err := m.SettlePayment(context.Background(), Settlement{PaymentID: p.ID, Status: models.PaymentFailed, At: at})
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if again.PaymentApplied || again.Payment.Status != models.PaymentCompleted {
		t.Fatalf("settled payment must not change, got %+v", again)
	}
}

func TestMemorySettlePaymentFlagsRefundForCancelledBooking(t *testing.T) {
	m := NewMemoryLedger()
	b, p := seedBooking(t, m, "b1", models.BookingPending)
	ctx := context.Background()

	if ok, _ := m.UpdateBookingStatus(ctx, b.ID, Transition{From: models.BookingPending, To: models.BookingCancelled, At: time.Now()}); !ok {
		t.Fatalf("cancel did not apply")
	}
	res, err := m.SettlePayment(ctx, Settlement{PaymentID: p.ID, Status: models.PaymentCompleted, At: time.Now()})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.PaymentApplied || res.BookingConfirmed {
		t.Fatalf("expected payment only, got %+v", res)
	}
	if res.Payment.Metadata[models.MetaRefundRequired] != "true" {
		t.Fatalf("expected refund flag, got %v", res.Payment.Metadata)
	}
	if res.Booking.Status != models.BookingCancelled {
		t.Fatalf("booking must stay cancelled, got %s", res.Booking.Status)
	}
}

func TestMemoryFlagRefundRequired(t *testing.T) {
	m := NewMemoryLedger()
	_, p := seedBooking(t, m, "b1", models.BookingPending)
	ctx := context.Background()

	if ok, err := m.FlagRefundRequired(ctx, p.ID, nil, time.Now()); err != nil || ok {
		t.Fatalf("pending payment must not be flagged: ok=%v err=%v", ok, err)
	}
	if ok, err := m.FailPayment(ctx, p.ID, models.FailureSuperseded, nil, time.Now()); err != nil || !ok {
		t.Fatalf("fail payment: ok=%v err=%v", ok, err)
	}
	ok, err := m.FlagRefundRequired(ctx, p.ID, map[string]string{models.MetaReceipt: "ch_9"}, time.Now())
	if err != nil || !ok {
		t.Fatalf("flag: ok=%v err=%v", ok, err)
	}
	if ok, _ := m.FlagRefundRequired(ctx, p.ID, nil, time.Now()); ok {
		t.Fatalf("second flag should be a no-op")
	}
	got, _ := m.GetPayment(ctx, p.ID)
	if got.Status != models.PaymentFailed || got.Metadata[models.MetaRefundRequired] != "true" || got.Metadata[models.MetaReceipt] != "ch_9" {
		t.Fatalf("unexpected payment %+v", got)
	}
	if _, err := m.FlagRefundRequired(ctx, "missing", nil, time.Now()); !utils.IsKind(err, utils.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryConcurrentSettleHasOneWinner(t *testing.T) {
	m := NewMemoryLedger()
	_, p := seedBooking(t, m, "b1", models.BookingPending)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.SettlePayment(context.Background(), Settlement{PaymentID: p.ID, Status: models.PaymentCompleted, At: time.Now()})
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if res.PaymentApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Fatalf("expected exactly one applied settlement, got %d", applied)
	}
}

func TestMemoryListsNewestFirst(t *testing.T) {
	m := NewMemoryLedger()
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		m.PutBooking(models.Booking{ID: id, TouristID: "t1", GuideID: "g1", Status: models.BookingConfirmed,
			BookingDate: "2026-10-01", CreatedAt: now.Add(time.Duration(i) * time.Minute)})
	}
	list, err := m.ListBookingsByTourist(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", list)
	}

	due, _ := m.ListDueForCompletion(context.Background(), "2026-09-30")
	if len(due) != 0 {
		t.Fatalf("expected nothing due before the booking date, got %d", len(due))
	}
	due, _ = m.ListDueForCompletion(context.Background(), "2026-10-01")
	if len(due) != 3 {
		t.Fatalf("expected 3 due, got %d", len(due))
	}
}
