package ledgerRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"guidebook/models"
	"guidebook/utils"
)

var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger keeps everything in process memory behind one mutex. It backs
// LEDGER_DRIVER=memory and the service tests.
type MemoryLedger struct {
	mu          sync.Mutex
	experiences map[string]models.Experience
	bookings    map[string]models.Booking
	payments    map[string]models.Payment
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		experiences: make(map[string]models.Experience),
		bookings:    make(map[string]models.Booking),
		payments:    make(map[string]models.Payment),
	}
}

func (m *MemoryLedger) Ping(ctx context.Context) error { return nil }

// PutExperience inserts or replaces a catalog entry.
func (m *MemoryLedger) PutExperience(e models.Experience) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiences[e.ID] = e
}

// PutBooking inserts or replaces a booking without any checks.
func (m *MemoryLedger) PutBooking(b models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

func (m *MemoryLedger) GetExperience(ctx context.Context, id string) (*models.Experience, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.experiences[id]
	if !ok {
		return nil, utils.NotFound("experience %s not found", id)
	}
	return &e, nil
}

func (m *MemoryLedger) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, utils.NotFound("booking %s not found", id)
	}
	return &b, nil
}

func (m *MemoryLedger) FindLiveBookings(ctx context.Context, guideID, date string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveBookingsLocked(guideID, date), nil
}

func (m *MemoryLedger) liveBookingsLocked(guideID, date string) []models.Booking {
	var out []models.Booking
	for _, b := range m.bookings {
		if b.GuideID == guideID && b.BookingDate == date && b.Status.IsLive() {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

func (m *MemoryLedger) CountLiveBookings(ctx context.Context, guideID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.liveBookingsLocked(guideID, date)), nil
}

func (m *MemoryLedger) ListBookingsByTourist(ctx context.Context, touristID string) ([]models.Booking, error) {
	return m.filterBookings(func(b models.Booking) bool { return b.TouristID == touristID }), nil
}

func (m *MemoryLedger) ListBookingsByGuide(ctx context.Context, guideID string) ([]models.Booking, error) {
	return m.filterBookings(func(b models.Booking) bool { return b.GuideID == guideID }), nil
}

func (m *MemoryLedger) ListDueForCompletion(ctx context.Context, date string) ([]models.Booking, error) {
	return m.filterBookings(func(b models.Booking) bool {
		return b.Status == models.BookingConfirmed && b.BookingDate <= date
	}), nil
}

func (m *MemoryLedger) filterBookings(keep func(models.Booking) bool) []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

// newest first
func sortBookings(bs []models.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].ID > bs[j].ID
		}
		return bs[i].CreatedAt.After(bs[j].CreatedAt)
	})
}

func (m *MemoryLedger) CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bookings[b.ID]; exists {
		return utils.Conflict("booking %s already exists", b.ID)
	}
	if len(m.liveBookingsLocked(b.GuideID, b.BookingDate)) > 0 {
		return utils.Conflict("guide %s is already booked on %s", b.GuideID, b.BookingDate)
	}
	if p != nil {
		if err := m.checkNewPaymentLocked(p); err != nil {
			return err
		}
	}
	m.bookings[b.ID] = *b
	if p != nil {
		stored := *p
		stored.Metadata = copyMetadata(p.Metadata)
		m.payments[p.ID] = stored
	}
	return nil
}

func (m *MemoryLedger) UpdateBookingStatus(ctx context.Context, id string, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, utils.NotFound("booking %s not found", id)
	}
	if b.Status != t.From {
		return false, nil
	}
	applyTransition(&b, t)
	m.bookings[id] = b
	return true, nil
}

func applyTransition(b *models.Booking, t Transition) {
	b.Status = t.To
	b.UpdatedAt = t.At
	at := t.At
	switch t.To {
	case models.BookingCancelled:
		b.CancelledAt = &at
		b.CancelReason = t.Reason
	case models.BookingCompleted:
		b.CompletedAt = &at
	}
}

func (m *MemoryLedger) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, utils.NotFound("payment %s not found", id)
	}
	return clonePayment(p), nil
}

func (m *MemoryLedger) GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref == "" {
		return nil, utils.NotFound("empty %s reference", gateway)
	}
	for _, p := range m.payments {
		if p.Gateway == gateway && p.ExternalRef == ref {
			return clonePayment(p), nil
		}
	}
	return nil, utils.NotFound("no %s payment with reference %s", gateway, ref)
}

func (m *MemoryLedger) GetLivePayment(ctx context.Context, bookingID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.livePaymentLocked(bookingID); ok {
		return clonePayment(p), nil
	}
	return nil, utils.NotFound("no live payment for booking %s", bookingID)
}

func (m *MemoryLedger) livePaymentLocked(bookingID string) (models.Payment, bool) {
	for _, p := range m.payments {
		if p.BookingID == bookingID && p.Status.IsLive() {
			return p, true
		}
	}
	return models.Payment{}, false
}

func (m *MemoryLedger) checkNewPaymentLocked(p *models.Payment) error {
	if _, exists := m.payments[p.ID]; exists {
		return utils.Conflict("payment %s already exists", p.ID)
	}
	if _, live := m.livePaymentLocked(p.BookingID); live {
		return utils.Conflict("booking %s already has a live payment", p.BookingID)
	}
	return nil
}

func (m *MemoryLedger) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNewPaymentLocked(p); err != nil {
		return err
	}
	stored := *p
	stored.Metadata = copyMetadata(p.Metadata)
	m.payments[p.ID] = stored
	return nil
}

func (m *MemoryLedger) AttachPaymentReference(ctx context.Context, id, ref string, metadata map[string]string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, utils.NotFound("payment %s not found", id)
	}
	for _, other := range m.payments {
		if other.ID != id && other.Gateway == p.Gateway && other.ExternalRef == ref {
			return false, utils.Conflict("%s reference %s already recorded", p.Gateway, ref)
		}
	}
	if p.Status != models.PaymentPending || p.ExternalRef != "" {
		return false, nil
	}
	p.ExternalRef = ref
	p.Metadata = mergeMetadata(copyMetadata(p.Metadata), metadata)
	p.UpdatedAt = at
	m.payments[id] = p
	return true, nil
}

func (m *MemoryLedger) FailPayment(ctx context.Context, id, reason string, metadata map[string]string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, utils.NotFound("payment %s not found", id)
	}
	if p.Status != models.PaymentPending {
		return false, nil
	}
	p.Status = models.PaymentFailed
	p.FailureReason = reason
	p.Metadata = mergeMetadata(copyMetadata(p.Metadata), metadata)
	p.UpdatedAt = at
	settled := at
	p.SettledAt = &settled
	m.payments[id] = p
	return true, nil
}

func (m *MemoryLedger) FlagRefundRequired(ctx context.Context, id string, metadata map[string]string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, utils.NotFound("payment %s not found", id)
	}
	if p.Status != models.PaymentFailed || p.Metadata[models.MetaRefundRequired] == "true" {
		return false, nil
	}
	p.Metadata = mergeMetadata(copyMetadata(p.Metadata), metadata)
	p.Metadata = mergeMetadata(p.Metadata, map[string]string{models.MetaRefundRequired: "true"})
	p.UpdatedAt = at
	m.payments[id] = p
	return true, nil
}

func (m *MemoryLedger) SettlePayment(ctx context.Context, s Settlement) (SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res SettlementResult
	p, ok := m.payments[s.PaymentID]
	if !ok {
		return res, utils.NotFound("payment %s not found", s.PaymentID)
	}
	if p.Status != models.PaymentPending {
		res.Payment = clonePayment(p)
		return res, nil
	}

	p.Status = s.Status
	p.FailureReason = s.FailureReason
	p.Metadata = mergeMetadata(copyMetadata(p.Metadata), s.Metadata)
	p.UpdatedAt = s.At
	settled := s.At
	p.SettledAt = &settled
	res.PaymentApplied = true

	if b, ok := m.bookings[p.BookingID]; ok {
		if s.Status == models.PaymentCompleted {
			if b.Status == models.BookingPending {
				applyTransition(&b, Transition{From: models.BookingPending, To: models.BookingConfirmed, At: s.At})
				m.bookings[b.ID] = b
				res.BookingConfirmed = true
			} else if b.Status == models.BookingCancelled {
				p.Metadata = mergeMetadata(p.Metadata, map[string]string{models.MetaRefundRequired: "true"})
			}
		}
		booking := b
		res.Booking = &booking
	}
	m.payments[p.ID] = p
	res.Payment = clonePayment(p)
	return res, nil
}

func clonePayment(p models.Payment) *models.Payment {
	p.Metadata = copyMetadata(p.Metadata)
	return &p
}
