package ledgerRepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"github.com/go-sql-driver/mysql"
)

const sqlTimeout = 5 * time.Second

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// mysqlDeadlock is ER_LOCK_DEADLOCK. InnoDB has already rolled the victim back.
const mysqlDeadlock = 1213

var _ Ledger = (*SQLLedger)(nil)

// SQLLedger implements Ledger on MySQL through database/sql.
type SQLLedger struct {
	DB *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const experienceColumns = `id, guide_id, title, price_per_person, currency, max_group_size, duration_minutes, status`

const bookingColumns = `id, guide_id, experience_id, tourist_id, booking_date, start_time, duration_minutes, guests, ` +
	`currency, base_price, service_fee, total_amount, special_requests, status, cancel_reason, ` +
	`created_at, updated_at, cancelled_at, completed_at`

const paymentColumns = `id, booking_id, amount, currency, method, gateway, status, external_ref, metadata, ` +
	`failure_reason, created_at, updated_at, settled_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var cancelledAt, completedAt sql.NullTime
	if err := row.Scan(
		&b.ID, &b.GuideID, &b.ExperienceID, &b.TouristID, &b.BookingDate, &b.StartTime,
		&b.DurationMinutes, &b.Guests, &b.Currency, &b.BasePrice, &b.ServiceFee, &b.TotalAmount,
		&b.SpecialRequests, &b.Status, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt,
		&cancelledAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var ref, metadata sql.NullString
	var settledAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.BookingID, &p.Amount, &p.Currency, &p.Method, &p.Gateway, &p.Status,
		&ref, &metadata, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &settledAt,
	); err != nil {
		return nil, err
	}
	p.ExternalRef = ref.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	if settledAt.Valid {
		t := settledAt.Time
		p.SettledAt = &t
	}
	return &p, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode payment metadata: %w", err)
	}
	return string(raw), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func mapSQLError(err error, msg string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return utils.Conflict("%s: duplicate entry", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (r *SQLLedger) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *SQLLedger) GetExperience(ctx context.Context, id string) (*models.Experience, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	var e models.Experience
	err := r.DB.QueryRowContext(ctx, `SELECT `+experienceColumns+` FROM experiences WHERE id = ?`, id).Scan(
		&e.ID, &e.GuideID, &e.Title, &e.PricePerPerson, &e.Currency, &e.MaxGroupSize, &e.DurationMinutes, &e.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NotFound("experience %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching experience %s: %w", id, err)
	}
	return &e, nil
}

func (r *SQLLedger) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return r.getBooking(ctx, r.DB, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLLedger) getBooking(ctx context.Context, q queryer, id string) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NotFound("booking %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching booking %s: %w", id, err)
	}
	return b, nil
}

func (r *SQLLedger) queryBookings(ctx context.Context, where string, args ...any) ([]models.Booking, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("error finding bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("error decoding booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return bookings, nil
}

const liveBookingWhere = `guide_id = ? AND booking_date = ? AND status IN (?, ?)`

func liveBookingArgs(guideID, date string) []any {
	return []any{guideID, date, string(models.BookingPending), string(models.BookingConfirmed)}
}

func (r *SQLLedger) FindLiveBookings(ctx context.Context, guideID, date string) ([]models.Booking, error) {
	return r.queryBookings(ctx, liveBookingWhere, liveBookingArgs(guideID, date)...)
}

func (r *SQLLedger) CountLiveBookings(ctx context.Context, guideID, date string) (int, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE `+liveBookingWhere, liveBookingArgs(guideID, date)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting live bookings: %w", err)
	}
	return n, nil
}

func (r *SQLLedger) ListBookingsByTourist(ctx context.Context, touristID string) ([]models.Booking, error) {
	return r.queryBookings(ctx, `tourist_id = ?`, touristID)
}

func (r *SQLLedger) ListBookingsByGuide(ctx context.Context, guideID string) ([]models.Booking, error) {
	return r.queryBookings(ctx, `guide_id = ?`, guideID)
}

func (r *SQLLedger) ListDueForCompletion(ctx context.Context, date string) ([]models.Booking, error) {
	return r.queryBookings(ctx, `status = ? AND booking_date <= ?`, string(models.BookingConfirmed), date)
}

func (r *SQLLedger) insertPayment(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	var live sql.NullString
	if p.Status.IsLive() {
		live = nullString(p.BookingID)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`, live_booking_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BookingID, p.Amount, p.Currency, string(p.Method), string(p.Gateway), string(p.Status),
		nullString(p.ExternalRef), metadata, p.FailureReason, p.CreatedAt, p.UpdatedAt, nullTime(p.SettledAt), live,
	)
	if err != nil {
		return mapSQLError(err, "insert payment failed")
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (r *SQLLedger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLLedger) CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		// Creates for the same guide and date queue on the guide_days row.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO guide_days (guide_id, booking_date, holds, updated_at) VALUES (?, ?, 1, ?) `+
				`ON DUPLICATE KEY UPDATE holds = holds + 1, updated_at = VALUES(updated_at)`,
			b.GuideID, b.BookingDate, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("lock guide day failed: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM bookings WHERE `+liveBookingWhere+` FOR UPDATE`, liveBookingArgs(b.GuideID, b.BookingDate)...)
		if err != nil {
			return fmt.Errorf("find live bookings failed: %w", err)
		}
		taken := rows.Next()
		rows.Close()
		if taken {
			return utils.Conflict("guide %s is already booked on %s", b.GuideID, b.BookingDate)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.GuideID, b.ExperienceID, b.TouristID, b.BookingDate, b.StartTime, b.DurationMinutes, b.Guests,
			b.Currency, b.BasePrice, b.ServiceFee, b.TotalAmount, b.SpecialRequests, string(b.Status), b.CancelReason,
			b.CreatedAt, b.UpdatedAt, nullTime(b.CancelledAt), nullTime(b.CompletedAt),
		)
		if err != nil {
			return mapSQLError(err, "insert booking failed")
		}
		if p != nil {
			return r.insertPayment(ctx, tx, p)
		}
		return nil
	})
	if isDeadlock(err) {
		return utils.Conflict("guide %s is being booked on %s by another request", b.GuideID, b.BookingDate)
	}
	return err
}

func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDeadlock
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transitionBooking(ctx context.Context, e execer, id string, t Transition) (bool, error) {
	var sb strings.Builder
	sb.WriteString(`UPDATE bookings SET status = ?, updated_at = ?`)
	args := []any{string(t.To), t.At}
	switch t.To {
	case models.BookingCancelled:
		sb.WriteString(`, cancelled_at = ?, cancel_reason = ?`)
		args = append(args, t.At, t.Reason)
	case models.BookingCompleted:
		sb.WriteString(`, completed_at = ?`)
		args = append(args, t.At)
	}
	sb.WriteString(` WHERE id = ? AND status = ?`)
	args = append(args, id, string(t.From))

	res, err := e.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update booking %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLLedger) UpdateBookingStatus(ctx context.Context, id string, t Transition) (bool, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	applied, err := transitionBooking(ctx, r.DB, id, t)
	if err != nil || applied {
		return applied, err
	}
	var exists int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking booking %s: %w", id, err)
	}
	if exists == 0 {
		return false, utils.NotFound("booking %s not found", id)
	}
	return false, nil
}

func (r *SQLLedger) getPayment(ctx context.Context, q queryer, where, what string, args ...any) (*models.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", what, err)
	}
	return p, nil
}

func (r *SQLLedger) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return r.getPayment(ctx, r.DB, `id = ?`, "payment "+id, id)
}

func (r *SQLLedger) GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, utils.NotFound("empty %s reference", gateway)
	}
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return r.getPayment(ctx, r.DB, `gateway = ? AND external_ref = ?`,
		fmt.Sprintf("%s payment with reference %s", gateway, ref), string(gateway), ref)
}

func (r *SQLLedger) GetLivePayment(ctx context.Context, bookingID string) (*models.Payment, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return r.getPayment(ctx, r.DB, `live_booking_id = ?`, "live payment for booking "+bookingID, bookingID)
}

func (r *SQLLedger) CreatePayment(ctx context.Context, p *models.Payment) error {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return r.insertPayment(ctx, tx, p)
	})
}

func (r *SQLLedger) AttachPaymentReference(ctx context.Context, id, ref string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	patch, err := encodeMetadata(metadata)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE payments SET external_ref = ?, metadata = JSON_MERGE_PATCH(COALESCE(metadata, '{}'), ?), updated_at = ? `+
			`WHERE id = ? AND status = ? AND (external_ref IS NULL OR external_ref = '')`,
		ref, patch, at, id, string(models.PaymentPending),
	)
	if err != nil {
		return false, mapSQLError(err, "attach payment reference failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func failPayment(ctx context.Context, e execer, id, reason string, metadata map[string]string, at time.Time) (bool, error) {
	patch, err := encodeMetadata(metadata)
	if err != nil {
		return false, err
	}
	res, err := e.ExecContext(ctx,
		`UPDATE payments SET status = ?, failure_reason = ?, metadata = JSON_MERGE_PATCH(COALESCE(metadata, '{}'), ?), `+
			`updated_at = ?, settled_at = ?, live_booking_id = NULL WHERE id = ? AND status = ?`,
		string(models.PaymentFailed), reason, patch, at, at, id, string(models.PaymentPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLLedger) FailPayment(ctx context.Context, id, reason string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()
	return failPayment(ctx, r.DB, id, reason, metadata, at)
}

func (r *SQLLedger) FlagRefundRequired(ctx context.Context, id string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, sqlTimeout)
	defer cancel()

	patch, err := encodeMetadata(mergeMetadata(copyMetadata(metadata), map[string]string{models.MetaRefundRequired: "true"}))
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE payments SET metadata = JSON_MERGE_PATCH(COALESCE(metadata, '{}'), ?), updated_at = ? `+
			`WHERE id = ? AND status = ? AND COALESCE(JSON_UNQUOTE(JSON_EXTRACT(metadata, '$.refundRequired')), '') <> 'true'`,
		patch, at, id, string(models.PaymentFailed),
	)
	if err != nil {
		return false, fmt.Errorf("failed to flag payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLLedger) SettlePayment(ctx context.Context, s Settlement) (SettlementResult, error) {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	var res SettlementResult
	var bookingID string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if s.Status == models.PaymentFailed {
			applied, err := failPayment(ctx, tx, s.PaymentID, s.FailureReason, s.Metadata, s.At)
			if err != nil || !applied {
				return err
			}
			res.PaymentApplied = true
			return nil
		}

		patch, err := encodeMetadata(s.Metadata)
		if err != nil {
			return err
		}
		upd, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = ?, metadata = JSON_MERGE_PATCH(COALESCE(metadata, '{}'), ?), `+
				`updated_at = ?, settled_at = ? WHERE id = ? AND status = ?`,
			string(s.Status), patch, s.At, s.At, s.PaymentID, string(models.PaymentPending),
		)
		if err != nil {
			return fmt.Errorf("settle payment failed: %w", err)
		}
		if n, err := upd.RowsAffected(); err != nil || n == 0 {
			return err
		}
		res.PaymentApplied = true

		if err := tx.QueryRowContext(ctx, `SELECT booking_id FROM payments WHERE id = ?`, s.PaymentID).Scan(&bookingID); err != nil {
			return fmt.Errorf("load payment booking: %w", err)
		}
		confirmed, err := transitionBooking(ctx, tx, bookingID, Transition{From: models.BookingPending, To: models.BookingConfirmed, At: s.At})
		if err != nil {
			return err
		}
		res.BookingConfirmed = confirmed
		if confirmed {
			return nil
		}
		var bookingStatus string
		err = tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, bookingID).Scan(&bookingStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load booking status: %w", err)
		}
		if models.BookingStatus(bookingStatus) == models.BookingCancelled {
			if _, err := tx.ExecContext(ctx,
				`UPDATE payments SET metadata = JSON_MERGE_PATCH(COALESCE(metadata, '{}'), ?) WHERE id = ?`,
				`{"`+models.MetaRefundRequired+`":"true"}`, s.PaymentID,
			); err != nil {
				return fmt.Errorf("flag refund failed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return SettlementResult{}, fmt.Errorf("settlement transaction failed: %w", err)
	}

	payment, err := r.getPayment(ctx, r.DB, `id = ?`, "payment "+s.PaymentID, s.PaymentID)
	if err != nil {
		return res, err
	}
	res.Payment = payment
	if res.PaymentApplied {
		booking, err := r.getBooking(ctx, r.DB, payment.BookingID)
		if err != nil && !utils.IsKind(err, utils.KindNotFound) {
			return res, err
		}
		res.Booking = booking
	}
	return res, nil
}
