package ledgerRepo

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS experiences (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		guide_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		price_per_person DECIMAL(18,4) NOT NULL,
		currency CHAR(3) NOT NULL,
		max_group_size INT NOT NULL,
		duration_minutes INT NOT NULL,
		status VARCHAR(16) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		guide_id VARCHAR(64) NOT NULL,
		experience_id VARCHAR(64) NOT NULL,
		tourist_id VARCHAR(64) NOT NULL,
		booking_date CHAR(10) NOT NULL,
		start_time CHAR(5) NOT NULL,
		duration_minutes INT NOT NULL,
		guests INT NOT NULL,
		currency CHAR(3) NOT NULL,
		base_price DECIMAL(18,4) NOT NULL,
		service_fee DECIMAL(18,4) NOT NULL,
		total_amount DECIMAL(18,4) NOT NULL,
		special_requests TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		cancel_reason VARCHAR(500) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		cancelled_at DATETIME(6) NULL,
		completed_at DATETIME(6) NULL,
		KEY idx_bookings_guide_day (guide_id, booking_date, status),
		KEY idx_bookings_tourist (tourist_id, created_at),
		KEY idx_bookings_status_date (status, booking_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		booking_id VARCHAR(36) NOT NULL,
		amount DECIMAL(18,4) NOT NULL,
		currency CHAR(3) NOT NULL,
		method VARCHAR(16) NOT NULL,
		gateway VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		external_ref VARCHAR(128) NULL,
		metadata JSON NULL,
		failure_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		settled_at DATETIME(6) NULL,
		live_booking_id VARCHAR(36) NULL,
		UNIQUE KEY uq_payments_gateway_ref (gateway, external_ref),
		UNIQUE KEY uq_payments_live_booking (live_booking_id),
		KEY idx_payments_booking (booking_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS guide_days (
		guide_id VARCHAR(64) NOT NULL,
		booking_date CHAR(10) NOT NULL,
		holds INT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (guide_id, booking_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (r *SQLLedger) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create ledger schema: %w", err)
		}
	}
	return nil
}
