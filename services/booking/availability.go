package booking

import (
	"context"
	"time"

	"guidebook/models"
	"guidebook/utils"
)

// IsAvailable reports whether the guide has no live booking on date.
// Granularity is the calendar day: start time and duration are validated but
// do not narrow the check.
func (s *DefaultBookingService) IsAvailable(ctx context.Context, guideID, date, startTime string, durationMinutes int) (bool, error) {
	if guideID == "" {
		return false, utils.Validation("guide id is required")
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return false, utils.Validation("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(models.TimeLayout, startTime); err != nil {
		return false, utils.Validation("start time must be HH:MM")
	}
	if durationMinutes <= 0 {
		return false, utils.Validation("duration must be positive")
	}

	n, err := s.Ledger.CountLiveBookings(ctx, guideID, date)
	if err != nil {
		return false, utils.AsUpstream(err, "count live bookings")
	}
	return n == 0, nil
}
