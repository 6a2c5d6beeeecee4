package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled, BookingCompleted},
	BookingCancelled: {},
	BookingCompleted: {},
}

// LiveBookingStatuses are the statuses that occupy a guide's day.
var LiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

func (s BookingStatus) IsLive() bool {
	return s == BookingPending || s == BookingConfirmed
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Booking is a tourist's reservation of a guide's experience on a date.
type Booking struct {
	ID              string          `bson:"id" json:"id"`
	GuideID         string          `bson:"guideId" json:"guideId"`
	ExperienceID    string          `bson:"experienceId" json:"experienceId"`
	TouristID       string          `bson:"touristId" json:"touristId"`
	BookingDate     string          `bson:"bookingDate" json:"bookingDate"` // YYYY-MM-DD
	StartTime       string          `bson:"startTime" json:"startTime"`     // HH:MM, 24h
	DurationMinutes int             `bson:"durationMinutes" json:"durationMinutes"`
	Guests          int             `bson:"guests" json:"guests"`
	Currency        string          `bson:"currency" json:"currency"`
	BasePrice       decimal.Decimal `bson:"basePrice" json:"basePrice"`
	ServiceFee      decimal.Decimal `bson:"serviceFee" json:"serviceFee"`
	TotalAmount     decimal.Decimal `bson:"totalAmount" json:"totalAmount"`
	SpecialRequests string          `bson:"specialRequests,omitempty" json:"specialRequests,omitempty"`
	Status          BookingStatus   `bson:"status" json:"status"`
	CancelReason    string          `bson:"cancelReason,omitempty" json:"cancelReason,omitempty"`
	CreatedAt       time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time       `bson:"updatedAt" json:"updatedAt"`
	CancelledAt     *time.Time      `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	CompletedAt     *time.Time      `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// ParseStart combines a YYYY-MM-DD date and an HH:MM time in loc.
func ParseStart(date, startTime string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+startTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid booking date/time %q %q: %w", date, startTime, err)
	}
	return t, nil
}

// StartsAt returns the booking's start instant in loc.
func (b *Booking) StartsAt(loc *time.Location) (time.Time, error) {
	return ParseStart(b.BookingDate, b.StartTime, loc)
}

// EndsAt returns start + duration.
func (b *Booking) EndsAt(loc *time.Location) (time.Time, error) {
	start, err := b.StartsAt(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(b.DurationMinutes) * time.Minute), nil
}

// CanView reports whether userID is the tourist or the guide on the booking.
func (b *Booking) CanView(userID, guideID string) bool {
	if userID != "" && userID == b.TouristID {
		return true
	}
	return guideID != "" && guideID == b.GuideID
}
