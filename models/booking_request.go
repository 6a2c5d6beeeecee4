package models

import "github.com/shopspring/decimal"

// CreateBookingRequest is the tourist's booking input.
type CreateBookingRequest struct {
	TouristID       string        `json:"-" validate:"required"`
	ExperienceID    string        `json:"experienceId" validate:"required"`
	BookingDate     string        `json:"bookingDate" validate:"required,datetime=2006-01-02"`
	StartTime       string        `json:"startTime" validate:"required,datetime=15:04"`
	Guests          int           `json:"guests" validate:"required,min=1"`
	Currency        string        `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	PaymentMethod   PaymentMethod `json:"paymentMethod" validate:"required,oneof=card mobile_money wallet"`
	SpecialRequests string        `json:"specialRequests,omitempty" validate:"max=1000"`
}

// CancelBookingRequest carries an optional reason.
type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Quote is the priced breakdown of a prospective booking.
type Quote struct {
	Currency    string          `json:"currency"`
	Guests      int             `json:"guests"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	ServiceFee  decimal.Decimal `json:"serviceFee"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// BookingResponse pairs a booking with the payment row created for it.
type BookingResponse struct {
	Booking *Booking `json:"booking"`
	Payment *Payment `json:"payment,omitempty"`
}
