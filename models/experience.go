package models

import "github.com/shopspring/decimal"

type ExperienceStatus string

const (
	ExperienceActive   ExperienceStatus = "active"
	ExperienceInactive ExperienceStatus = "inactive"
	ExperienceDraft    ExperienceStatus = "draft"
)

// Experience is a guide's bookable offering. The core only reads it.
type Experience struct {
	ID              string           `bson:"id" json:"id"`
	GuideID         string           `bson:"guideId" json:"guideId"`
	Title           string           `bson:"title" json:"title"`
	PricePerPerson  decimal.Decimal  `bson:"pricePerPerson" json:"pricePerPerson"`
	Currency        string           `bson:"currency" json:"currency"`
	MaxGroupSize    int              `bson:"maxGroupSize" json:"maxGroupSize"`
	DurationMinutes int              `bson:"durationMinutes" json:"durationMinutes"`
	Status          ExperienceStatus `bson:"status" json:"status"`
}

func (e *Experience) IsBookable() bool {
	return e.Status == ExperienceActive
}
