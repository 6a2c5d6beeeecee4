package booking

import (
	"context"

	"guidebook/models"
	"guidebook/utils"

	"github.com/shopspring/decimal"
)

func (s *DefaultBookingService) CalculatePrice(ctx context.Context, experienceID string, guests int, currency string) (*models.Quote, error) {
	if guests < 1 {
		return nil, utils.Validation("guest count must be at least 1")
	}
	exp, err := s.bookableExperience(ctx, experienceID)
	if err != nil {
		return nil, err
	}
	return Quote(exp, guests, currency, s.Policy.FeeRate)
}

func (s *DefaultBookingService) bookableExperience(ctx context.Context, id string) (*models.Experience, error) {
	exp, err := s.Ledger.GetExperience(ctx, id)
	if err != nil {
		return nil, utils.AsUpstream(err, "load experience")
	}
	if !exp.IsBookable() {
		return nil, utils.NotFound("experience %s is not available for booking", id)
	}
	return exp, nil
}

// Quote prices guests on exp. The total is price x guests x (1 + fee rate)
// rounded once to the currency's minor unit. The base is rounded separately
// for display and the fee is whatever remains above it, so
// total == base + fee always holds.
func Quote(exp *models.Experience, guests int, currency string, feeRate decimal.Decimal) (*models.Quote, error) {
	if guests < 1 {
		return nil, utils.Validation("guest count must be at least 1")
	}
	expCurrency := utils.NormalizeCurrency(exp.Currency)
	currency = utils.NormalizeCurrency(currency)
	if currency == "" {
		currency = expCurrency
	}
	if currency != expCurrency {
		return nil, utils.Validation("experience is priced in %s, not %s", expCurrency, currency)
	}

	gross := exp.PricePerPerson.Mul(decimal.NewFromInt(int64(guests)))
	total := utils.RoundMoney(gross.Mul(decimal.NewFromInt(1).Add(feeRate)), currency)
	base := utils.RoundMoney(gross, currency)
	return &models.Quote{
		Currency:    currency,
		Guests:      guests,
		BasePrice:   base,
		ServiceFee:  total.Sub(base),
		TotalAmount: total,
	}, nil
}
