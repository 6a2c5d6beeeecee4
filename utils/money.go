package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit (ISO 4217 exponent 0).
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true,
	"XAF": true, "XOF": true, "XPF": true,
}

// threeDecimalCurrencies use an exponent of 3.
var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true, "OMR": true, "TND": true,
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrencyExponent returns the number of minor-unit digits for code. Unknown codes use 2.
func CurrencyExponent(code string) int32 {
	code = NormalizeCurrency(code)
	switch {
	case zeroDecimalCurrencies[code]:
		return 0
	case threeDecimalCurrencies[code]:
		return 3
	default:
		return 2
	}
}

// RoundMoney rounds half away from zero to the currency's minor unit.
func RoundMoney(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyExponent(currency))
}

// ToMinorUnits converts an amount to an integer count of minor units (cents).
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	exp := CurrencyExponent(currency)
	return amount.Shift(exp).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}

// FormatMoney renders an amount with exactly the currency's minor digits.
func FormatMoney(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(CurrencyExponent(currency))
}
