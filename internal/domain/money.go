package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrCurrencyMismatch is returned when combining amounts in different currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money holds an amount in the currency's smallest unit together with its ISO 4217 code.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney normalises the currency code.
func NewMoney(amount int64, code string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(code))}
}

// Add sums two amounts. An empty currency adopts the other operand's currency.
func (m Money) Add(other Money) (Money, error) {
	switch {
	case m.Currency == "":
		m.Currency = other.Currency
	case other.Currency != "" && other.Currency != m.Currency:
		return Money{}, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	m.Amount += other.Amount
	return m, nil
}

// Decimal converts the minor-unit amount to a major-unit decimal using the currency's scale.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(minorUnitScale(m.Currency)))
}

// String renders the amount as "12.34 USD".
func (m Money) String() string {
	scale := int32(minorUnitScale(m.Currency))
	if m.Currency == "" {
		return m.Decimal().StringFixed(scale)
	}
	return m.Decimal().StringFixed(scale) + " " + m.Currency
}

// Format renders the amount with the currency symbol for the given locale, e.g. "$99.99".
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return m.String()
	}
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(m.Decimal().InexactFloat64())))
}

func minorUnitScale(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}
