// Package money holds the pricing policy of the storefront: tax, delivery
// fee, order totals and the minimum order rule. Everything here is pure.
package money

import (
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"math/rand/v2"
	"strings"
	"time"
)

var (
	TaxRate               = decimal.RequireFromString("0.085")
	FlatDeliveryFee       = decimal.RequireFromString("5.99")
	FreeDeliveryThreshold = decimal.RequireFromString("50.00")
	MinimumOrderAmount    = decimal.RequireFromString("10.00")
)

// Regions without sales tax.
var taxExempt = map[string]bool{
	"OR": true,
	"NH": true,
	"DE": true,
	"MT": true,
	"AK": true,
}

var (
	ErrEmptyCart    = errors.New("Cart is empty")
	ErrBelowMinimum = fmt.Errorf("Minimum order amount is $%s", MinimumOrderAmount.StringFixed(2))
)

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
}

// Line is anything priced per unit.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Round2 rounds half-up on cents. Amounts are never negative here, so
// decimal's half-away-from-zero is the same thing.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func Tax(subtotal decimal.Decimal, region string) decimal.Decimal {
	if taxExempt[strings.ToUpper(strings.TrimSpace(region))] {
		return decimal.Zero
	}
	return Round2(subtotal.Mul(TaxRate))
}

func DeliveryFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return FlatDeliveryFee
}

func OrderTotal(subtotal decimal.Decimal, region string) Totals {
	tax := Tax(subtotal, region)
	fee := DeliveryFee(subtotal)
	return Totals{
		Subtotal:    Round2(subtotal),
		Tax:         Round2(tax),
		DeliveryFee: Round2(fee),
		Total:       Round2(subtotal.Add(tax).Add(fee)),
	}
}

// Subtotal is Σ(unitPrice × quantity). Validation must only ever see a
// subtotal computed here.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

func MinimumOrderCheck(itemCount int, subtotal decimal.Decimal) error {
	if itemCount == 0 {
		return ErrEmptyCart
	}
	if subtotal.LessThan(MinimumOrderAmount) {
		return ErrBelowMinimum
	}
	return nil
}

// GenerateOrderNumber builds a display number ORD-<yyyy>-<6 digits>. The last
// three digits of the millisecond clock are followed by three random digits.
// Uniqueness is carried by the order id, not by this value.
func GenerateOrderNumber(now time.Time) string {
	ms := now.UnixMilli() % 1000
	return fmt.Sprintf("ORD-%04d-%03d%03d", now.Year(), ms, rand.IntN(1000))
}

// FromMinorUnits converts the gateway's integer cents into dollars.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func ToMinorUnits(d decimal.Decimal) int64 {
	return Round2(d).Shift(2).IntPart()
}

// WithinTolerance reports whether two prices differ by at most one cent.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.New(1, -2))
}
