// Package fee computes late and damage fees. All functions are pure.
package fee

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
)

// Policy holds the tariff. Amounts are in VND.
type Policy struct {
	Grace          time.Duration
	HourlyRate     decimal.Decimal
	DailyRate      decimal.Decimal
	MinorDamagePct decimal.Decimal // fraction of book value, e.g. 0.2
	MajorSurcharge decimal.Decimal
	LostSurcharge  decimal.Decimal
}

// DefaultPolicy returns the library's standard tariff.
func DefaultPolicy() Policy {
	return Policy{
		Grace:          60 * time.Minute,
		HourlyRate:     decimal.NewFromInt(2000),
		DailyRate:      decimal.NewFromInt(10000),
		MinorDamagePct: decimal.NewFromFloat(0.2),
		MajorSurcharge: decimal.NewFromInt(15000),
		LostSurcharge:  decimal.NewFromInt(20000),
	}
}

// ceilDiv returns ceil(d/unit) for positive d.
func ceilDiv(d, unit time.Duration) int64 {
	return int64((d + unit - 1) / unit)
}

// LateFee returns the fee for returning at returnedAt a loan due at dueAt.
// Effective delay under 24h is charged per started hour, otherwise per
// started day.
func LateFee(dueAt, returnedAt time.Time, p Policy) decimal.Decimal {
	if !returnedAt.After(dueAt) {
		return decimal.Zero
	}
	delay := returnedAt.Sub(dueAt)
	if delay <= p.Grace {
		return decimal.Zero
	}
	eff := delay - p.Grace
	if eff < 24*time.Hour {
		return p.HourlyRate.Mul(decimal.NewFromInt(ceilDiv(eff, time.Hour)))
	}
	return p.DailyRate.Mul(decimal.NewFromInt(ceilDiv(eff, 24*time.Hour)))
}

// DamageFee returns the charge for the returned condition of a book worth value.
func DamageFee(cond model.Condition, value decimal.Decimal, p Policy) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, errs.New(errs.ErrValidation, "Book value must not be negative")
	}
	switch cond {
	case model.ConditionGood:
		return decimal.Zero, nil
	case model.ConditionMinorDamage:
		return value.Mul(p.MinorDamagePct), nil
	case model.ConditionMajorDamage:
		return value.Add(p.MajorSurcharge), nil
	case model.ConditionLost:
		return value.Add(p.LostSurcharge), nil
	default:
		return decimal.Zero, errs.New(errs.ErrValidation, "Unknown book condition %q", string(cond))
	}
}
