// Package metrics computes derived figures from a ledger snapshot and a
// reference date. Everything here is pure and recomputed per call; ledger
// histories are small enough that caching would only add staleness.
package metrics

import (
	"math"
	"time"

	"mandoob/backend/internal/domain"
)

type TargetProgress struct {
	WeekSales float64 `json:"weekSales"`
	Target    float64 `json:"target"`
	Percent   int     `json:"percent"`
	Remaining float64 `json:"remaining"`
}

type FuelSummary struct {
	MonthCost        float64 `json:"monthCost"`
	MonthLiters      float64 `json:"monthLiters"`
	MonthKM          float64 `json:"monthKm"`
	AvgEfficiency    float64 `json:"avgEfficiency"`
	WeekCost         float64 `json:"weekCost"`
	PrevWeekCost     float64 `json:"prevWeekCost"`
	NextWeekEstimate float64 `json:"nextWeekEstimate"`
}

// sameDay compares by calendar date in ref's location, not by elapsed time:
// a transaction 2 hours ago on the previous date does not count.
func sameDay(t, ref time.Time) bool {
	ty, tm, td := t.In(ref.Location()).Date()
	ry, rm, rd := ref.Date()
	return ty == ry && tm == rm && td == rd
}

// WeekWindow returns the Sunday 00:00:00 start and the following-Saturday
// end (exclusive: start of next week) containing ref.
func WeekWindow(ref time.Time) (time.Time, time.Time) {
	y, m, d := ref.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, ref.Location())
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

func inWindow(t, start, end time.Time) bool {
	local := t.In(start.Location())
	return !local.Before(start) && local.Before(end)
}

// DayTransactions filters the ledger to transactions on ref's calendar day,
// preserving the newest-first order.
func DayTransactions(l domain.Ledger, ref time.Time) []domain.Transaction {
	out := []domain.Transaction{}
	for _, t := range l.Tx {
		if sameDay(t.Date, ref) {
			out = append(out, t)
		}
	}
	return out
}

// DayTotal sums the amounts of ref's calendar-day transactions.
func DayTotal(l domain.Ledger, ref time.Time) float64 {
	var total float64
	for _, t := range l.Tx {
		if sameDay(t.Date, ref) {
			total += t.Amt
		}
	}
	return total
}

// WeeklyTarget reports sales progress against the weekly target for the
// Sunday-to-Saturday week containing ref. Percent is clamped to [0, 100].
func WeeklyTarget(l domain.Ledger, ref time.Time) TargetProgress {
	start, end := WeekWindow(ref)

	var sales float64
	for _, t := range l.Tx {
		if inWindow(t.Date, start, end) {
			sales += t.Amt
		}
	}

	target := l.Settings.WeeklyTarget
	if target <= 0 {
		target = domain.DefaultWeeklyTarget
	}

	percent := int(math.Round(100 * sales / target))
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	return TargetProgress{
		WeekSales: sales,
		Target:    target,
		Percent:   percent,
		Remaining: math.Max(0, target-sales),
	}
}

// Fuel aggregates month-to-date fuel figures and projects next week's spend.
// The estimate averages the current and previous week when the previous week
// has spend, falls back to the current week alone, then to a fixed constant.
func Fuel(l domain.Ledger, ref time.Time) FuelSummary {
	var sum FuelSummary

	ry, rm, _ := ref.Date()
	weekStart, weekEnd := WeekWindow(ref)
	prevStart := weekStart.AddDate(0, 0, -7)

	for _, f := range l.FuelLog {
		local := f.Date.In(ref.Location())
		if y, m, _ := local.Date(); y == ry && m == rm {
			sum.MonthCost += f.Amount
			sum.MonthLiters += f.Liters
			sum.MonthKM += f.KM
		}
		if inWindow(f.Date, weekStart, weekEnd) {
			sum.WeekCost += f.Amount
		}
		if inWindow(f.Date, prevStart, weekStart) {
			sum.PrevWeekCost += f.Amount
		}
	}

	if sum.MonthLiters > 0 {
		sum.AvgEfficiency = math.Round(sum.MonthKM/sum.MonthLiters*10) / 10
	}

	switch {
	case sum.PrevWeekCost > 0:
		sum.NextWeekEstimate = (sum.WeekCost + sum.PrevWeekCost) / 2
	case sum.WeekCost > 0:
		sum.NextWeekEstimate = sum.WeekCost
	default:
		sum.NextWeekEstimate = domain.FallbackWeeklyFuelEstimate
	}

	return sum
}
