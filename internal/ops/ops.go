// Package ops expresses every business operation as a ledger transform: a
// pure function that takes the current ledger and returns the next one, or
// an error leaving the ledger unchanged. Transforms are applied through the
// reconciliation engine, never directly.
package ops

import (
	"errors"
	"time"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/xid"
)

var (
	ErrUnknownSimType      = errors.New("unknown sim type")
	ErrUnknownFuelGrade    = errors.New("unknown fuel grade")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidUnits        = errors.New("unit count must be positive")
	ErrInvalidTarget       = errors.New("weekly target must be positive")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientDamaged = errors.New("insufficient damaged stock")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transform produces the next ledger value from the current one. On error the
// engine discards the result and the ledger stays byte-for-byte unchanged.
type Transform func(domain.Ledger) (domain.Ledger, error)

// ConfirmSale records a completed sale of a tracked type or a delivery
// failure. Tracked types need enough stock for the unit count; the failure
// marker ignores the supplied amount and always records the fixed constant
// with zero units.
func ConfirmSale(at time.Time, typ domain.SimType, amt float64, sims int) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		if !typ.Valid() {
			return l, ErrUnknownSimType
		}
		if typ == domain.SimIssue {
			amt = domain.IssueAmount
			sims = 0
		} else {
			if sims <= 0 {
				return l, ErrInvalidUnits
			}
			if amt < 0 {
				return l, ErrInvalidAmount
			}
			if l.Stock[typ] < sims {
				return l, ErrInsufficientStock
			}
		}

		next := l.Clone()
		next.Tx = append([]domain.Transaction{{
			ID:   xid.Next(),
			Date: at,
			Type: typ,
			Amt:  amt,
			Sims: sims,
		}}, next.Tx...)
		if typ.Tracked() {
			next.Stock[typ] -= sims
		}
		return next, nil
	}
}

// DeleteTransaction removes a sale by id and restores the stock it consumed.
func DeleteTransaction(id int64) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		idx := -1
		for i := range l.Tx {
			if l.Tx[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return l, ErrTransactionNotFound
		}

		removed := l.Tx[idx]
		next := l.Clone()
		next.Tx = append(next.Tx[:idx], next.Tx[idx+1:]...)
		if removed.Type.Tracked() {
			next.Stock[removed.Type] += removed.Sims
		}
		return next, nil
	}
}

// ReceiveStock adds newly delivered inventory.
func ReceiveStock(at time.Time, typ domain.SimType, qty int) Transform {
	return stockChange(at, typ, qty, domain.StockActionReceive)
}

// ReturnStock sends inventory back to the supplier.
func ReturnStock(at time.Time, typ domain.SimType, qty int) Transform {
	return stockChange(at, typ, qty, domain.StockActionReturn)
}

// TransferToDamaged moves inventory into the damaged bucket.
func TransferToDamaged(at time.Time, typ domain.SimType, qty int) Transform {
	return stockChange(at, typ, qty, domain.StockActionToDamaged)
}

// RecoverFromDamaged moves damaged inventory back into sellable stock.
func RecoverFromDamaged(at time.Time, typ domain.SimType, qty int) Transform {
	return stockChange(at, typ, qty, domain.StockActionRecover)
}

// DisposeDamaged writes damaged inventory off entirely.
func DisposeDamaged(at time.Time, typ domain.SimType, qty int) Transform {
	return stockChange(at, typ, qty, domain.StockActionDispose)
}

func stockChange(at time.Time, typ domain.SimType, qty int, action domain.StockAction) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		if !typ.Tracked() {
			return l, ErrUnknownSimType
		}
		if qty <= 0 {
			return l, ErrInvalidQuantity
		}

		switch action {
		case domain.StockActionReturn, domain.StockActionToDamaged:
			if l.Stock[typ] < qty {
				return l, ErrInsufficientStock
			}
		case domain.StockActionRecover, domain.StockActionDispose:
			if l.Damaged[typ] < qty {
				return l, ErrInsufficientDamaged
			}
		}

		next := l.Clone()
		switch action {
		case domain.StockActionReceive:
			next.Stock[typ] += qty
		case domain.StockActionReturn:
			next.Stock[typ] -= qty
		case domain.StockActionToDamaged:
			next.Stock[typ] -= qty
			next.Damaged[typ] += qty
		case domain.StockActionRecover:
			next.Damaged[typ] -= qty
			next.Stock[typ] += qty
		case domain.StockActionDispose:
			next.Damaged[typ] -= qty
		}
		next.StockLog = append([]domain.StockLogEntry{{
			Date:   at,
			Type:   typ,
			Qty:    qty,
			Action: action,
		}}, next.StockLog...)
		return next, nil
	}
}

// RecordFuel logs a fuel purchase. Liters are derived from the grade unit
// price; the odometer delta is user-supplied and may be zero.
func RecordFuel(at time.Time, grade domain.FuelGrade, amount float64, km float64) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		if !grade.Valid() {
			return l, ErrUnknownFuelGrade
		}
		if amount <= 0 {
			return l, ErrInvalidAmount
		}
		if km < 0 {
			km = 0
		}

		next := l.Clone()
		next.FuelLog = append([]domain.FuelLogEntry{{
			ID:     xid.Next(),
			Date:   at,
			Type:   grade,
			Amount: amount,
			Liters: amount / domain.FuelPrices[grade],
			KM:     km,
		}}, next.FuelLog...)
		return next, nil
	}
}

// SetWeeklyTarget replaces the weekly sales target.
func SetWeeklyTarget(target float64) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		if target <= 0 {
			return l, ErrInvalidTarget
		}
		next := l.Clone()
		next.Settings.WeeklyTarget = target
		return next, nil
	}
}

// SetShowWeeklyTarget toggles the target widget.
func SetShowWeeklyTarget(show bool) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		next := l.Clone()
		next.Settings.ShowWeeklyTarget = show
		return next, nil
	}
}

// SetPreferredFuel replaces the preferred fuel grade.
func SetPreferredFuel(grade domain.FuelGrade) Transform {
	return func(l domain.Ledger) (domain.Ledger, error) {
		if !grade.Valid() {
			return l, ErrUnknownFuelGrade
		}
		next := l.Clone()
		next.Settings.PreferredFuel = grade
		return next, nil
	}
}
