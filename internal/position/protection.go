package position

import (
	"github.com/shopspring/decimal"
)

// merge overlays the set levels of next onto p.
func (p Protection) merge(next Protection) Protection {
	if next.StopLoss.Valid {
		p.StopLoss = next.StopLoss
	}
	if next.TakeProfit.Valid {
		p.TakeProfit = next.TakeProfit
	}
	if next.TrailingOffset.Valid {
		p.TrailingOffset = next.TrailingOffset
	}
	return p
}

// IsZero reports whether no level is set.
func (p Protection) IsZero() bool {
	return !p.StopLoss.Valid && !p.TakeProfit.Valid && !p.TrailingOffset.Valid
}

// resetTrail anchors the trailing stop at the entry price.
func (pos *Position) resetTrail() {
	pos.TrailExtreme = decimal.NullDecimal{}
	pos.TrailThreshold = decimal.NullDecimal{}
	if pos.Protection.TrailingOffset.Valid {
		pos.ratchet(pos.AvgPrice)
	}
}

// ratchet moves the trailing extreme with the mark and tightens the threshold.
// The threshold only ever moves toward the market.
func (pos *Position) ratchet(mark decimal.Decimal) {
	off := pos.Protection.TrailingOffset
	if !off.Valid || pos.NetQty.IsZero() {
		return
	}
	long := pos.NetQty.IsPositive()

	if long {
		if !pos.TrailExtreme.Valid || mark.GreaterThan(pos.TrailExtreme.Decimal) {
			pos.TrailExtreme = decimal.NewNullDecimal(mark)
		}
		candidate := pos.TrailExtreme.Decimal.Sub(off.Decimal)
		if !pos.TrailThreshold.Valid || candidate.GreaterThan(pos.TrailThreshold.Decimal) {
			pos.TrailThreshold = decimal.NewNullDecimal(candidate)
		}
		return
	}

	if !pos.TrailExtreme.Valid || mark.LessThan(pos.TrailExtreme.Decimal) {
		pos.TrailExtreme = decimal.NewNullDecimal(mark)
	}
	candidate := pos.TrailExtreme.Decimal.Add(off.Decimal)
	if !pos.TrailThreshold.Valid || candidate.LessThan(pos.TrailThreshold.Decimal) {
		pos.TrailThreshold = decimal.NewNullDecimal(candidate)
	}
}

// triggered checks the exit levels against mark. Stop-loss and take-profit are
// inclusive; so is the trailing threshold.
func (pos *Position) triggered(mark decimal.Decimal) (CloseReason, bool) {
	if pos.NetQty.IsZero() {
		return "", false
	}
	prot := pos.Protection
	if pos.NetQty.IsPositive() {
		switch {
		case prot.StopLoss.Valid && mark.LessThanOrEqual(prot.StopLoss.Decimal):
			return ReasonStopLoss, true
		case prot.TakeProfit.Valid && mark.GreaterThanOrEqual(prot.TakeProfit.Decimal):
			return ReasonTakeProfit, true
		case pos.TrailThreshold.Valid && mark.LessThanOrEqual(pos.TrailThreshold.Decimal):
			return ReasonTrailing, true
		}
		return "", false
	}
	switch {
	case prot.StopLoss.Valid && mark.GreaterThanOrEqual(prot.StopLoss.Decimal):
		return ReasonStopLoss, true
	case prot.TakeProfit.Valid && mark.LessThanOrEqual(prot.TakeProfit.Decimal):
		return ReasonTakeProfit, true
	case pos.TrailThreshold.Valid && mark.GreaterThanOrEqual(pos.TrailThreshold.Decimal):
		return ReasonTrailing, true
	}
	return "", false
}

// evaluate revalues pos at mark, ratchets the trail and returns at most one close
// signal per position until ReleaseClosing.
func (pos *Position) evaluate(mark decimal.Decimal) *CloseSignal {
	if !mark.IsPositive() || pos.NetQty.IsZero() {
		return nil
	}
	pos.Mark = mark
	pos.UnrealizedPnL = mark.Sub(pos.AvgPrice).Mul(pos.NetQty)
	pos.ratchet(mark)
	if pos.Closing {
		return nil
	}
	reason, ok := pos.triggered(mark)
	if !ok {
		return nil
	}
	pos.Closing = true
	return &CloseSignal{
		Symbol:   pos.Symbol,
		Strategy: pos.Strategy,
		Side:     pos.Side().Opposite(),
		Qty:      pos.NetQty.Abs(),
		Mark:     mark,
		Reason:   reason,
	}
}
