package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy is the release schedule of a logical order's children.
type Policy string

const (
	PolicyImmediate Policy = "IMMEDIATE"
	PolicyTWAP      Policy = "TWAP"
	PolicyVWAP      Policy = "VWAP"
)

// Schedule configures how children are released over time.
type Schedule struct {
	Policy   Policy            `json:"policy"`
	Interval time.Duration     `json:"interval"` // TWAP and VWAP release interval
	Slices   int               `json:"slices"`   // TWAP slice count
	Curve    []decimal.Decimal `json:"curve"`    // VWAP reference volume per interval
}

func (s Schedule) policy() Policy {
	if s.Policy == "" {
		return PolicyImmediate
	}
	return s.Policy
}

func (s Schedule) interval() time.Duration {
	if s.Interval <= 0 {
		return time.Minute
	}
	return s.Interval
}

// Plan turns a logical order into release batches of child quantities.
// Every child respects the notional ceiling; batches after the first are
// released one per schedule interval.
func Plan(req ParentRequest) ([][]decimal.Decimal, error) {
	maxChild, err := MaxChildQty(req.Price, req.RefPrice, req.Ceiling, req.Step)
	if err != nil {
		return nil, err
	}

	var slices []decimal.Decimal
	switch req.Schedule.policy() {
	case PolicyImmediate:
		slices = []decimal.Decimal{req.Qty}
	case PolicyTWAP:
		n := req.Schedule.Slices
		if n <= 0 {
			n = 1
		}
		weights := make([]decimal.Decimal, n)
		for i := range weights {
			weights[i] = decimal.NewFromInt(1)
		}
		slices, err = Apportion(req.Qty, weights, req.Step)
	case PolicyVWAP:
		slices, err = Apportion(req.Qty, req.Schedule.Curve, req.Step)
	default:
		return nil, fmt.Errorf("%w: unknown schedule policy %q", ErrSplit, req.Schedule.Policy)
	}
	if err != nil {
		return nil, err
	}

	var plan [][]decimal.Decimal
	for _, s := range slices {
		if !s.IsPositive() {
			continue
		}
		plan = append(plan, Split(s, maxChild))
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: nothing to release", ErrSplit)
	}
	return plan, nil
}

// MaxChildQty converts a notional ceiling into the largest child quantity,
// rounded down to step. Zero means unlimited.
func MaxChildQty(limitPrice, refPrice, ceiling, step decimal.Decimal) (decimal.Decimal, error) {
	if !ceiling.IsPositive() {
		return decimal.Zero, nil
	}
	price := limitPrice
	if !price.IsPositive() {
		price = refPrice
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no reference price for notional ceiling", ErrSplit)
	}
	q := FloorStep(ceiling.Div(price), step)
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: ceiling %s below one step at price %s", ErrSplit, ceiling, price)
	}
	return q, nil
}

// Split cuts qty into pieces of at most maxChild; the last piece takes the remainder.
func Split(qty, maxChild decimal.Decimal) []decimal.Decimal {
	if !maxChild.IsPositive() || qty.LessThanOrEqual(maxChild) {
		return []decimal.Decimal{qty}
	}
	var out []decimal.Decimal
	rest := qty
	for rest.GreaterThan(maxChild) {
		out = append(out, maxChild)
		rest = rest.Sub(maxChild)
	}
	if rest.IsPositive() {
		out = append(out, rest)
	}
	return out
}

// Apportion divides qty proportionally to weights, rounding each share down to
// step. The last share absorbs the rounding remainder so the shares sum to qty.
func Apportion(qty decimal.Decimal, weights []decimal.Decimal, step decimal.Decimal) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: empty volume curve", ErrSplit)
	}
	total := decimal.Zero
	for _, w := range weights {
		if w.IsNegative() {
			return nil, fmt.Errorf("%w: negative curve weight %s", ErrSplit, w)
		}
		total = total.Add(w)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: volume curve sums to zero", ErrSplit)
	}

	out := make([]decimal.Decimal, len(weights))
	used := decimal.Zero
	for i := 0; i < len(weights)-1; i++ {
		out[i] = FloorStep(qty.Mul(weights[i]).Div(total), step)
		used = used.Add(out[i])
	}
	out[len(out)-1] = qty.Sub(used)
	return out, nil
}

// FloorStep rounds x down to a multiple of step. A zero step leaves x unchanged.
func FloorStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}
