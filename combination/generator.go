/*
Package combination suggests (quantity, rate) pairs whose rounded product is
a plausible payment amount under a budget.

PURPOSE:
  Settlement rates are quoted in multiples of 5. Given a budget, the user
  picks a quantity and rate whose product lands exactly on a rounding step
  (5 or 100 units). This package searches the whole grid and ranks what it
  finds; nothing is random and nothing is heuristic.

GRID:
  quantity: 0.10 .. 500.00 step 0.10 (held as integer hundredths)
  rate:     minRate .. maxRate, multiples of 5 only, maxRate <= MaxRateLimit

  Rate 0 is skipped even when minRate is 0: every product would round to
  0, and a zero payment is never a useful suggestion.

ACCEPTANCE:
  raw     = quantity * rate
  rounded = round(raw / step) * step
  keep iff |raw - rounded| <= 0.01, 0 < rounded <= target

  For a fixed quantity rounded never decreases as rate grows, so the rate
  scan stops at the first product above the target.

RANKING:
  remainder = target - rounded, ascending; ties by quantity then rate.
  At most MaxResults candidates are returned.

  All grid arithmetic is done in integer hundredths, so there is no
  floating drift. A bounded max-heap keeps only the best MaxResults while
  scanning.

EXAMPLE:
  target 5000, rates 100..110, step 5:
    quantity 50.00 x rate 100 = 5000, remainder 0 ranks first.
*/
package combination

import (
	"container/heap"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

const (
	MinQuantityHundredths  = 10    // 0.10
	MaxQuantityHundredths  = 50000 // 500.00
	QuantityStepHundredths = 10    // 0.10

	RateStep = 5

	StepFive    = 5
	StepHundred = 100

	// MaxResults caps the ranked list shown to the user.
	MaxResults = 200

	// MaxRateLimit bounds the rate range a caller may ask for.
	MaxRateLimit = 10000

	// toleranceHundredths is the 0.01 allowed between raw and rounded.
	toleranceHundredths = 1
)

// Request describes one search.
type Request struct {
	TargetAmount   decimal.Decimal
	MinRate        int
	MaxRate        int
	RoundToHundred bool
}

// Step returns the rounding step in whole units.
func (r Request) Step() int64 {
	if r.RoundToHundred {
		return StepHundred
	}
	return StepFive
}

// Validate rejects negative, inverted or oversized bounds.
func (r Request) Validate() error {
	if r.MinRate < 0 || r.MaxRate < 0 || r.MinRate > r.MaxRate || r.MaxRate > MaxRateLimit || r.TargetAmount.IsNegative() {
		return &ledger.RangeError{MinRate: r.MinRate, MaxRate: r.MaxRate, Target: r.TargetAmount}
	}
	return nil
}

// Candidate is one suggested pair.
type Candidate struct {
	Quantity      decimal.Decimal // 2-decimal precision
	Rate          int
	RoundedAmount decimal.Decimal
	Remainder     decimal.Decimal
}

// candidate is the integer form used while scanning.
type candidate struct {
	quantity  int64 // hundredths
	rate      int64
	rounded   int64 // hundredths
	remainder int64 // hundredths
}

// better reports whether a ranks ahead of b.
func better(a, b candidate) bool {
	if a.remainder != b.remainder {
		return a.remainder < b.remainder
	}
	if a.quantity != b.quantity {
		return a.quantity < b.quantity
	}
	return a.rate < b.rate
}

// Generate runs the exhaustive search.
func Generate(req Request) ([]Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Budget in hundredths, floored: a rounded amount is always whole units
	// so flooring the fractional part of the budget never drops a candidate.
	target := req.TargetAmount.Mul(decimal.NewFromInt(100)).Floor().IntPart()
	stepH := req.Step() * 100

	firstRate := int64(req.MinRate)
	if rem := firstRate % RateStep; rem != 0 {
		firstRate += RateStep - rem
	}
	if firstRate == 0 {
		firstRate = RateStep
	}

	top := &boundedHeap{limit: MaxResults}
	for q := int64(MinQuantityHundredths); q <= MaxQuantityHundredths; q += QuantityStepHundredths {
		for rate := firstRate; rate <= int64(req.MaxRate); rate += RateStep {
			raw := q * rate // hundredths
			rounded := roundToStep(raw, stepH)
			if rounded > target {
				// rounded only grows with rate
				break
			}
			if rounded <= 0 {
				continue
			}
			if abs(raw-rounded) > toleranceHundredths {
				continue
			}
			top.offer(candidate{quantity: q, rate: rate, rounded: rounded, remainder: target - rounded})
		}
	}

	found := top.items
	sort.Slice(found, func(i, j int) bool { return better(found[i], found[j]) })

	out := make([]Candidate, len(found))
	for i, c := range found {
		out[i] = Candidate{
			Quantity:      decimal.New(c.quantity, -2),
			Rate:          int(c.rate),
			RoundedAmount: decimal.New(c.rounded, -2),
			Remainder:     req.TargetAmount.Sub(decimal.New(c.rounded, -2)),
		}
	}
	return out, nil
}

// roundToStep rounds a non-negative value to the nearest multiple of step,
// half up.
func roundToStep(v, step int64) int64 {
	return ((v + step/2) / step) * step
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// =============================================================================
// BOUNDED HEAP - keeps the best `limit` candidates, worst on top
// =============================================================================

type boundedHeap struct {
	items []candidate
	limit int
}

func (h *boundedHeap) Len() int           { return len(h.items) }
func (h *boundedHeap) Less(i, j int) bool { return better(h.items[j], h.items[i]) }
func (h *boundedHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap) Push(x any)         { h.items = append(h.items, x.(candidate)) }
func (h *boundedHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

func (h *boundedHeap) offer(c candidate) {
	if h.Len() < h.limit {
		heap.Push(h, c)
		return
	}
	if better(c, h.items[0]) {
		h.items[0] = c
		heap.Fix(h, 0)
	}
}
