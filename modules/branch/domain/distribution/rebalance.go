package distribution

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyDistribution = errors.New("distribution has no data: all values are zero")
	ErrNegativeValue     = errors.New("distribution value must not be negative")
	ErrFractionalCount   = errors.New("distribution count must be a whole number")
	ErrUnknownBucket     = errors.New("unknown distribution bucket")
)

const (
	syntheticCeiling = 60
	syntheticFloor   = 5
)

type Mode string

const (
	Counts      Mode = "count"
	Percentages Mode = "percent"
)

// Input holds raw values for some (possibly not all) of a kind's labels.
type Input struct {
	Mode   Mode
	Values map[string]decimal.Decimal
}

type Bucket struct {
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
}

// Snapshot is the complete replacement set for one (unit, kind).
type Snapshot struct {
	Kind      Kind     `json:"kind"`
	Buckets   []Bucket `json:"buckets"`
	Synthetic bool     `json:"synthetic"`
}

func (s Snapshot) Total() int {
	total := 0
	for _, b := range s.Buckets {
		total += b.Percentage
	}
	return total
}

func (s Snapshot) Percentages() map[string]int {
	out := make(map[string]int, len(s.Buckets))
	for _, b := range s.Buckets {
		out[b.Label] = b.Percentage
	}
	return out
}

// Strategy produces a snapshot covering every declared label of spec.
type Strategy interface {
	Rebalance(spec Spec, in Input) (Snapshot, error)
}

// Real derives percentages from supplied counts or percentages.
type Real struct{}

func (Real) Rebalance(spec Spec, in Input) (Snapshot, error) {
	values := make([]decimal.Decimal, len(spec.Labels))
	total := decimal.Zero
	for label, v := range in.Values {
		if !spec.Has(label) {
			return Snapshot{}, fmt.Errorf("%w %q for %s", ErrUnknownBucket, label, spec.Kind)
		}
		if v.IsNegative() {
			return Snapshot{}, fmt.Errorf("%w: %s=%s", ErrNegativeValue, label, v)
		}
		if in.Mode != Percentages && !v.Equal(v.Truncate(0)) {
			return Snapshot{}, fmt.Errorf("%w: %s=%s", ErrFractionalCount, label, v)
		}
	}
	for i, label := range spec.Labels {
		if v, ok := in.Values[label]; ok {
			values[i] = v
		}
		total = total.Add(values[i])
	}
	if total.IsZero() {
		return Snapshot{}, ErrEmptyDistribution
	}

	shares := apportion(values, total)
	snap := Snapshot{Kind: spec.Kind, Buckets: make([]Bucket, len(spec.Labels))}
	for i, label := range spec.Labels {
		snap.Buckets[i] = Bucket{Label: label, Percentage: shares[i]}
	}
	return snap, nil
}

// apportion converts values to whole percentages of total. Each share is the
// exact share rounded half-up; the rounding drift is then settled one point at
// a time on the buckets with the largest residual (label order breaks ties),
// so the result always sums to 100.
func apportion(values []decimal.Decimal, total decimal.Decimal) []int {
	hundred := decimal.NewFromInt(100)
	shares := make([]int, len(values))
	residuals := make([]decimal.Decimal, len(values))
	sum := 0
	for i, v := range values {
		exact := v.Mul(hundred).Div(total)
		rounded := exact.Round(0)
		shares[i] = int(rounded.IntPart())
		residuals[i] = exact.Sub(rounded)
		sum += shares[i]
	}

	diff := 100 - sum
	if diff == 0 {
		return shares
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := residuals[order[a]], residuals[order[b]]
		if diff > 0 {
			return ra.GreaterThan(rb)
		}
		return ra.LessThan(rb)
	})

	for step := 0; diff != 0; step++ {
		i := order[step%len(order)]
		if diff > 0 {
			shares[i]++
			diff--
			continue
		}
		if shares[i] > 0 {
			shares[i]--
			diff++
		}
	}
	return shares
}

// SyntheticFill generates placeholder percentages for units that have no
// detail rows yet. Every bucket but the last draws a share in
// [min(5, cap), cap] with cap = min(remaining, 60); the last bucket takes
// whatever is left.
type SyntheticFill struct {
	Rand *rand.Rand
}

func (s SyntheticFill) Rebalance(spec Spec, _ Input) (Snapshot, error) {
	if len(spec.Labels) == 0 {
		return Snapshot{}, fmt.Errorf("distribution kind %q has no buckets", spec.Kind)
	}
	rng := s.Rand
	if rng == nil {
		return Snapshot{}, errors.New("synthetic fill requires a random source")
	}

	snap := Snapshot{Kind: spec.Kind, Synthetic: true, Buckets: make([]Bucket, len(spec.Labels))}
	remaining := 100
	last := len(spec.Labels) - 1
	for i, label := range spec.Labels {
		share := remaining
		if i < last {
			hi := min(remaining, syntheticCeiling)
			lo := min(syntheticFloor, hi)
			share = lo + rng.Intn(hi-lo+1)
		}
		remaining -= share
		snap.Buckets[i] = Bucket{Label: label, Percentage: share}
	}
	return snap, nil
}
