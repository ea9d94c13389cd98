// Package engine computes trade-up expected values: ten input items
// of one rarity roll into one output of the rarity above, with the
// output's float projected from the normalised input average. The
// calculator is pure computation; prices, float ranges and target
// catalogs come in through narrow interfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/metrics"
)

const (
	// MaxInputs is the number of slots a trade-up consumes.
	MaxInputs = 10

	// DefaultBuyerToNetRate converts buyer prices to seller net
	// (15% market commission).
	DefaultBuyerToNetRate = 1.15
)

// Fatal request problems, surfaced to callers as validation errors.
var (
	ErrNoInputs      = errors.New("engine: no input slots")
	ErrTooManyInputs = fmt.Errorf("engine: more than %d input slots", MaxInputs)
	ErrNoTargets     = errors.New("engine: no valid target collection")
	ErrBadCommission = errors.New("engine: buyerToNetRate must be > 1")
)

// PriceSource answers buyer-price lookups. A nil price without error
// means the market had no usable number for the name.
type PriceSource interface {
	PriceUSD(ctx context.Context, marketHashName string) (*float64, error)
}

// RangeSource resolves a base name to its float range.
type RangeSource interface {
	RangeFor(ctx context.Context, baseName string) (items.WearRange, bool)
}

// TargetSource resolves a collection id to its output entries.
type TargetSource interface {
	TargetCollection(ctx context.Context, collectionID string) (TargetCollection, bool)
}

// Calculator runs trade-up EV computations.
type Calculator struct {
	Prices  PriceSource
	Ranges  RangeSource
	Targets TargetSource

	// BuyerToNetRate is the default commission divisor when a request
	// carries none. Zero means DefaultBuyerToNetRate.
	BuyerToNetRate float64
}

// NewCalculator wires a calculator from its three sources.
func NewCalculator(prices PriceSource, ranges RangeSource, targets TargetSource) *Calculator {
	return &Calculator{Prices: prices, Ranges: ranges, Targets: targets}
}

// Calculate runs the full EV computation for one request.
func (c *Calculator) Calculate(ctx context.Context, req Request) (*Result, error) {
	n := len(req.Inputs)
	if n == 0 {
		return nil, ErrNoInputs
	}
	if n > MaxInputs {
		return nil, ErrTooManyInputs
	}
	rate, err := c.commissionRate(req.Options)
	if err != nil {
		return nil, err
	}

	res := &Result{
		NormalizationMode: "normalized",
		CollectionCounts:  make(map[string]int, 4),
		BuyerToNetRate:    rate,
		Inputs:            make([]InputReport, n),
	}

	// Steps 1-2: clamp floats, average, per-slot normalisation.
	var sumFloat, sumNorm float64
	normalizable := true
	for i, slot := range req.Inputs {
		f := clamp(slot.Float, 0, 1)
		sumFloat += f
		res.Inputs[i] = InputReport{
			MarketHashName: slot.MarketHashName,
			Float:          f,
			CollectionID:   slot.CollectionID,
		}

		r, ok := c.slotRange(ctx, slot)
		if !ok || r.Max <= r.Min {
			normalizable = false
			res.warn("no usable float range for %q; falling back to simple average", slot.MarketHashName)
			continue
		}
		nf := clamp((f-r.Min)/(r.Max-r.Min), 0, 1)
		res.Inputs[i].NormalizedFloat = &nf
		sumNorm += nf
	}
	res.AverageFloat = sumFloat / float64(n)
	if normalizable {
		res.NormalizedAverageFloat = sumNorm / float64(n)
	} else {
		res.NormalizationMode = "simple"
		res.NormalizedAverageFloat = res.AverageFloat
	}

	// Step 3: per-collection contribution.
	for _, slot := range req.Inputs {
		res.CollectionCounts[slot.CollectionID]++
	}

	// Step 4: project every output entry of every resolved target.
	// A collection listed twice counts once, first occurrence wins,
	// whether repeated verbatim or under an alias of the same target;
	// outcome probabilities partition the input mass.
	overrides := indexOverrides(req.TargetOverrides)
	seen := make(map[string]bool, len(req.TargetCollectionIDs))
	validTargets := 0
	for _, id := range req.TargetCollectionIDs {
		if seen[strings.ToLower(id)] {
			res.warn("target collection %q requested more than once; skipped", id)
			continue
		}
		seen[strings.ToLower(id)] = true
		target, ok := c.Targets.TargetCollection(ctx, id)
		if !ok {
			res.warn("target collection %q not found; skipped", id)
			continue
		}
		if len(target.Entries) == 0 {
			res.warn("target collection %q has no output entries; skipped", id)
			continue
		}
		if key := strings.ToLower(target.ID); key != strings.ToLower(id) {
			if seen[key] {
				res.warn("target collection %q requested more than once; skipped", id)
				continue
			}
			seen[key] = true
		}
		validTargets++

		pc := float64(countFor(res.CollectionCounts, target.ID, id)) / float64(n)
		prob := pc / float64(len(target.Entries))
		for _, e := range target.Entries {
			res.Outcomes = append(res.Outcomes,
				buildOutcome(res, target, e, prob, overrides[overrideKey(id, e.BaseName)]))
		}
	}
	if validTargets == 0 {
		return nil, ErrNoTargets
	}

	// Steps 5-6: price joins, fanned out through the fetcher.
	c.fillPrices(ctx, res, req.Inputs, rate)

	// Step 7: aggregate report.
	for _, in := range res.Inputs {
		if in.NetPrice != nil {
			res.TotalInputNet += *in.NetPrice
		}
	}
	for _, o := range res.Outcomes {
		if o.NetPrice != nil {
			res.TotalOutcomeNet += o.Probability * *o.NetPrice
		}
	}
	res.ExpectedValue = res.TotalOutcomeNet - res.TotalInputNet
	res.MaxBudgetPerSlot = sanitizeFloat(res.TotalOutcomeNet / float64(n))
	for _, o := range res.Outcomes {
		if o.NetPrice != nil && *o.NetPrice > res.TotalInputNet {
			res.PositiveOutcomeProbability += o.Probability
		}
	}

	metrics.Calculations.Inc()
	return res, nil
}

func (c *Calculator) commissionRate(opts *Options) (float64, error) {
	rate := c.BuyerToNetRate
	if rate == 0 {
		rate = DefaultBuyerToNetRate
	}
	if opts != nil && opts.BuyerToNetRate != 0 {
		rate = opts.BuyerToNetRate
	}
	if rate <= 1 {
		return 0, ErrBadCommission
	}
	return rate, nil
}

// slotRange prefers the slot-provided float range over the catalog.
func (c *Calculator) slotRange(ctx context.Context, slot InputSlot) (items.WearRange, bool) {
	if slot.MinFloat != nil && slot.MaxFloat != nil {
		return items.WearRange{Min: *slot.MinFloat, Max: *slot.MaxFloat}, true
	}
	return c.Ranges.RangeFor(ctx, items.BaseName(slot.MarketHashName))
}

// buildOutcome projects the normalised average onto one output entry.
// The roll is computed over the entry's natural range; an override
// range narrows where the roll must land, and a roll projected
// outside it is clamped with WithinRange reporting the miss.
func buildOutcome(res *Result, target TargetCollection, e TargetEntry, prob float64, ov *TargetOverride) Outcome {
	effMin, effMax := e.MinFloat, e.MaxFloat
	if ov != nil && ov.MinFloat != nil {
		effMin = *ov.MinFloat
	}
	if ov != nil && ov.MaxFloat != nil {
		effMax = *ov.MaxFloat
	}

	raw := res.NormalizedAverageFloat*(e.MaxFloat-e.MinFloat) + e.MinFloat
	within := raw >= effMin && raw <= effMax
	roll := clamp(raw, effMin, effMax)
	if !within {
		res.warn("outcome %q: projected float %.4f outside [%.4f, %.4f]; clamped", e.BaseName, raw, effMin, effMax)
	}

	ext := items.BucketFor(roll)
	if ov != nil && ov.Exterior != "" {
		ext = ov.Exterior
	}
	name := items.MarketHashName(e.BaseName, ext)
	if ov != nil && ov.MarketHashName != "" {
		name = ov.MarketHashName
	}

	o := Outcome{
		CollectionID:   target.ID,
		CollectionName: target.Name,
		BaseName:       e.BaseName,
		MinFloat:       effMin,
		MaxFloat:       effMax,
		RollFloat:      roll,
		Exterior:       ext,
		WearRange:      ext.Range(),
		Probability:    prob,
		MarketHashName: name,
		WithinRange:    within,
	}
	if ov != nil && ov.Price != nil {
		o.BuyerPrice = ov.Price
	}
	return o
}

// fillPrices joins buyer prices for every outcome and input that has
// no override, concurrently. Lookup failures never fail the
// calculation; the affected entry keeps a nil net price and carries
// the error text.
func (c *Calculator) fillPrices(ctx context.Context, res *Result, slots []InputSlot, rate float64) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		if o.BuyerPrice != nil {
			net := *o.BuyerPrice / rate
			o.NetPrice = &net
			continue
		}
		name := o.MarketHashName
		g.Go(func() error {
			p, err := c.Prices.PriceUSD(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				o.PriceError = err.Error()
			case p == nil:
				o.PriceError = "no market price"
			default:
				net := *p / rate
				o.BuyerPrice = p
				o.NetPrice = &net
			}
			return nil
		})
	}

	for i := range res.Inputs {
		in := &res.Inputs[i]
		if ov := slots[i].PriceOverrideNet; ov != nil {
			in.NetPrice = ov
			continue
		}
		name := in.MarketHashName
		g.Go(func() error {
			p, err := c.Prices.PriceUSD(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				in.PriceError = err.Error()
			case p == nil:
				in.PriceError = "no market price"
			default:
				net := *p / rate
				in.BuyerPrice = p
				in.NetPrice = &net
			}
			return nil
		})
	}

	g.Wait()
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// countFor matches slot collection ids against a target, accepting
// either the resolved id or the id the request asked for.
func countFor(counts map[string]int, resolvedID, requestedID string) int {
	total := 0
	for id, n := range counts {
		if strings.EqualFold(id, resolvedID) || strings.EqualFold(id, requestedID) {
			total += n
		}
	}
	return total
}

func overrideKey(collectionID, baseName string) string {
	return strings.ToLower(collectionID) + "\x00" + strings.ToLower(baseName)
}

func indexOverrides(ovs []TargetOverride) map[string]*TargetOverride {
	if len(ovs) == 0 {
		return nil
	}
	m := make(map[string]*TargetOverride, len(ovs))
	for i := range ovs {
		m[overrideKey(ovs[i].CollectionID, ovs[i].BaseName)] = &ovs[i]
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// sanitizeFloat replaces NaN/Inf with 0 to keep results marshalable.
func sanitizeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
