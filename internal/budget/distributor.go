// Package budget computes the largest feasible, size-capped allocation of a
// capital envelope across ranked trading opportunities.
package budget

import (
	"fmt"
	"sort"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// Limits holds the absolute sizing bounds applied on top of the iterative
// feasibility search.
type Limits struct {
	// MinAmountPerPair is the absolute floor below which no allocation is
	// viable, independent of any opportunity's own minimum notional.
	MinAmountPerPair float64
	// MaxAmountPerPair caps the per-pair allocation to limit concentration
	// when few pairs are eligible.
	MaxAmountPerPair float64
}

// DefaultLimits returns the production sizing bounds.
func DefaultLimits() Limits {
	return Limits{MinAmountPerPair: 10, MaxAmountPerPair: 150}
}

// Distributor runs the iterative feasibility search over a cycle's
// opportunities.
type Distributor struct {
	limits Limits
}

// New creates a Distributor. Non-positive limit fields take the defaults.
func New(limits Limits) *Distributor {
	def := DefaultLimits()
	if limits.MinAmountPerPair <= 0 {
		limits.MinAmountPerPair = def.MinAmountPerPair
	}
	if limits.MaxAmountPerPair <= 0 {
		limits.MaxAmountPerPair = def.MaxAmountPerPair
	}
	return &Distributor{limits: limits}
}

// Distribute sizes the given opportunities against availableBudget.
//
// Opportunities are ranked by confidence (stable, descending) and the search
// starts from including all of them. Each pass computes the per-pair amount,
// capped at MaxAmountPerPair, and tests it against every candidate's minimum
// notional. When some candidates fail, the pool shrinks to the executable
// count, freeing more budget per remaining pair, and the pass repeats. The
// cap is applied before the feasibility test, so a cap-limited amount can
// itself trigger further shrinking.
func (d *Distributor) Distribute(opportunities []domain.TradingOpportunity, availableBudget float64) domain.BudgetDistribution {
	ranked := make([]domain.TradingOpportunity, len(opportunities))
	copy(ranked, opportunities)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	if availableBudget < d.limits.MinAmountPerPair {
		return skipAll(ranked, fmt.Sprintf(
			"available budget %.2f below minimum per-pair amount %.2f", availableBudget, d.limits.MinAmountPerPair))
	}

	pool := ranked
	var skipped []domain.SkippedPair

	for len(pool) > 0 {
		amountPerPair := availableBudget / float64(len(pool))
		if amountPerPair > d.limits.MaxAmountPerPair {
			amountPerPair = d.limits.MaxAmountPerPair
		}

		executable := make([]domain.TradingOpportunity, 0, len(pool))
		for _, opp := range pool {
			if amountPerPair >= opp.MinNotional {
				executable = append(executable, opp)
				continue
			}
			skipped = append(skipped, domain.SkippedPair{
				Symbol: opp.Symbol,
				Reason: fmt.Sprintf("allocation %.2f below minimum notional %.2f (short %.2f)",
					amountPerPair, opp.MinNotional, opp.MinNotional-amountPerPair),
			})
		}

		if len(executable) == len(pool) {
			// Feasible: every remaining pair clears its minimum notional.
			return domain.BudgetDistribution{
				AmountPerPair:   amountPerPair,
				TradesToExecute: executable,
				TotalBudgetUsed: amountPerPair * float64(len(executable)),
				SkippedPairs:    nilToEmpty(skipped),
			}
		}

		// Shrink to the pairs that cleared this pass; the freed budget raises
		// the per-pair amount on the next pass, so survivors keep clearing.
		pool = executable
	}

	return skipAll(ranked, "insufficient total budget")
}

// Validate guards a computed distribution against rounding artifacts before
// orders are placed.
func (d *Distributor) Validate(dist domain.BudgetDistribution) (bool, string) {
	if len(dist.TradesToExecute) == 0 {
		return false, "no executable trades in distribution"
	}
	if dist.AmountPerPair < d.limits.MinAmountPerPair {
		return false, fmt.Sprintf("per-pair amount %.2f below absolute floor %.2f",
			dist.AmountPerPair, d.limits.MinAmountPerPair)
	}
	return true, ""
}

func skipAll(opportunities []domain.TradingOpportunity, reason string) domain.BudgetDistribution {
	skipped := make([]domain.SkippedPair, 0, len(opportunities))
	for _, opp := range opportunities {
		skipped = append(skipped, domain.SkippedPair{Symbol: opp.Symbol, Reason: reason})
	}
	return domain.BudgetDistribution{SkippedPairs: skipped, TradesToExecute: []domain.TradingOpportunity{}}
}

func nilToEmpty(skipped []domain.SkippedPair) []domain.SkippedPair {
	if skipped == nil {
		return []domain.SkippedPair{}
	}
	return skipped
}
