package match

import (
	"fmt"
	"log"
	"strings"

	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/roster"
)

// Strategy kinds accepted by Strategies.
const (
	KindReflex   = "reflex"
	KindPlanning = "planning"
	KindLearned  = "learned"
)

// Strategies returns the StrategyFunc for kind. Learned agents share table
// and each draw from their own "policy/<agent>" stream of seed; table and
// mode are ignored for the rule-based kinds.
func Strategies(kind string, table *policy.Table, mode policy.Mode, epsilon float64, seed int64, logger *log.Logger) (StrategyFunc, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindReflex:
		return func(roster.ID) policy.Strategy { return policy.Reflex{} }, nil
	case "", KindPlanning:
		return func(roster.ID) policy.Strategy { return policy.Planning{} }, nil
	case KindLearned:
		if table == nil {
			return nil, fmt.Errorf("learned strategy needs a utility table")
		}
		return func(id roster.ID) policy.Strategy {
			src := rng.New(rng.Derive(seed, "policy/"+id.String()))
			return policy.NewLearned(table, mode, src, epsilon, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}
