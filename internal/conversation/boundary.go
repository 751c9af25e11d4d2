package conversation

import (
	"github.com/s33g/prompter/internal/catalog"
	"github.com/s33g/prompter/internal/tokens"
)

// FallbackModel is assumed when neither the caller nor the history names a model
const FallbackModel = "openai/gpt-4o-mini"

// Boundary partitions a conversation into the exchanges that will be sent
// with the next turn and those left out. Treat it as immutable.
type Boundary struct {
	Included []Exchange // chronological, a contiguous newest suffix
	Excluded []Exchange // the complementary oldest prefix
	Stats    Stats
}

// Stats describes how a Boundary was computed
type Stats struct {
	Model                  string
	IncludedCount          int
	ExcludedCount          int
	PredictedHistoryTokens int
	UserRequestAllowance   int
	CharsPerToken          float64
	MaxContext             int
	MaxUsable              int
	ContextWindow          int
	TokensPerMinute        int
	DirtyReasons           []string
}

// IncludedIDs returns the ids of the included exchanges, oldest first
func (b *Boundary) IncludedIDs() []string {
	ids := make([]string, len(b.Included))
	for i, e := range b.Included {
		ids[i] = e.ID
	}
	return ids
}

// PredictOptions parameterize a single prediction
type PredictOptions struct {
	CharsPerToken     float64
	ReservedAllowance int
	Model             string // empty: use the newest exchange's model
}

// Predictor computes boundaries by greedy newest-first admission
type Predictor struct {
	resolver     *catalog.Resolver
	estimator    *tokens.Estimator
	defaultModel string
}

// NewPredictor creates a predictor. A nil estimator gets a fresh one; an
// empty defaultModel uses FallbackModel.
func NewPredictor(resolver *catalog.Resolver, estimator *tokens.Estimator, defaultModel string) *Predictor {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	if defaultModel == "" {
		defaultModel = FallbackModel
	}
	return &Predictor{
		resolver:     resolver,
		estimator:    estimator,
		defaultModel: defaultModel,
	}
}

// Resolver returns the budget resolver
func (p *Predictor) Resolver() *catalog.Resolver {
	return p.resolver
}

// EstimateExchange returns the memoized token estimate of one exchange
func (p *Predictor) EstimateExchange(e Exchange, charsPerToken float64) int {
	return p.estimator.EstimatePair(e.ID, e.UserText, e.AssistantText, charsPerToken)
}

// Forget drops the memoized estimate of an exchange that left the history
func (p *Predictor) Forget(id string) {
	p.estimator.Forget(id)
}

// Predict returns the largest newest-contiguous suffix of exchanges that
// fits the model budget minus the reserved allowance. Exchanges must be in
// chronological order.
//
// Admission stops at the first exchange that does not fit; older exchanges
// are never considered past that point, so the history sent is unbroken.
// An exchange is admitted whole or not at all.
func (p *Predictor) Predict(exchanges []Exchange, opts PredictOptions) *Boundary {
	model := opts.Model
	if model == "" {
		if n := len(exchanges); n > 0 && exchanges[n-1].Model != "" {
			model = exchanges[n-1].Model
		} else {
			model = p.defaultModel
		}
	}

	budget := p.resolver.ResolveBudget(model)
	maxUsable := budget.MaxContext - opts.ReservedAllowance
	if maxUsable < 0 {
		maxUsable = 0
	}

	// Walk newest to oldest
	total := 0
	start := len(exchanges)
	for i := len(exchanges) - 1; i >= 0; i-- {
		cost := p.EstimateExchange(exchanges[i], opts.CharsPerToken)
		if total+cost > maxUsable {
			break
		}
		total += cost
		start = i
	}

	included := make([]Exchange, len(exchanges)-start)
	copy(included, exchanges[start:])
	excluded := make([]Exchange, start)
	copy(excluded, exchanges[:start])

	return &Boundary{
		Included: included,
		Excluded: excluded,
		Stats: Stats{
			Model:                  model,
			IncludedCount:          len(included),
			ExcludedCount:          len(excluded),
			PredictedHistoryTokens: total,
			UserRequestAllowance:   opts.ReservedAllowance,
			CharsPerToken:          opts.CharsPerToken,
			MaxContext:             budget.MaxContext,
			MaxUsable:              maxUsable,
			ContextWindow:          budget.ContextWindow,
			TokensPerMinute:        budget.TokensPerMinute,
		},
	}
}
