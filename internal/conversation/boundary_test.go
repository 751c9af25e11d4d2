package conversation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s33g/prompter/internal/catalog"
)

type fixedSource map[string]catalog.Metadata

func (s fixedSource) ResolveMetadata(id string) (catalog.Metadata, bool) {
	m, ok := s[id]
	return m, ok
}

func newTestPredictor(window int) *Predictor {
	resolver := catalog.NewResolver(fixedSource{
		"test/model": {ContextWindow: window},
		"test/big":   {ContextWindow: 1_000_000},
		"test/tpm":   {ContextWindow: 1_000_000, TokensPerMinute: 20},
	}, 50)
	return NewPredictor(resolver, nil, "test/model")
}

// sized builds exchanges whose estimate equals the given sizes at one char per token
func sized(sizes ...int) []Exchange {
	out := make([]Exchange, len(sizes))
	base := time.Unix(1_700_000_000, 0)
	for i, n := range sizes {
		out[i] = Exchange{
			ID:        fmt.Sprintf("ex%d", i),
			UserText:  strings.Repeat("u", n),
			Model:     "test/model",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func ids(list []Exchange) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func TestPredict_AllFit(t *testing.T) {
	p := newTestPredictor(1_000_000)

	b := p.Predict(sized(5, 6, 6), PredictOptions{CharsPerToken: 1, ReservedAllowance: 5})

	assert.Equal(t, []string{"ex0", "ex1", "ex2"}, ids(b.Included))
	assert.Empty(t, b.Excluded)
	assert.Equal(t, 17, b.Stats.PredictedHistoryTokens)
	assert.Equal(t, 3, b.Stats.IncludedCount)
	assert.Equal(t, 1_000_000-5, b.Stats.MaxUsable)
	assert.Equal(t, "test/model", b.Stats.Model)
}

func TestPredict_StopsAtFirstOverflow(t *testing.T) {
	// maxUsable = 15 - 5 = 10
	p := newTestPredictor(15)

	b := p.Predict(sized(5, 6, 6), PredictOptions{CharsPerToken: 1, ReservedAllowance: 5})

	assert.Equal(t, 10, b.Stats.MaxUsable)
	assert.Equal(t, []string{"ex2"}, ids(b.Included))
	assert.Equal(t, []string{"ex0", "ex1"}, ids(b.Excluded))
	assert.Equal(t, 6, b.Stats.PredictedHistoryTokens)
}

func TestPredict_NoSkipAndContinue(t *testing.T) {
	// The 2-token oldest exchange would fit after the 9 is rejected, but
	// admission must stop at the 9.
	p := newTestPredictor(10)

	b := p.Predict(sized(2, 9, 5), PredictOptions{CharsPerToken: 1})

	assert.Equal(t, []string{"ex2"}, ids(b.Included))
	assert.Equal(t, []string{"ex0", "ex1"}, ids(b.Excluded))
}

func TestPredict_EdgeCases(t *testing.T) {
	p := newTestPredictor(100)

	t.Run("empty input", func(t *testing.T) {
		b := p.Predict(nil, PredictOptions{CharsPerToken: 1})
		assert.Empty(t, b.Included)
		assert.Empty(t, b.Excluded)
		assert.Equal(t, "test/model", b.Stats.Model, "falls back to the default model")
	})

	t.Run("allowance swallows the budget", func(t *testing.T) {
		b := p.Predict(sized(1, 1), PredictOptions{CharsPerToken: 1, ReservedAllowance: 100})
		assert.Empty(t, b.Included)
		assert.Equal(t, 0, b.Stats.MaxUsable)
		assert.Len(t, b.Excluded, 2)
	})

	t.Run("allowance above the budget floors at zero", func(t *testing.T) {
		b := p.Predict(sized(1), PredictOptions{CharsPerToken: 1, ReservedAllowance: 500})
		assert.Equal(t, 0, b.Stats.MaxUsable)
		assert.Empty(t, b.Included)
	})

	t.Run("single oversized exchange", func(t *testing.T) {
		b := p.Predict(sized(101), PredictOptions{CharsPerToken: 1})
		assert.Empty(t, b.Included)
		assert.Equal(t, []string{"ex0"}, ids(b.Excluded))
	})

	t.Run("exact fit is admitted", func(t *testing.T) {
		b := p.Predict(sized(40, 60), PredictOptions{CharsPerToken: 1})
		assert.Len(t, b.Included, 2)
		assert.Equal(t, 100, b.Stats.PredictedHistoryTokens)
	})
}

func TestPredict_ModelInference(t *testing.T) {
	p := newTestPredictor(100)

	list := sized(1, 1)
	list[1].Model = "test/big"
	b := p.Predict(list, PredictOptions{CharsPerToken: 1})
	assert.Equal(t, "test/big", b.Stats.Model, "newest exchange's model")
	assert.Equal(t, 1_000_000, b.Stats.MaxContext)

	b = p.Predict(list, PredictOptions{CharsPerToken: 1, Model: "test/tpm"})
	assert.Equal(t, "test/tpm", b.Stats.Model)
	assert.Equal(t, 20, b.Stats.MaxContext, "throughput cap binds")
	assert.Equal(t, 1_000_000, b.Stats.ContextWindow)
	assert.Equal(t, 20, b.Stats.TokensPerMinute)

	b = p.Predict(list, PredictOptions{CharsPerToken: 1, Model: "unknown/model"})
	assert.Equal(t, 50, b.Stats.MaxContext, "unknown model gets the fallback window")
}

func TestPredict_DefaultPredictorModel(t *testing.T) {
	p := NewPredictor(catalog.NewResolver(nil, 100), nil, "")
	b := p.Predict(nil, PredictOptions{})
	assert.Equal(t, FallbackModel, b.Stats.Model)
}

func TestPredict_DoesNotAliasInput(t *testing.T) {
	p := newTestPredictor(100)
	list := sized(1, 1)

	b := p.Predict(list, PredictOptions{CharsPerToken: 1})
	list[1].UserText = "changed"

	assert.Equal(t, "u", b.Included[1].UserText)
}

func TestPredict_Properties(t *testing.T) {
	p := newTestPredictor(60)
	list := sized(7, 3, 12, 1, 9, 4, 15, 2, 8, 6)

	prevIncluded := len(list) + 1
	for ura := 0; ura <= 70; ura++ {
		b := p.Predict(list, PredictOptions{CharsPerToken: 1, ReservedAllowance: ura})

		// Larger allowance never admits more
		require.LessOrEqual(t, len(b.Included), prevIncluded, "ura=%d", ura)
		prevIncluded = len(b.Included)

		// Contiguous newest suffix
		if len(b.Included) > 0 {
			offset := len(list) - len(b.Included)
			for i, e := range b.Included {
				require.Equal(t, list[offset+i].ID, e.ID, "ura=%d", ura)
			}
		}

		// Within budget
		sum := 0
		for _, e := range b.Included {
			sum += p.EstimateExchange(e, 1)
		}
		require.Equal(t, sum, b.Stats.PredictedHistoryTokens)
		require.LessOrEqual(t, sum, 60-ura, "ura=%d", ura)

		// Partition
		require.Equal(t, len(list), len(b.Included)+len(b.Excluded))
	}
}

func TestBoundary_IncludedIDs(t *testing.T) {
	b := &Boundary{Included: sized(1, 2)}
	assert.Equal(t, []string{"ex0", "ex1"}, b.IncludedIDs())
}
