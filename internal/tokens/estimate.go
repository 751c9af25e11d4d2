// Package tokens estimates token counts from text length.
//
// Estimation is a deliberate heuristic: ceil(bytes / charsPerToken), never
// zero for non-empty text. Real tokenizers only appear in Calibrate, which
// helps pick a ratio and is never consulted when budgeting a request.
package tokens

import (
	"math"
	"sync"
)

// DefaultCharsPerToken is used when a caller passes a non-positive ratio.
const DefaultCharsPerToken = 4.0

// EstimateTokens returns the estimated token count of text. Empty text is 0
// tokens; anything else is at least 1.
func EstimateTokens(text string, charsPerToken float64) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	est := int(math.Ceil(float64(n) / charsPerToken))
	if est < 1 {
		return 1
	}
	return est
}

type pairEntry struct {
	charsPerToken float64
	userLen       int
	assistantLen  int
	tokens        int
}

// Estimator memoizes per-exchange estimates in a side table keyed by
// exchange id. An entry is reused only while the ratio and both text
// lengths are unchanged.
type Estimator struct {
	mu    sync.Mutex
	pairs map[string]pairEntry
}

// NewEstimator creates an empty estimator
func NewEstimator() *Estimator {
	return &Estimator{pairs: make(map[string]pairEntry)}
}

// EstimatePair returns the combined estimate of a user turn and its reply
func (e *Estimator) EstimatePair(id, userText, assistantText string, charsPerToken float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.pairs[id]; ok &&
		entry.charsPerToken == charsPerToken &&
		entry.userLen == len(userText) &&
		entry.assistantLen == len(assistantText) {
		return entry.tokens
	}

	total := EstimateTokens(userText, charsPerToken) + EstimateTokens(assistantText, charsPerToken)
	if id != "" {
		e.pairs[id] = pairEntry{
			charsPerToken: charsPerToken,
			userLen:       len(userText),
			assistantLen:  len(assistantText),
			tokens:        total,
		}
	}
	return total
}

// Forget drops the cached entry for id
func (e *Estimator) Forget(id string) {
	e.mu.Lock()
	delete(e.pairs, id)
	e.mu.Unlock()
}

// Len returns the number of cached entries
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pairs)
}
