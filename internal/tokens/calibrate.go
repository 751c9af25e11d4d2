package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Calibrator measures how many characters a real tokenizer packs into one
// token, to help operators tune chars_per_token.
type Calibrator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewCalibrator creates a new calibrator
func NewCalibrator() *Calibrator {
	return &Calibrator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// EncodingForModel returns the tiktoken encoding name closest to a model reference
func EncodingForModel(model string) string {
	model = strings.ToLower(model)
	for _, family := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "/o1", "/o3", "/o4"} {
		if strings.Contains(model, family) {
			return "o200k_base"
		}
	}
	// Most other modern models are close enough to cl100k_base
	return "cl100k_base"
}

// Count returns the real token count of text under the given encoding
func (c *Calibrator) Count(text, encoding string) (int, error) {
	enc, err := c.encoder(encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Ratio returns the chars-per-token ratio of sample under the given encoding
func (c *Calibrator) Ratio(sample, encoding string) (float64, error) {
	if sample == "" {
		return 0, fmt.Errorf("calibration sample is empty")
	}
	count, err := c.Count(sample, encoding)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("calibration sample produced no tokens")
	}
	return float64(len(sample)) / float64(count), nil
}

func (c *Calibrator) encoder(encoding string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[encoding]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	c.encoders[encoding] = enc
	return enc, nil
}
