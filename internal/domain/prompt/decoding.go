// Package prompt assembles the bounded generation prompt and selects the
// decoding parameters that go with it.
package prompt

import (
	"fmt"
	"strings"
)

// DecodingTier trades reply quality against latency.
type DecodingTier string

const (
	TierFast     DecodingTier = "fast"
	TierBalanced DecodingTier = "balanced"
	TierThorough DecodingTier = "thorough"
)

// DefaultTier is used when the caller names none.
const DefaultTier = TierBalanced

// DecodingParams 推理参数
type DecodingParams struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	NoRepeatNGram     int     `json:"no_repeat_ngram_size"`
	EarlyStopping     bool    `json:"early_stopping"`
	NumBeams          int     `json:"num_beams"`
}

var decodingTable = map[DecodingTier]DecodingParams{
	TierFast: {
		MaxNewTokens:      80,
		Temperature:       0.7,
		TopP:              0.85,
		TopK:              20,
		RepetitionPenalty: 1.15,
		NoRepeatNGram:     3,
		EarlyStopping:     true,
		NumBeams:          1,
	},
	TierBalanced: {
		MaxNewTokens:      150,
		Temperature:       0.8,
		TopP:              0.9,
		TopK:              40,
		RepetitionPenalty: 1.1,
		NoRepeatNGram:     3,
		EarlyStopping:     true,
		NumBeams:          1,
	},
	TierThorough: {
		MaxNewTokens:      300,
		Temperature:       0.85,
		TopP:              0.95,
		TopK:              50,
		RepetitionPenalty: 1.05,
		NoRepeatNGram:     4,
		EarlyStopping:     false,
		NumBeams:          2,
	},
}

// ParseTier parses a tier name; blank means DefaultTier.
func ParseTier(s string) (DecodingTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultTier, nil
	}
	tier := DecodingTier(s)
	if _, ok := decodingTable[tier]; !ok {
		return DefaultTier, fmt.Errorf("unknown decoding tier %q", s)
	}
	return tier, nil
}

// Params returns the fixed parameter set for the tier, or the default
// tier's set for an unknown value.
func (t DecodingTier) Params() DecodingParams {
	if p, ok := decodingTable[t]; ok {
		return p
	}
	return decodingTable[DefaultTier]
}
