package prompt

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is matched by every *BudgetError.
var ErrBudgetExceeded = errors.New("prompt budget exceeded")

// TokenBudget splits the model context window into fixed segments,
// history, and room for the reply.
type TokenBudget struct {
	Total             int `mapstructure:"total" json:"total"`
	FixedAllowance    int `mapstructure:"fixed_allowance" json:"fixed_allowance"`
	ResponseAllowance int `mapstructure:"response_allowance" json:"response_allowance"`
	MaxMessages       int `mapstructure:"max_messages" json:"max_messages"`
}

// DefaultTokenBudget 默认预算
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		Total:             2048,
		FixedAllowance:    768,
		ResponseAllowance: 300,
		MaxMessages:       6,
	}
}

// Validate checks the segments fit inside the total.
func (b TokenBudget) Validate() error {
	switch {
	case b.Total <= 0:
		return fmt.Errorf("total must be positive, got %d", b.Total)
	case b.FixedAllowance <= 0:
		return fmt.Errorf("fixed_allowance must be positive, got %d", b.FixedAllowance)
	case b.ResponseAllowance <= 0:
		return fmt.Errorf("response_allowance must be positive, got %d", b.ResponseAllowance)
	case b.MaxMessages < 0:
		return fmt.Errorf("max_messages must not be negative, got %d", b.MaxMessages)
	case b.FixedAllowance+b.ResponseAllowance > b.Total:
		return fmt.Errorf("fixed_allowance (%d) + response_allowance (%d) exceeds total (%d)",
			b.FixedAllowance, b.ResponseAllowance, b.Total)
	}
	return nil
}

// BudgetError reports fixed segments that do not fit their allowance.
type BudgetError struct {
	FixedTokens    int
	FixedAllowance int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: fixed segments need %d tokens, allowance is %d",
		ErrBudgetExceeded, e.FixedTokens, e.FixedAllowance)
}

// Is lets errors.Is(err, ErrBudgetExceeded) match.
func (e *BudgetError) Is(target error) bool { return target == ErrBudgetExceeded }
