package budget

import (
	"strings"
	"testing"
)

// lenCounter counts one token per byte so expectations stay readable.
var lenCounter = TokenizerFunc(func(s string) int { return len(s) })

func TestTrimHistory(t *testing.T) {
	tests := []struct {
		name        string
		entries     []string
		allowance   int
		maxMessages int
		wantKept    []int
		wantTokens  int
	}{
		{
			name:        "empty history",
			entries:     nil,
			allowance:   100,
			maxMessages: 6,
			wantKept:    []int{},
		},
		{
			name:        "single message fits",
			entries:     []string{"hello"},
			allowance:   100,
			maxMessages: 6,
			wantKept:    []int{0},
			wantTokens:  5,
		},
		{
			name:        "cap keeps newest",
			entries:     []string{"a", "b", "c", "d", "e", "f", "g", "h"},
			allowance:   100,
			maxMessages: 6,
			wantKept:    []int{2, 3, 4, 5, 6, 7},
			wantTokens:  6,
		},
		{
			name:        "allowance stops the walk",
			entries:     []string{"aaaa", "bbbb", "cccc"},
			allowance:   9,
			maxMessages: 6,
			wantKept:    []int{1, 2},
			wantTokens:  8,
		},
		{
			name:        "oversized newest dropped whole",
			entries:     []string{"aa", "bb", strings.Repeat("x", 50)},
			allowance:   10,
			maxMessages: 6,
			wantKept:    []int{0, 1},
			wantTokens:  4,
		},
		{
			name:        "zero allowance",
			entries:     []string{"a"},
			allowance:   0,
			maxMessages: 6,
			wantKept:    []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := TrimHistory(tt.entries, tt.allowance, tt.maxMessages, lenCounter)
			if len(res.Kept) != len(tt.wantKept) {
				t.Fatalf("kept %v, want %v", res.Kept, tt.wantKept)
			}
			for i := range tt.wantKept {
				if res.Kept[i] != tt.wantKept[i] {
					t.Fatalf("kept %v, want %v", res.Kept, tt.wantKept)
				}
			}
			if res.Tokens != tt.wantTokens {
				t.Errorf("tokens = %d, want %d", res.Tokens, tt.wantTokens)
			}
			if res.Tokens > tt.allowance && tt.allowance > 0 {
				t.Errorf("tokens %d exceed allowance %d", res.Tokens, tt.allowance)
			}
			if res.Dropped != len(tt.entries)-len(res.Kept) {
				t.Errorf("dropped = %d, want %d", res.Dropped, len(tt.entries)-len(res.Kept))
			}
		})
	}
}

func TestTrimHistory_RetainsMostRecent(t *testing.T) {
	entries := []string{strings.Repeat("old ", 20), "middle", "latest"}
	res := TrimHistory(entries, 12, 6, lenCounter)
	if len(res.Kept) == 0 || res.Kept[len(res.Kept)-1] != 2 {
		t.Errorf("most recent entry not retained: %v", res.Kept)
	}
}

func TestTrimHistory_NeverSplits(t *testing.T) {
	huge := strings.Repeat("word ", 200)
	res := TrimHistory([]string{huge}, 50, 6, NewEstimator(nil, 0))
	if len(res.Kept) != 0 || res.Oversized != 1 {
		t.Errorf("oversized entry must be dropped whole, got %+v", res)
	}
}
