package budget

// Counter is anything that can count tokens; *Estimator and Tokenizer both
// satisfy it.
type Counter interface {
	Count(text string) int
}

// TrimResult describes which history entries fit an allowance.
type TrimResult struct {
	Kept      []int // indices into the input, chronological
	Tokens    int   // sum of the kept entries' costs
	Dropped   int   // entries left out
	Oversized int   // entries that could never fit on their own
}

// TrimHistory selects the newest entries of a chronological history that
// fit within allowance tokens, keeping at most maxMessages of them.
//
// The walk runs newest-first and stops at the first entry that would push
// the total past the allowance, so the result is a contiguous tail of the
// conversation. An entry whose cost alone exceeds the whole allowance is
// skipped rather than ending the walk; entries are never split.
func TrimHistory(entries []string, allowance, maxMessages int, counter Counter) TrimResult {
	res := TrimResult{}
	if allowance <= 0 || maxMessages <= 0 || len(entries) == 0 {
		res.Dropped = len(entries)
		return res
	}

	kept := make([]int, 0, min(maxMessages, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(kept) < maxMessages; i-- {
		cost := counter.Count(entries[i])
		if cost > allowance {
			res.Oversized++
			continue
		}
		if res.Tokens+cost > allowance {
			break
		}
		res.Tokens += cost
		kept = append(kept, i)
	}

	// back to chronological order
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	res.Kept = kept
	res.Dropped = len(entries) - len(kept)
	return res
}
