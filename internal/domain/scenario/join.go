package scenario

import "strings"

// JoinList renders values as an English list in the given order:
// 1 → "a", 2 → "a and b", 3+ → "a, b, and c". Blank values are dropped
// before counting, and an empty result means the clause should be omitted.
func JoinList(values []string) string {
	items := cleanList(values)

	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}

	var sb strings.Builder
	for i, item := range items {
		switch {
		case i == 0:
		case i == len(items)-1:
			sb.WriteString(", and ")
		default:
			sb.WriteString(", ")
		}
		sb.WriteString(item)
	}
	return sb.String()
}

// cleanList trims every value and drops the blank ones.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
