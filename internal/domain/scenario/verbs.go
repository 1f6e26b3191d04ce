package scenario

import "strings"

// VerbClass selects the suffix rule used to build a gerund.
type VerbClass int

const (
	ClassRegular   VerbClass = iota // walk → walking
	ClassIrregular                  // looked up in irregularGerunds
	ClassIE                         // tie → tying
	ClassKeepE                      // agree → agreeing
	ClassSilentE                    // tease → teasing
	ClassC                          // panic → panicking
	ClassDouble                     // gag → gagging
)

// irregularGerunds holds forms no suffix rule produces.
var irregularGerunds = map[string]string{
	"be":    "being",
	"singe": "singeing",
	"ski":   "skiing",
}

// verbClassOverrides pins verbs whose spelling misleads the classifier.
// Stressed final syllables double, unstressed ones that look CVC do not.
var verbClassOverrides = map[string]VerbClass{
	"admit":   ClassDouble,
	"begin":   ClassDouble,
	"commit":  ClassDouble,
	"compel":  ClassDouble,
	"control": ClassDouble,
	"equip":   ClassDouble,
	"forbid":  ClassDouble,
	"patrol":  ClassDouble,
	"prefer":  ClassDouble,
	"quit":    ClassDouble,
	"rebel":   ClassDouble,
	"refer":   ClassDouble,
	"regret":  ClassDouble,
	"submit":  ClassDouble,

	"enter":   ClassRegular,
	"happen":  ClassRegular,
	"listen":  ClassRegular,
	"offer":   ClassRegular,
	"open":    ClassRegular,
	"order":   ClassRegular,
	"visit":   ClassRegular,
	"whisper": ClassRegular,
	"worship": ClassRegular,
}

// gerundRules maps each class to its suffix transformation.
var gerundRules = map[VerbClass]func(string) string{
	ClassRegular: func(v string) string { return v + "ing" },
	ClassIrregular: func(v string) string {
		if g, ok := irregularGerunds[v]; ok {
			return g
		}
		return v + "ing"
	},
	ClassIE:      func(v string) string { return v[:len(v)-2] + "ying" },
	ClassKeepE:   func(v string) string { return v + "ing" },
	ClassSilentE: func(v string) string { return v[:len(v)-1] + "ing" },
	ClassC:       func(v string) string { return v + "king" },
	ClassDouble:  func(v string) string { return v + v[len(v)-1:] + "ing" },
}

// objectLastWords end phrases that must take the object after them.
var objectLastWords = map[string]bool{
	"about": true,
	"at":    true,
	"for":   true,
	"from":  true,
	"into":  true,
	"on":    true,
	"over":  true,
	"to":    true,
	"with":  true,
}

// Placeholders an activity phrase may carry to position the target itself.
const (
	objectSlot     = "{you}"
	possessiveSlot = "{your}"
)

// Classify returns the gerund class for a single lowercase verb.
func Classify(verb string) VerbClass {
	if c, ok := verbClassOverrides[verb]; ok {
		return c
	}
	if _, ok := irregularGerunds[verb]; ok {
		return ClassIrregular
	}

	n := len(verb)
	switch {
	case n < 2:
		return ClassRegular
	case strings.HasSuffix(verb, "ie"):
		return ClassIE
	case strings.HasSuffix(verb, "ee"), strings.HasSuffix(verb, "oe"), strings.HasSuffix(verb, "ye"):
		return ClassKeepE
	case verb[n-1] == 'e' && n > 2:
		return ClassSilentE
	case verb[n-1] == 'c':
		return ClassC
	case isShortCVC(verb):
		return ClassDouble
	}
	return ClassRegular
}

// Gerund returns the lowercase -ing form of a single verb.
func Gerund(verb string) string {
	v := strings.ToLower(strings.TrimSpace(verb))
	if v == "" {
		return ""
	}
	return gerundRules[Classify(v)](v)
}

// Progressive renders an activity phrase in continuous aspect with the
// target placed where English puts it:
//
//	("tie up", "you")         → "tying you up"
//	("talk dirty to", "you")  → "talking dirty to you"
//	("pull {your} hair", ...) → "pulling your hair"
//
// A target without an object pronoun leaves the phrase intransitive.
func Progressive(phrase string, target Target) string {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return ""
	}
	head := Gerund(words[0])
	rest := words[1:]

	if hasSlot(rest) {
		out := make([]string, 0, len(words))
		out = append(out, head)
		for _, w := range rest {
			w = strings.ReplaceAll(w, objectSlot, target.Object)
			w = strings.ReplaceAll(w, possessiveSlot, target.Possessive)
			out = append(out, w)
		}
		return strings.Join(out, " ")
	}

	if target.Object == "" {
		return strings.Join(append([]string{head}, rest...), " ")
	}
	if len(rest) > 0 && objectLastWords[strings.ToLower(rest[len(rest)-1])] {
		return strings.Join(append(append([]string{head}, rest...), target.Object), " ")
	}
	return strings.Join(append([]string{head, target.Object}, rest...), " ")
}

func hasSlot(words []string) bool {
	for _, w := range words {
		if strings.Contains(w, objectSlot) || strings.Contains(w, possessiveSlot) {
			return true
		}
	}
	return false
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// isShortCVC reports a one-syllable verb ending consonant-vowel-consonant,
// excluding final w, x and y.
func isShortCVC(v string) bool {
	n := len(v)
	if n < 3 {
		return false
	}
	last := v[n-1]
	if isVowel(last) || last == 'w' || last == 'x' || last == 'y' {
		return false
	}
	if !isVowel(v[n-2]) || isVowel(v[n-3]) {
		return false
	}
	return vowelGroups(v) == 1
}

func vowelGroups(v string) int {
	groups := 0
	inGroup := false
	for i := 0; i < len(v); i++ {
		if isVowel(v[i]) {
			if !inGroup {
				groups++
			}
			inGroup = true
		} else {
			inGroup = false
		}
	}
	return groups
}
