package scenario

import (
	"strings"
	"unicode"
)

// VoiceKind identifies who drives the narrative.
type VoiceKind string

const (
	VoiceFirstPerson  VoiceKind = "first_person"  // I lead, you follow
	VoiceSecondPerson VoiceKind = "second_person" // you lead, I follow
	VoiceSymmetric    VoiceKind = "symmetric"     // we share
)

// Target is the grammatical receiver of the actor's actions.
type Target struct {
	Object     string // "you", "me", "each other"
	Possessive string // "your", "my", "each other's"
}

// Voice bundles the pronouns a section template needs.
type Voice struct {
	Kind    VoiceKind
	Subject string // sentence-initial actor: "I", "You", "We"
	Target  Target
}

var voices = map[VoiceKind]Voice{
	VoiceFirstPerson: {
		Kind:    VoiceFirstPerson,
		Subject: "I",
		Target:  Target{Object: "you", Possessive: "your"},
	},
	VoiceSecondPerson: {
		Kind:    VoiceSecondPerson,
		Subject: "You",
		Target:  Target{Object: "me", Possessive: "my"},
	},
	VoiceSymmetric: {
		Kind:    VoiceSymmetric,
		Subject: "We",
		Target:  Target{Object: "each other", Possessive: "each other's"},
	},
}

// dynamicAliases maps normalized `dynamic` answers to voices.
var dynamicAliases = map[string]VoiceKind{
	"iam/youare": VoiceFirstPerson,
	"iam":        VoiceFirstPerson,
	"ilead":      VoiceFirstPerson,
	"youare/iam": VoiceSecondPerson,
	"youare":     VoiceSecondPerson,
	"youlead":    VoiceSecondPerson,
	"weare":      VoiceSymmetric,
	"weshare":    VoiceSymmetric,
	"equal":      VoiceSymmetric,
}

// VoiceFor returns the voice for a kind, falling back to first person.
func VoiceFor(kind VoiceKind) Voice {
	if v, ok := voices[kind]; ok {
		return v
	}
	return voices[VoiceFirstPerson]
}

// ResolveVoice maps a `dynamic` answer to a voice. Matching ignores case,
// whitespace and punctuation other than the slash. Blank or unknown answers
// resolve to first person with recognized set to false.
func ResolveVoice(dynamic string) (voice Voice, recognized bool) {
	kind, ok := dynamicAliases[normalizeDynamic(dynamic)]
	if !ok {
		return voices[VoiceFirstPerson], false
	}
	return voices[kind], true
}

func normalizeDynamic(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == '/' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
