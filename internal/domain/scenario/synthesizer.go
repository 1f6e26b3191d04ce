package scenario

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// Scenario is the synthesized narrative plus the fields that had to be
// papered over.
type Scenario struct {
	Text     string
	Voice    VoiceKind
	Degraded []string
}

// IsDegraded reports whether any field fell back to a default.
func (s Scenario) IsDegraded() bool { return len(s.Degraded) > 0 }

// templates is one voice's row of the sentence table. Placeholders:
// {my} and {your} are names, {list} is a joined multi-select answer.
type templates struct {
	identityBoth   string
	identityMine   string
	anonymous      string
	anonymousYours string
	relationship   string
	lead           string
	leadStyle      string
	activities     string
	aftercare      string
	limits         string
}

var voiceTemplates = map[VoiceKind]templates{
	VoiceFirstPerson: {
		identityBoth:   "I am {my} and you are {your}",
		identityMine:   "I am {my}",
		anonymous:      "I am your partner for this scene",
		anonymousYours: "I am your partner for this scene and you are {your}",
		relationship:   "I am your {list}",
		lead:           "I take the lead",
		leadStyle:      "I take the lead, and I am {list} with you",
		activities:     "I begin by {list}",
		aftercare:      "Afterwards, I finish by {list}",
		limits:         "I never push you toward {list}",
	},
	VoiceSecondPerson: {
		identityBoth:   "You are {your} and I am {my}",
		identityMine:   "I am {my}",
		anonymous:      "I am your partner for this scene",
		anonymousYours: "You are {your} and I am your partner for this scene",
		relationship:   "You are my {list}",
		lead:           "You take the lead",
		leadStyle:      "You take the lead, and you are {list} with me",
		activities:     "You begin by {list}",
		aftercare:      "Afterwards, you finish by {list}",
		limits:         "You never push me toward {list}",
	},
	VoiceSymmetric: {
		identityBoth:   "We are {my} and {your}",
		identityMine:   "I am {my}, and we meet as equals",
		anonymous:      "We are partners in this scene",
		anonymousYours: "We are partners in this scene, and you are {your}",
		relationship:   "We are each other's {list}",
		lead:           "We share control equally",
		leadStyle:      "We share control equally, and we are {list} with each other",
		activities:     "We begin by {list}",
		aftercare:      "Afterwards, we finish by {list}",
		limits:         "We both stay away from {list}",
	},
}

// settingPrepositions already locate the scene and need no "in".
var settingPrepositions = map[string]bool{
	"in": true, "at": true, "on": true, "inside": true, "outside": true,
	"under": true, "near": true, "by": true, "during": true, "behind": true,
	"within": true, "somewhere": true,
}

// Synthesize composes the scenario paragraph for a submission. It never
// fails: missing or unrecognized answers are skipped or defaulted and
// reported in Degraded.
func Synthesize(form *entity.FormSubmission) Scenario {
	var (
		text     = func(string) string { return "" }
		choices  = func(string) []string { return nil }
		degraded []string
	)
	if form != nil {
		text = form.Text
		choices = form.Choices
	}

	voice, recognized := ResolveVoice(text(FieldDynamic))
	tmpl := voiceTemplates[voice.Kind]

	var sentences []string
	add := func(s string) {
		if s = sentence(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	// identity / setting
	myName, yourName := text(FieldMyName), text(FieldYourName)
	switch {
	case myName != "" && yourName != "":
		add(fill(tmpl.identityBoth, myName, yourName, ""))
	case myName != "":
		add(fill(tmpl.identityMine, myName, "", ""))
	case yourName != "":
		add(fill(tmpl.anonymousYours, "", yourName, ""))
	default:
		add(tmpl.anonymous)
	}
	if myName == "" {
		degraded = append(degraded, FieldMyName)
	}
	if rel := text(FieldRelationship); rel != "" {
		add(fill(tmpl.relationship, "", "", rel))
	}
	if setting := text(FieldSetting); setting != "" {
		add("The scene takes place " + locate(setting))
	}

	// control dynamic
	if !recognized {
		degraded = append(degraded, FieldDynamic)
	}
	if style := JoinList(choices(FieldControlStyle)); style != "" {
		add(fill(tmpl.leadStyle, "", "", style))
	} else if recognized {
		add(tmpl.lead)
	}

	// activity sequence
	if acts := progressiveList(choices(FieldActivities), voice.Target); acts != "" {
		add(fill(tmpl.activities, "", "", acts))
	}
	if care := progressiveList(choices(FieldAftercare), voice.Target); care != "" {
		add(fill(tmpl.aftercare, "", "", care))
	}

	// closing tone
	if tone := text(FieldTone); tone != "" {
		add("The mood is " + tone)
	}
	if limits := JoinList(choices(FieldLimits)); limits != "" {
		add(fill(tmpl.limits, "", "", limits))
	}
	if word := text(FieldSafeword); word != "" {
		add(`The safeword is "` + strings.Trim(word, `"`) + `"`)
	}
	if notes := text(FieldNotes); notes != "" {
		add(notes)
	}

	return Scenario{
		Text:     strings.Join(sentences, " "),
		Voice:    voice.Kind,
		Degraded: degraded,
	}
}

func fill(tmpl, my, your, list string) string {
	return strings.NewReplacer("{my}", my, "{your}", your, "{list}", list).Replace(tmpl)
}

func progressiveList(phrases []string, target Target) string {
	phrases = cleanList(phrases)
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, Progressive(p, target))
	}
	return JoinList(out)
}

// locate prefixes a bare place with "in".
func locate(setting string) string {
	first := strings.ToLower(strings.Fields(setting)[0])
	if settingPrepositions[first] {
		return setting
	}
	return "in " + setting
}

// sentence capitalizes s and ends it with exactly one terminal mark.
// Trailing commas, colons and semicolons are removed so a clause never
// ends on a connective.
func sentence(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ",;: ")
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]

	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
