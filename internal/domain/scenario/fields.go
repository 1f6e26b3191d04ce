// Package scenario turns an intake form submission into one narrative paragraph.
//
// Synthesis is pure: the same submission always yields byte-identical text, so
// the result can be cached on the conversation and compared in tests.
package scenario

// Canonical form fields. External form services use their own field refs;
// the intake use-case maps them onto these names before synthesis.
const (
	// identity / setting
	FieldMyName       = "my_name" // required
	FieldYourName     = "your_name"
	FieldRelationship = "relationship"
	FieldSetting      = "setting"

	// role resolution
	FieldDynamic = "dynamic"

	// relationship / control dynamic
	FieldControlStyle = "control_style"

	// activity sequence
	FieldActivities = "activities"
	FieldAftercare  = "aftercare"

	// closing tone
	FieldTone     = "tone"
	FieldLimits   = "limits"
	FieldSafeword = "safeword"
	FieldNotes    = "notes"
)

// Fields lists every canonical field in section order.
var Fields = []string{
	FieldMyName,
	FieldYourName,
	FieldRelationship,
	FieldSetting,
	FieldDynamic,
	FieldControlStyle,
	FieldActivities,
	FieldAftercare,
	FieldTone,
	FieldLimits,
	FieldSafeword,
	FieldNotes,
}

// MultiSelectFields are rendered as natural-language lists.
var MultiSelectFields = map[string]bool{
	FieldControlStyle: true,
	FieldActivities:   true,
	FieldAftercare:    true,
	FieldLimits:       true,
}

// IsKnownField reports whether name is a canonical field.
func IsKnownField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}
