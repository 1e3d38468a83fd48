package catalog

import "strings"

// Kind classifies what an alias entry controls. Values mirror the "type"
// field of the catalog file.
type Kind string

const (
	// KindRelay is an on/off switchable device (lights, sockets, pumps).
	KindRelay Kind = "relay"

	// KindSensor is a read-only measurement source.
	KindSensor Kind = "sensors"

	// KindMedia is a speaker used for TTS feedback.
	KindMedia Kind = "media"

	// KindDevice is a device with a settable parameter (e.g. a thermostat).
	KindDevice Kind = "device"

	// KindUnknown is assigned when the category omits a type.
	KindUnknown Kind = "unknown"
)

// Target identifies one controller object/property pair - the unit of
// command serialization.
type Target struct {
	Object   string `json:"object"`
	Property string `json:"property"`
}

// String returns the MajorDoMo "Object.property" notation.
func (t Target) String() string {
	return t.Object + "." + t.Property
}

// Entry is one immutable alias catalog entry. All aliases in the set refer
// to the same controller target.
type Entry struct {
	// Category is the catalog section the entry came from (e.g. "свет").
	Category string

	// Kind is the category's device type.
	Kind Kind

	// Aliases holds the normalized equivalent names for this device.
	Aliases []string

	// Target is the controller object/property the aliases map to.
	Target Target
}

// HasAlias reports whether the entry's alias set contains the normalized name.
func (e *Entry) HasAlias(name string) bool {
	name = NormalizeAlias(name)
	for _, a := range e.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// NormalizeAlias lowercases an alias and collapses surrounding/internal
// whitespace. Lowercasing is Unicode-aware so Cyrillic aliases compare
// correctly.
func NormalizeAlias(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
