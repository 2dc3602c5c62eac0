package verbs

const (
	Chat    = VerbValue("chat")
	Ask     = VerbValue("ask")
	Events  = VerbValue("events")
	Version = VerbValue("version")
)

// Empty type to represent the _type_ Verb. Genesis is to support a key in a Context
type VerbKey struct{}

// Verb is a global instance of the VerbKey type
var Verb = VerbKey{}

// Will represent a specific Verb (chat, ask, events, etc)
type VerbValue string

func (v VerbValue) String() string {
	return string(v)
}
