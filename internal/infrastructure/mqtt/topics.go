package mqtt

// Topics builds the bridge's topic names under a configurable prefix.
//
// The hierarchy is small:
//
//	<prefix>/command                  inbound command intents (JSON)
//	<prefix>/result/<correlation_id>  per-command results (JSON)
//	<prefix>/status                   retained online/offline status
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for the given prefix, defaulting to
// "majordomo-bridge" when the prefix is empty.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = "majordomo-bridge"
	}
	return Topics{Prefix: prefix}
}

// Command returns the inbound command topic.
func (t Topics) Command() string {
	return t.Prefix + "/command"
}

// Result returns the result topic for one correlation ID.
func (t Topics) Result(correlationID string) string {
	return t.Prefix + "/result/" + correlationID
}

// Status returns the retained status topic. The Last Will is registered on
// the same topic so subscribers see crashes as well as graceful shutdowns.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}
