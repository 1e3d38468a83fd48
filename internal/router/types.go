package router

import (
	"fmt"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
)

// Action is the kind of controller operation an intent requests.
type Action string

const (
	// ActionRead reads a property value (device status, sensor reading).
	ActionRead Action = "read"

	// ActionWrite sets a property value (switch a relay, set a parameter).
	ActionWrite Action = "write"

	// ActionScript runs a named controller scenario.
	ActionScript Action = "script"

	// ActionSay speaks text through a media device.
	ActionSay Action = "say"
)

// ParseAction maps a wire-format action name to an Action. Used by the
// channels that accept intents as JSON (mqtt, web panel).
func ParseAction(s string) (Action, error) {
	switch s {
	case "read":
		return ActionRead, nil
	case "write":
		return ActionWrite, nil
	case "script":
		return ActionScript, nil
	case "say":
		return ActionSay, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Status is the outcome class of a dispatch.
type Status string

const (
	StatusOK              Status = "ok"
	StatusAmbiguous       Status = "ambiguous"
	StatusNotFound        Status = "not_found"
	StatusControllerError Status = "controller_error"
	StatusTimeout         Status = "timeout"
)

// CommandIntent is one channel-originated command, normalized so the
// router never cares which channel produced it.
type CommandIntent struct {
	// Channel names the originating adapter (mcp, telegram, scheduler,
	// webpanel, mqtt). Recorded in the audit trail.
	Channel string

	// CorrelationID identifies the command across retries. Generated
	// when empty; repeated IDs are answered from the idempotence cache.
	CorrelationID string

	// User is the acting identity, when the channel knows one.
	User string

	// Action selects the controller operation.
	Action Action

	// Target is the device reference to resolve ("улица", "парная"),
	// or the script name for ActionScript.
	Target string

	// Object and Property, when both set, bypass resolution entirely.
	// Used by the web panel's manual dispatch and by scheduler tasks
	// that store concrete targets.
	Object   string
	Property string

	// Value is the property value for ActionWrite, or the text for
	// ActionSay.
	Value string

	// Kind restricts resolution to one device kind. ActionSay defaults
	// it to media.
	Kind catalog.Kind

	// CategoryHints break resolution ties, never widen matches.
	CategoryHints []string

	// RequestedAt is when the channel accepted the command.
	RequestedAt time.Time
}

// Candidate describes one surviving entry of an ambiguous resolution,
// in a shape channels can present to the user.
type Candidate struct {
	Category string         `json:"category"`
	Alias    string         `json:"alias"`
	Target   catalog.Target `json:"target"`
}

// CommandResult is the explicit outcome of one dispatch.
type CommandResult struct {
	CorrelationID string `json:"correlation_id"`

	Status Status `json:"status"`

	// Target is the resolved controller target, nil when resolution
	// did not produce one.
	Target *catalog.Target `json:"target,omitempty"`

	// Candidates holds the choice set when Status is ambiguous.
	Candidates []Candidate `json:"candidates,omitempty"`

	// Response is the controller's answer for reads, empty otherwise.
	Response string `json:"response,omitempty"`

	// Error carries a short failure description for non-ok statuses.
	Error string `json:"error,omitempty"`

	// Duration measures resolve through controller response.
	Duration time.Duration `json:"duration_ms"`
}
