package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/controller"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/resolver"
)

// Idempotence cache bounds. Correlation IDs older than the TTL may be
// re-executed; transports retry within seconds, not minutes.
const (
	cacheTTL        = 5 * time.Minute
	cacheMaxEntries = 1024
)

// Controller is the subset of the MajorDoMo client the router needs.
type Controller interface {
	ReadProperty(ctx context.Context, object, property string) (string, error)
	WriteProperty(ctx context.Context, object, property, value string) error
	RunScript(ctx context.Context, name string) error
	Say(ctx context.Context, object, text string) error
}

// Auditor receives one record per dispatch. Satisfied by audit.Recorder.
type Auditor interface {
	Record(rec audit.Record)
}

// Telemetry receives per-dispatch measurements. Satisfied by the InfluxDB
// writer; nil disables it.
type Telemetry interface {
	RecordDispatch(channel string, status string, duration time.Duration)
}

// Router dispatches command intents against the controller.
//
// Thread Safety:
//   - Dispatch is safe for concurrent use; commands for the same target
//     serialize, everything else proceeds in parallel.
type Router struct {
	resolver  *resolver.Resolver
	ctrl      Controller
	auditor   Auditor
	telemetry Telemetry
	logger    *logging.Logger

	locks *lockRegistry
	cache *resultCache
}

// New creates a router. telemetry may be nil.
func New(res *resolver.Resolver, ctrl Controller, auditor Auditor, telemetry Telemetry, logger *logging.Logger) *Router {
	return &Router{
		resolver:  res,
		ctrl:      ctrl,
		auditor:   auditor,
		telemetry: telemetry,
		logger:    logger.With("component", "router"),
		locks:     newLockRegistry(),
		cache:     newResultCache(cacheTTL, cacheMaxEntries),
	}
}

// Dispatch executes one command intent and returns its result.
//
// The result is always well-formed; failures are reported through
// CommandResult.Status, never a Go error, so channels have exactly one
// shape to translate back to their transport.
func (r *Router) Dispatch(ctx context.Context, intent CommandIntent) CommandResult {
	if intent.CorrelationID == "" {
		intent.CorrelationID = uuid.NewString()
	}
	if intent.RequestedAt.IsZero() {
		intent.RequestedAt = time.Now().UTC()
	}

	if cached, ok := r.cache.get(intent.CorrelationID); ok {
		r.logger.Debug("duplicate correlation id answered from cache",
			"correlation_id", intent.CorrelationID,
			"channel", intent.Channel,
		)
		return cached
	}

	started := time.Now()
	result := r.dispatch(ctx, intent)
	result.CorrelationID = intent.CorrelationID
	result.Duration = time.Since(started)

	r.cache.put(intent.CorrelationID, result)
	r.record(intent, result)

	if r.telemetry != nil {
		r.telemetry.RecordDispatch(intent.Channel, string(result.Status), result.Duration)
	}

	return result
}

// dispatch runs resolution and the locked controller call.
func (r *Router) dispatch(ctx context.Context, intent CommandIntent) CommandResult {
	target, res := r.resolveTarget(intent)
	if res != nil {
		return *res
	}

	lockKey := target.String()
	if intent.Action == ActionScript {
		// Scripts have no object.property; serialize per script name.
		lockKey = "script:" + intent.Target
	}

	lock := r.locks.get(lockKey)
	lock.Lock()
	defer lock.Unlock()

	return r.invoke(ctx, intent, target)
}

// resolveTarget produces the controller target for the intent, or a
// terminal result when resolution fails. Scripts skip resolution.
func (r *Router) resolveTarget(intent CommandIntent) (catalog.Target, *CommandResult) {
	if intent.Action == ActionScript {
		if intent.Target == "" {
			return catalog.Target{}, &CommandResult{
				Status: StatusNotFound,
				Error:  "empty script name",
			}
		}
		return catalog.Target{}, nil
	}

	if intent.Object != "" && intent.Property != "" {
		return catalog.Target{Object: intent.Object, Property: intent.Property}, nil
	}

	kind := intent.Kind
	if intent.Action == ActionSay && kind == "" {
		kind = catalog.KindMedia
	}

	resolution := r.resolver.Resolve(resolver.Request{
		Text:          intent.Target,
		Kind:          kind,
		CategoryHints: intent.CategoryHints,
	})

	switch resolution.Outcome {
	case resolver.OutcomeMatch:
		return resolution.Entry.Target, nil

	case resolver.OutcomeAmbiguous:
		candidates := make([]Candidate, 0, len(resolution.Candidates))
		for _, e := range resolution.Candidates {
			alias := ""
			if len(e.Aliases) > 0 {
				alias = e.Aliases[0]
			}
			candidates = append(candidates, Candidate{
				Category: e.Category,
				Alias:    alias,
				Target:   e.Target,
			})
		}
		return catalog.Target{}, &CommandResult{
			Status:     StatusAmbiguous,
			Candidates: candidates,
			Error:      "several devices match " + resolution.Query,
		}

	default:
		return catalog.Target{}, &CommandResult{
			Status: StatusNotFound,
			Error:  "no device matches " + resolution.Query,
		}
	}
}

// invoke performs the controller call for an already-locked target.
func (r *Router) invoke(ctx context.Context, intent CommandIntent, target catalog.Target) CommandResult {
	var (
		response string
		err      error
	)

	switch intent.Action {
	case ActionRead:
		response, err = r.ctrl.ReadProperty(ctx, target.Object, target.Property)
	case ActionWrite:
		err = r.ctrl.WriteProperty(ctx, target.Object, target.Property, intent.Value)
	case ActionScript:
		err = r.ctrl.RunScript(ctx, intent.Target)
	case ActionSay:
		err = r.ctrl.Say(ctx, target.Object, intent.Value)
	default:
		return CommandResult{
			Status: StatusNotFound,
			Error:  "unknown action " + string(intent.Action),
		}
	}

	result := CommandResult{Status: StatusOK, Response: response}
	if intent.Action != ActionScript {
		t := target
		result.Target = &t
	}

	if err != nil {
		result.Response = ""
		result.Error = err.Error()
		if errors.Is(err, controller.ErrTimeout) {
			result.Status = StatusTimeout
		} else {
			result.Status = StatusControllerError
		}
	}

	return result
}

// record writes the audit entry for a finished dispatch.
func (r *Router) record(intent CommandIntent, result CommandResult) {
	rec := audit.Record{
		CorrelationID: intent.CorrelationID,
		Source:        intent.Channel,
		User:          intent.User,
		Action:        auditAction(intent),
		Target:        intent.Target,
		Status:        string(result.Status),
	}
	if result.Target != nil {
		rec.Object = result.Target.Object
		rec.Property = result.Target.Property
	}

	details := map[string]string{}
	if intent.Value != "" {
		details["value"] = intent.Value
	}
	if result.Response != "" {
		details["response"] = result.Response
	}
	if result.Error != "" {
		details["error"] = result.Error
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			rec.Details = string(b)
		}
	}

	r.auditor.Record(rec)
}

// auditAction maps an intent to the action name stored in the audit trail.
func auditAction(intent CommandIntent) string {
	switch intent.Action {
	case ActionRead:
		return "read_property"
	case ActionWrite:
		return "write_property"
	case ActionScript:
		return "run_script"
	case ActionSay:
		return "say"
	default:
		return string(intent.Action)
	}
}
