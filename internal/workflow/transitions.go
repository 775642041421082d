package workflow

import (
	"fmt"
	"strings"

	"chronoline/internal/domain"
	"chronoline/internal/schema"
)

// Action names accepted by the dispatcher.
const (
	ActionValidate       = "validate"
	ActionReject         = "reject"
	ActionSubmit         = "submit"
	ActionSendToStraTIME = "send_to_stratime"
)

// Rule is one row of the transition table: which source statuses an action
// accepts, which status it writes, and the audit fields it stamps. A nil
// AllowedFrom means the action is unguarded and applies unconditionally.
type Rule struct {
	AllowedFrom []string
	Target      string
	Changes     func(actor string, now string) map[string]any
}

func (r Rule) Guarded() bool { return r.AllowedFrom != nil }

type ruleKey struct {
	Kind   string
	Action string
}

var rules = map[ruleKey]Rule{
	{schema.KindImputation, ActionValidate}: {
		AllowedFrom: []string{domain.StatusDraft, domain.StatusSubmitted, domain.StatusRejected},
		Target:      domain.StatusValidated,
		Changes:     validationStamp,
	},
	{schema.KindImputation, ActionReject}: {
		AllowedFrom: []string{domain.StatusDraft, domain.StatusSubmitted},
		Target:      domain.StatusRejected,
		Changes:     validationStamp,
	},
	{schema.KindImputationPeriod, ActionSubmit}: {
		AllowedFrom: []string{domain.StatusDraft, domain.StatusRejected},
		Target:      domain.StatusSubmitted,
		Changes: func(_, now string) map[string]any {
			return map[string]any{"submitted_at": now, "updated_at": now}
		},
	},
	{schema.KindImputationPeriod, ActionValidate}: {
		AllowedFrom: []string{domain.StatusSubmitted},
		Target:      domain.StatusValidated,
		Changes:     validationStamp,
	},
	{schema.KindImputationPeriod, ActionReject}: {
		AllowedFrom: []string{domain.StatusSubmitted},
		Target:      domain.StatusRejected,
		Changes:     validationStamp,
	},
	// Send actions are unguarded: they flip sent_to_stratime and stamp the
	// send audit fields no matter the current state. There is no un-send.
	{schema.KindImputationPeriod, ActionSendToStraTIME}: {
		Changes: func(actor, now string) map[string]any {
			return map[string]any{
				"sent_to_stratime": 1,
				"sent_by":          nullableActor(actor),
				"sent_at":          now,
				"updated_at":       now,
			}
		},
	},
	{schema.KindTimeLog, ActionSendToStraTIME}: {
		Changes: func(_, now string) map[string]any {
			return map[string]any{
				"sent_to_stratime": 1,
				"sent_at":          now,
			}
		},
	},
}

func validationStamp(actor, now string) map[string]any {
	return map[string]any{
		"validated_by": nullableActor(actor),
		"validated_at": now,
		"updated_at":   now,
	}
}

func nullableActor(actor string) any {
	if actor == "" {
		return nil
	}
	return actor
}

// RuleFor looks up the transition rule for a (kind, action) pair.
func RuleFor(kind, action string) (Rule, bool) {
	r, ok := rules[ruleKey{Kind: kind, Action: action}]
	return r, ok
}

// InvalidTransitionError reports a guard rejection with enough context for
// the caller to explain the conflict.
type InvalidTransitionError struct {
	Kind        string
	Action      string
	Current     string
	AllowedFrom []string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s (allowed from: %s)",
		e.Action, e.Kind, e.Current, strings.Join(e.AllowedFrom, ", "))
}
