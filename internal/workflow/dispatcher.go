package workflow

import (
	"context"
	"fmt"
	"time"

	"chronoline/internal/audit"
	"chronoline/internal/repo"
	"chronoline/internal/schema"
)

// Dispatcher applies named actions to workflow records: fetch the current
// record, check the transition table, write the change-set, re-read.
//
// The read-check-write sequence is not atomic against the store. Two
// concurrent dispatches for the same record can both pass the guard against
// the same stale status and both write; the last writer wins. Callers that
// need stronger guarantees must serialize per record themselves.
type Dispatcher struct {
	Records repo.Records
	Audit   audit.Writer
	Now     func() time.Time
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch runs one action against one record and returns the updated record.
// The status write and the audit append are separate statements: if the append
// fails the transition has already persisted, and the error reports the failed
// audit write, not a rolled-back action.
func (d Dispatcher) Dispatch(ctx context.Context, action, kind, id, actorID string) (map[string]any, error) {
	ent, ok := schema.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %s", kind)
	}
	rule, ok := RuleFor(kind, action)
	if !ok {
		return nil, fmt.Errorf("action %s not defined for %s", action, kind)
	}
	rec, err := d.Records.GetRecord(ctx, ent, id)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC().Format(time.RFC3339)
	changes := map[string]any{}
	if rule.Guarded() {
		current, _ := rec[ent.StatusColumn].(string)
		if !statusAllowed(rule.AllowedFrom, current) {
			return nil, InvalidTransitionError{
				Kind:        kind,
				Action:      action,
				Current:     current,
				AllowedFrom: rule.AllowedFrom,
			}
		}
		changes[ent.StatusColumn] = rule.Target
	}
	if rule.Changes != nil {
		for col, v := range rule.Changes(actorID, now) {
			changes[col] = v
		}
	}
	if err := d.Records.UpdateFields(ctx, ent, id, changes); err != nil {
		return nil, err
	}
	updated, err := d.Records.GetRecord(ctx, ent, id)
	if err != nil {
		return nil, err
	}
	if d.Audit.DB != nil {
		payload := audit.Payload{}
		if rule.Guarded() {
			payload["from_status"], _ = rec[ent.StatusColumn].(string)
			payload["to_status"] = rule.Target
		}
		if err := d.Audit.Append(ctx, action, kind, id, actorID, payload); err != nil {
			return nil, fmt.Errorf("%s %s %s applied but audit append failed: %w", action, kind, id, err)
		}
	}
	return updated, nil
}

func statusAllowed(allowed []string, current string) bool {
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}
