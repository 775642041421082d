// Package schema is the static entity catalog: which table backs a kind,
// which column carries its workflow status, and which columns hold
// list/object values encoded as text. Everything here is resolved once at
// process start; nothing probes records at runtime.
package schema

import "sort"

// Fallback selects what a failed decode of a structured column yields.
type Fallback int

const (
	// FallbackRaw keeps the stored text untouched when parsing fails.
	FallbackRaw Fallback = iota
	// FallbackEmptyList replaces unparsable text with an empty list.
	FallbackEmptyList
)

type Entity struct {
	Kind         string
	Table        string
	StatusColumn string   // empty when the kind carries no guarded status
	Structured   []string // columns stored as encoded text
	Fallback     Fallback
	Generic      bool // exposed through the generic records CRUD surface
	NoUpdatedAt  bool // table has no updated_at column
}

const (
	KindImputation       = "imputation"
	KindImputationPeriod = "imputation_period"
	KindTimeLog          = "time_log"
	KindTicket           = "ticket"
	KindProject          = "project"
	KindUser             = "user"
	KindDeliverable      = "deliverable"
	KindNotification     = "notification"
	KindReferenceValue   = "reference_value"
)

var registry = map[string]Entity{
	KindImputation: {
		Kind:         KindImputation,
		Table:        "imputations",
		StatusColumn: "validation_status",
	},
	KindImputationPeriod: {
		Kind:         KindImputationPeriod,
		Table:        "imputation_periods",
		StatusColumn: "status",
	},
	KindTimeLog: {
		Kind:        KindTimeLog,
		Table:       "time_logs",
		NoUpdatedAt: true,
	},
	KindTicket: {
		Kind:       KindTicket,
		Table:      "tickets",
		Structured: []string{"history", "tags", "documentation_object_ids"},
		Fallback:   FallbackEmptyList,
	},
	KindProject: {
		Kind:       KindProject,
		Table:      "projects",
		Structured: []string{"tags"},
		Generic:    true,
	},
	KindUser: {
		Kind:       KindUser,
		Table:      "users",
		Structured: []string{"preferences"},
		Generic:    true,
	},
	KindDeliverable: {
		Kind:       KindDeliverable,
		Table:      "deliverables",
		Structured: []string{"attachments"},
		Generic:    true,
	},
	KindNotification: {
		Kind:        KindNotification,
		Table:       "notifications",
		Structured:  []string{"payload"},
		Generic:     true,
		NoUpdatedAt: true,
	},
	KindReferenceValue: {
		Kind:        KindReferenceValue,
		Table:       "reference_values",
		Structured:  []string{"metadata"},
		Generic:     true,
		NoUpdatedAt: true,
	},
}

// Lookup resolves a kind from the catalog.
func Lookup(kind string) (Entity, bool) {
	e, ok := registry[kind]
	return e, ok
}

// GenericKinds lists the kinds served by the generic records surface, sorted.
func GenericKinds() []string {
	kinds := make([]string, 0, len(registry))
	for k, e := range registry {
		if e.Generic {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}
