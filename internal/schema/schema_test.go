package schema_test

import (
	"reflect"
	"testing"

	"chronoline/internal/schema"
)

func TestGenericKinds(t *testing.T) {
	want := []string{"deliverable", "notification", "project", "reference_value", "user"}
	if got := schema.GenericKinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("generic kinds: %v", got)
	}
	// Workflow kinds stay off the generic surface.
	for _, kind := range []string{schema.KindImputation, schema.KindImputationPeriod, schema.KindTimeLog, schema.KindTicket} {
		e, ok := schema.Lookup(kind)
		if !ok || e.Generic {
			t.Fatalf("%s must not be generic", kind)
		}
	}
}
