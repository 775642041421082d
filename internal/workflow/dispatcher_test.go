package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"chronoline/internal/audit"
	"chronoline/internal/db"
	"chronoline/internal/domain"
	"chronoline/internal/migrate"
	"chronoline/internal/repo"
	"chronoline/internal/schema"
	"chronoline/internal/workflow"
)

var testTime = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newDispatcher(t *testing.T) (workflow.Dispatcher, repo.Records) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	records := repo.Records{DB: conn}
	d := workflow.Dispatcher{
		Records: records,
		Audit:   audit.Writer{DB: conn, Now: func() time.Time { return testTime }},
		Now:     func() time.Time { return testTime },
	}
	return d, records
}

func seedPeriod(t *testing.T, records repo.Records, status string) string {
	t.Helper()
	ent, _ := schema.Lookup(schema.KindImputationPeriod)
	id := uuid.NewString()
	ts := testTime.Format(time.RFC3339)
	err := records.InsertRecord(context.Background(), ent, map[string]any{
		"id":            id,
		"consultant_id": "consultant-1",
		"period_key":    "2026-08-" + id[:8],
		"start_date":    "2026-08-01",
		"end_date":      "2026-08-31",
		"status":        status,
		"created_at":    ts,
		"updated_at":    ts,
	})
	if err != nil {
		t.Fatalf("seed period: %v", err)
	}
	return id
}

func seedImputation(t *testing.T, records repo.Records, status string) string {
	t.Helper()
	ts := testTime.Format(time.RFC3339)
	// Imputations reference a ticket and a project.
	if _, err := records.DB.Exec(
		`INSERT OR IGNORE INTO projects (id,name,created_at,updated_at) VALUES ('proj-1','Fixture',?,?)`,
		ts, ts,
	); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if _, err := records.DB.Exec(
		`INSERT OR IGNORE INTO tickets (id,project_id,ticket_code,title,classification,created_at,updated_at)
		 VALUES ('ticket-1','proj-1','TK-2026-0001','Fixture','TASK',?,?)`,
		ts, ts,
	); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	ent, _ := schema.Lookup(schema.KindImputation)
	id := uuid.NewString()
	err := records.InsertRecord(context.Background(), ent, map[string]any{
		"id":                id,
		"consultant_id":     "consultant-1",
		"ticket_id":         "ticket-1",
		"project_id":        "proj-1",
		"date":              "2026-08-15",
		"hours":             "7.5",
		"validation_status": status,
		"created_at":        ts,
		"updated_at":        ts,
	})
	if err != nil {
		t.Fatalf("seed imputation: %v", err)
	}
	return id
}

func TestImputationValidateFromEveryAllowedStatus(t *testing.T) {
	d, records := newDispatcher(t)
	for _, from := range []string{domain.StatusDraft, domain.StatusSubmitted, domain.StatusRejected} {
		id := seedImputation(t, records, from)
		rec, err := d.Dispatch(context.Background(), workflow.ActionValidate, schema.KindImputation, id, "manager-1")
		if err != nil {
			t.Fatalf("validate from %s: %v", from, err)
		}
		if rec["validation_status"] != domain.StatusValidated {
			t.Fatalf("status from %s: %v", from, rec["validation_status"])
		}
		if rec["validated_by"] != "manager-1" {
			t.Fatalf("validated_by: %v", rec["validated_by"])
		}
		if rec["validated_at"] != testTime.Format(time.RFC3339) {
			t.Fatalf("validated_at: %v", rec["validated_at"])
		}
	}
}

func TestImputationRejectGuard(t *testing.T) {
	d, records := newDispatcher(t)

	id := seedImputation(t, records, domain.StatusSubmitted)
	rec, err := d.Dispatch(context.Background(), workflow.ActionReject, schema.KindImputation, id, "manager-1")
	if err != nil {
		t.Fatalf("reject submitted: %v", err)
	}
	if rec["validation_status"] != domain.StatusRejected || rec["validated_by"] != "manager-1" {
		t.Fatalf("reject result: %v %v", rec["validation_status"], rec["validated_by"])
	}

	// VALIDATED imputations cannot be rejected.
	id = seedImputation(t, records, domain.StatusValidated)
	_, err = d.Dispatch(context.Background(), workflow.ActionReject, schema.KindImputation, id, "manager-1")
	var te workflow.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if te.Current != domain.StatusValidated {
		t.Fatalf("current: %s", te.Current)
	}
	if len(te.AllowedFrom) != 2 {
		t.Fatalf("allowed: %v", te.AllowedFrom)
	}
}

func TestPeriodSubmitGuards(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()

	id := seedPeriod(t, records, domain.StatusDraft)
	rec, err := d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, id, "consultant-1")
	if err != nil {
		t.Fatalf("submit draft: %v", err)
	}
	if rec["status"] != domain.StatusSubmitted || rec["submitted_at"] == nil {
		t.Fatalf("submit result: %v %v", rec["status"], rec["submitted_at"])
	}

	// Submitting again from SUBMITTED must fail.
	if _, err := d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, id, "consultant-1"); err == nil {
		t.Fatal("expected guard failure on double submit")
	}

	// Rejected periods can be resubmitted.
	rejected := seedPeriod(t, records, domain.StatusRejected)
	if _, err := d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, rejected, "consultant-1"); err != nil {
		t.Fatalf("resubmit rejected: %v", err)
	}
}

func TestValidatedPeriodIsTerminal(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	id := seedPeriod(t, records, domain.StatusValidated)
	for _, action := range []string{workflow.ActionSubmit, workflow.ActionValidate, workflow.ActionReject} {
		_, err := d.Dispatch(ctx, action, schema.KindImputationPeriod, id, "manager-1")
		var te workflow.InvalidTransitionError
		if !errors.As(err, &te) {
			t.Fatalf("%s on validated period: expected transition error, got %v", action, err)
		}
	}
}

func TestSendToStraTIMEIsUnguardedAndIdempotent(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	// Send is allowed from any status, even DRAFT.
	id := seedPeriod(t, records, domain.StatusDraft)
	rec, err := d.Dispatch(ctx, workflow.ActionSendToStraTIME, schema.KindImputationPeriod, id, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec["sent_to_stratime"] != int64(1) || rec["sent_by"] != "admin-1" {
		t.Fatalf("send fields: %v %v", rec["sent_to_stratime"], rec["sent_by"])
	}
	if rec["status"] != domain.StatusDraft {
		t.Fatalf("send must not change status: %v", rec["status"])
	}
	// Sending again re-stamps rather than failing.
	rec2, err := d.Dispatch(ctx, workflow.ActionSendToStraTIME, schema.KindImputationPeriod, id, "admin-2")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if rec2["sent_by"] != "admin-2" {
		t.Fatalf("second send did not re-stamp: %v", rec2["sent_by"])
	}
}

// Two validates whose reads both observe SUBMITTED both pass the guard; the
// second write overwrites the first. The injected clock runs a competing
// dispatch between the outer dispatch's read and its write.
func TestConcurrentValidatesLastWriteWins(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	id := seedImputation(t, records, domain.StatusSubmitted)

	first := testTime
	second := testTime.Add(time.Minute)
	competing := workflow.Dispatcher{
		Records: records,
		Audit:   audit.Writer{DB: records.DB, Now: func() time.Time { return first }},
		Now:     func() time.Time { return first },
	}
	d.Now = func() time.Time {
		if _, err := competing.Dispatch(ctx, workflow.ActionValidate, schema.KindImputation, id, "manager-1"); err != nil {
			t.Errorf("competing validate: %v", err)
		}
		return second
	}

	rec, err := d.Dispatch(ctx, workflow.ActionValidate, schema.KindImputation, id, "manager-2")
	if err != nil {
		t.Fatalf("stale validate should still pass the guard: %v", err)
	}
	if rec["validated_by"] != "manager-2" {
		t.Fatalf("last writer should win: %v", rec["validated_by"])
	}
	if rec["validated_at"] != second.Format(time.RFC3339) {
		t.Fatalf("validated_at: %v", rec["validated_at"])
	}

	r := repo.Repo{DB: records.DB}
	entries, err := r.ListAudit(ctx, 10, 0, schema.KindImputation, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("both validates should be audited: %d", len(entries))
	}
}

func TestDispatchUnknownRecordAndAction(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	_, err := d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, "missing", "x")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	id := seedPeriod(t, records, domain.StatusDraft)
	if _, err := d.Dispatch(ctx, "archive", schema.KindImputationPeriod, id, "x"); err == nil {
		t.Fatal("expected unknown action error")
	}
	if _, err := d.Dispatch(ctx, workflow.ActionSubmit, "gadget", id, "x"); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestDispatchWritesAuditEntry(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	id := seedPeriod(t, records, domain.StatusDraft)
	if _, err := d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, id, "consultant-1"); err != nil {
		t.Fatal(err)
	}
	r := repo.Repo{DB: records.DB}
	entries, err := r.ListAudit(ctx, 10, 0, schema.KindImputationPeriod, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != workflow.ActionSubmit {
		t.Fatalf("audit entries: %#v", entries)
	}
}

func TestAuditFailureSurfacesAfterTransitionPersists(t *testing.T) {
	d, records := newDispatcher(t)
	ctx := context.Background()
	// An unmigrated database has no audit_log table, so the append fails
	// while the status write against the real store succeeds.
	bare, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open bare db: %v", err)
	}
	t.Cleanup(func() { bare.Close() })
	d.Audit = audit.Writer{DB: bare, Now: func() time.Time { return testTime }}

	id := seedPeriod(t, records, domain.StatusDraft)
	_, err = d.Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, id, "consultant-1")
	if err == nil || !strings.Contains(err.Error(), "audit append failed") {
		t.Fatalf("expected audit append failure, got %v", err)
	}
	ent, _ := schema.Lookup(schema.KindImputationPeriod)
	rec, err := records.GetRecord(ctx, ent, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec["status"] != domain.StatusSubmitted {
		t.Fatalf("transition should have persisted: %v", rec["status"])
	}
}

func TestEmptyActorLeavesValidatedByNull(t *testing.T) {
	d, records := newDispatcher(t)
	id := seedImputation(t, records, domain.StatusDraft)
	rec, err := d.Dispatch(context.Background(), workflow.ActionValidate, schema.KindImputation, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec["validated_by"] != nil {
		t.Fatalf("validated_by should be null: %v", rec["validated_by"])
	}
}
