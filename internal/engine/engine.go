package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chronoline/internal/audit"
	"chronoline/internal/codec"
	"chronoline/internal/domain"
	"chronoline/internal/repo"
	"chronoline/internal/schema"
	"chronoline/internal/workflow"
)

// Engine holds the domain operations: entity creation with validation and
// defaults, workflow actions, credentials. Handlers and the CLI go through
// it rather than touching the repo directly.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Records repo.Records
	Audit   audit.Writer
	Now     func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Records: repo.Records{DB: db},
		Audit:   audit.Writer{DB: db},
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) dispatcher() workflow.Dispatcher {
	return workflow.Dispatcher{Records: e.Records, Audit: e.Audit, Now: e.Now}
}

// ValidationError marks a request rejected before any write happened.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TicketCreateOptions are parameters for creating a ticket.
type TicketCreateOptions struct {
	ID             string
	ProjectID      string
	Title          string
	Classification string
	Description    string
	AssigneeID     string
	EstimateHours  decimal.Decimal
	Tags           []string
	ActorID        string
}

func (e Engine) CreateTicket(ctx context.Context, opts TicketCreateOptions) (domain.Ticket, error) {
	if opts.ProjectID == "" {
		return domain.Ticket{}, validationErrorf("project is required")
	}
	if opts.Title == "" {
		return domain.Ticket{}, validationErrorf("title is required")
	}
	if opts.Classification == "" {
		return domain.Ticket{}, validationErrorf("classification is required")
	}
	projects, _ := schema.Lookup(schema.KindProject)
	if _, err := e.Records.GetRecord(ctx, projects, opts.ProjectID); err != nil {
		return domain.Ticket{}, err
	}
	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	code, err := e.GenerateTicketCode(ctx, now.Year())
	if err != nil {
		return domain.Ticket{}, err
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	t := domain.Ticket{
		ID:                     id,
		ProjectID:              opts.ProjectID,
		TicketCode:             code,
		Title:                  opts.Title,
		Classification:         opts.Classification,
		Description:            opts.Description,
		Status:                 "NEW",
		AssigneeID:             optionalString(opts.AssigneeID),
		EffortHours:            decimal.Zero,
		EstimateHours:          opts.EstimateHours,
		History:                []map[string]any{},
		Tags:                   tags,
		DocumentationObjectIDs: []string{},
		CreatedAt:              ts,
		UpdatedAt:              ts,
	}
	historyJSON, err := codec.EncodeValue(t.History)
	if err != nil {
		return domain.Ticket{}, err
	}
	tagsJSON, err := codec.EncodeValue(t.Tags)
	if err != nil {
		return domain.Ticket{}, err
	}
	docsJSON, err := codec.EncodeValue(t.DocumentationObjectIDs)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Repo.InsertTicket(ctx, t, historyJSON, tagsJSON, docsJSON); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Audit.Append(ctx, "ticket.created", schema.KindTicket, t.ID, opts.ActorID, audit.Payload{
		"ticket_code": t.TicketCode,
		"title":       t.Title,
	}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// UpdateTicket applies a partial update. The ticket code is immutable.
func (e Engine) UpdateTicket(ctx context.Context, id string, changes map[string]any, actorID string) (domain.Ticket, error) {
	if len(changes) == 0 {
		return domain.Ticket{}, validationErrorf("no fields to update")
	}
	for col := range changes {
		switch col {
		case "id", "ticket_code", "created_at":
			return domain.Ticket{}, validationErrorf("field %s is immutable", col)
		}
	}
	tickets, _ := schema.Lookup(schema.KindTicket)
	changes["updated_at"] = e.now().UTC().Format(time.RFC3339)
	if err := e.Records.UpdateFields(ctx, tickets, id, changes); err != nil {
		return domain.Ticket{}, err
	}
	t, err := e.Repo.GetTicket(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Audit.Append(ctx, "ticket.updated", schema.KindTicket, id, actorID, audit.Payload{
		"fields": changedColumns(changes),
	}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// ImputationCreateOptions are parameters for logging hours against a ticket.
type ImputationCreateOptions struct {
	ID           string
	ConsultantID string
	TicketID     string
	ProjectID    string
	Date         string
	Hours        decimal.Decimal
	Comment      string
	ActorID      string
}

func (e Engine) CreateImputation(ctx context.Context, opts ImputationCreateOptions) (domain.Imputation, error) {
	if opts.ConsultantID == "" {
		return domain.Imputation{}, validationErrorf("consultant is required")
	}
	if opts.TicketID == "" {
		return domain.Imputation{}, validationErrorf("ticket is required")
	}
	if opts.Date == "" {
		return domain.Imputation{}, validationErrorf("date is required")
	}
	if opts.Hours.LessThanOrEqual(decimal.Zero) {
		return domain.Imputation{}, validationErrorf("hours must be positive")
	}
	t, err := e.Repo.GetTicket(ctx, opts.TicketID)
	if err != nil {
		return domain.Imputation{}, err
	}
	projectID := opts.ProjectID
	if projectID == "" {
		projectID = t.ProjectID
	} else if projectID != t.ProjectID {
		return domain.Imputation{}, validationErrorf("ticket %s not in project %s", opts.TicketID, projectID)
	}
	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	im := domain.Imputation{
		ID:               id,
		ConsultantID:     opts.ConsultantID,
		TicketID:         opts.TicketID,
		ProjectID:        projectID,
		Date:             opts.Date,
		Hours:            opts.Hours,
		Comment:          opts.Comment,
		ValidationStatus: domain.StatusDraft,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if err := e.Repo.InsertImputation(ctx, im); err != nil {
		return domain.Imputation{}, err
	}
	if err := e.Audit.Append(ctx, "imputation.created", schema.KindImputation, im.ID, opts.ActorID, audit.Payload{
		"ticket_id": im.TicketID,
		"date":      im.Date,
		"hours":     im.Hours.String(),
	}); err != nil {
		return domain.Imputation{}, err
	}
	return im, nil
}

// PeriodCreateOptions are parameters for opening an imputation period.
type PeriodCreateOptions struct {
	ID           string
	ConsultantID string
	PeriodKey    string
	StartDate    string
	EndDate      string
	ActorID      string
}

func (e Engine) CreatePeriod(ctx context.Context, opts PeriodCreateOptions) (domain.ImputationPeriod, error) {
	if opts.ConsultantID == "" {
		return domain.ImputationPeriod{}, validationErrorf("consultant is required")
	}
	if opts.PeriodKey == "" {
		return domain.ImputationPeriod{}, validationErrorf("period key is required")
	}
	if opts.StartDate == "" || opts.EndDate == "" {
		return domain.ImputationPeriod{}, validationErrorf("start and end dates are required")
	}
	if opts.EndDate < opts.StartDate {
		return domain.ImputationPeriod{}, validationErrorf("end date before start date")
	}
	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.ImputationPeriod{
		ID:           id,
		ConsultantID: opts.ConsultantID,
		PeriodKey:    opts.PeriodKey,
		StartDate:    opts.StartDate,
		EndDate:      opts.EndDate,
		Status:       domain.StatusDraft,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := e.Repo.InsertPeriod(ctx, p); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ImputationPeriod{}, validationErrorf("period %s already open for consultant %s", opts.PeriodKey, opts.ConsultantID)
		}
		return domain.ImputationPeriod{}, err
	}
	if err := e.Audit.Append(ctx, "period.created", schema.KindImputationPeriod, p.ID, opts.ActorID, audit.Payload{
		"period_key": p.PeriodKey,
	}); err != nil {
		return domain.ImputationPeriod{}, err
	}
	return p, nil
}

// TimeLogCreateOptions are parameters for recording a raw time log.
type TimeLogCreateOptions struct {
	ID           string
	ConsultantID string
	TicketID     string
	ProjectID    string
	Date         string
	Duration     decimal.Decimal
	ActorID      string
}

func (e Engine) CreateTimeLog(ctx context.Context, opts TimeLogCreateOptions) (domain.TimeLog, error) {
	if opts.ConsultantID == "" {
		return domain.TimeLog{}, validationErrorf("consultant is required")
	}
	if opts.Date == "" {
		return domain.TimeLog{}, validationErrorf("date is required")
	}
	if opts.Duration.LessThanOrEqual(decimal.Zero) {
		return domain.TimeLog{}, validationErrorf("duration must be positive")
	}
	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	tl := domain.TimeLog{
		ID:           id,
		ConsultantID: opts.ConsultantID,
		TicketID:     opts.TicketID,
		ProjectID:    opts.ProjectID,
		Date:         opts.Date,
		Duration:     opts.Duration,
		CreatedAt:    ts,
	}
	if err := e.Repo.InsertTimeLog(ctx, tl); err != nil {
		return domain.TimeLog{}, err
	}
	if err := e.Audit.Append(ctx, "time_log.created", schema.KindTimeLog, tl.ID, opts.ActorID, audit.Payload{
		"date":     tl.Date,
		"duration": tl.Duration.String(),
	}); err != nil {
		return domain.TimeLog{}, err
	}
	return tl, nil
}

// Workflow action wrappers. Each one runs the dispatcher and converts the
// updated record back to its typed form.

func (e Engine) ValidateImputation(ctx context.Context, id, actorID string) (domain.Imputation, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionValidate, schema.KindImputation, id, actorID)
	if err != nil {
		return domain.Imputation{}, err
	}
	return imputationFromRecord(rec), nil
}

func (e Engine) RejectImputation(ctx context.Context, id, actorID string) (domain.Imputation, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionReject, schema.KindImputation, id, actorID)
	if err != nil {
		return domain.Imputation{}, err
	}
	return imputationFromRecord(rec), nil
}

func (e Engine) SubmitPeriod(ctx context.Context, id, actorID string) (domain.ImputationPeriod, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionSubmit, schema.KindImputationPeriod, id, actorID)
	if err != nil {
		return domain.ImputationPeriod{}, err
	}
	return periodFromRecord(rec), nil
}

func (e Engine) ValidatePeriod(ctx context.Context, id, actorID string) (domain.ImputationPeriod, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionValidate, schema.KindImputationPeriod, id, actorID)
	if err != nil {
		return domain.ImputationPeriod{}, err
	}
	return periodFromRecord(rec), nil
}

func (e Engine) RejectPeriod(ctx context.Context, id, actorID string) (domain.ImputationPeriod, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionReject, schema.KindImputationPeriod, id, actorID)
	if err != nil {
		return domain.ImputationPeriod{}, err
	}
	return periodFromRecord(rec), nil
}

func (e Engine) SendPeriodToStraTIME(ctx context.Context, id, actorID string) (domain.ImputationPeriod, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionSendToStraTIME, schema.KindImputationPeriod, id, actorID)
	if err != nil {
		return domain.ImputationPeriod{}, err
	}
	return periodFromRecord(rec), nil
}

func (e Engine) SendTimeLogToStraTIME(ctx context.Context, id, actorID string) (domain.TimeLog, error) {
	rec, err := e.dispatcher().Dispatch(ctx, workflow.ActionSendToStraTIME, schema.KindTimeLog, id, actorID)
	if err != nil {
		return domain.TimeLog{}, err
	}
	return timeLogFromRecord(rec), nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func changedColumns(changes map[string]any) []string {
	cols := make([]string, 0, len(changes))
	for col := range changes {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
