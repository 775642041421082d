package domain

import "github.com/shopspring/decimal"

// Workflow statuses shared by imputations and imputation periods.
const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
	StatusValidated = "VALIDATED"
	StatusRejected  = "REJECTED"
)

type Imputation struct {
	ID               string          `json:"id"`
	ConsultantID     string          `json:"consultant_id"`
	TicketID         string          `json:"ticket_id"`
	ProjectID        string          `json:"project_id"`
	Date             string          `json:"date" format:"date"`
	Hours            decimal.Decimal `json:"hours"`
	Comment          string          `json:"comment,omitempty"`
	ValidationStatus string          `json:"validation_status" enum:"DRAFT,SUBMITTED,VALIDATED,REJECTED"`
	ValidatedBy      *string         `json:"validated_by,omitempty"`
	ValidatedAt      *string         `json:"validated_at,omitempty" format:"date-time"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

type ImputationPeriod struct {
	ID             string  `json:"id"`
	ConsultantID   string  `json:"consultant_id"`
	PeriodKey      string  `json:"period_key"`
	StartDate      string  `json:"start_date" format:"date"`
	EndDate        string  `json:"end_date" format:"date"`
	Status         string  `json:"status" enum:"DRAFT,SUBMITTED,VALIDATED,REJECTED"`
	SentToStraTIME bool    `json:"sent_to_stratime"`
	SubmittedAt    *string `json:"submitted_at,omitempty" format:"date-time"`
	ValidatedBy    *string `json:"validated_by,omitempty"`
	ValidatedAt    *string `json:"validated_at,omitempty" format:"date-time"`
	SentBy         *string `json:"sent_by,omitempty"`
	SentAt         *string `json:"sent_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type TimeLog struct {
	ID             string          `json:"id"`
	ConsultantID   string          `json:"consultant_id"`
	TicketID       string          `json:"ticket_id"`
	ProjectID      string          `json:"project_id"`
	Date           string          `json:"date" format:"date"`
	Duration       decimal.Decimal `json:"duration"`
	SentToStraTIME bool            `json:"sent_to_stratime"`
	SentAt         *string         `json:"sent_at,omitempty" format:"date-time"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
}

// Ticket status is free-form (NEW by default) and is not governed by the
// transition table; clients move it directly through updates.
type Ticket struct {
	ID                     string           `json:"id"`
	ProjectID              string           `json:"project_id"`
	TicketCode             string           `json:"ticket_code"`
	Title                  string           `json:"title"`
	Classification         string           `json:"classification"`
	Description            string           `json:"description,omitempty"`
	Status                 string           `json:"status"`
	AssigneeID             *string          `json:"assignee_id,omitempty"`
	EffortHours            decimal.Decimal  `json:"effort_hours"`
	EstimateHours          decimal.Decimal  `json:"estimate_hours"`
	History                []map[string]any `json:"history"`
	Tags                   []string         `json:"tags"`
	DocumentationObjectIDs []string         `json:"documentation_object_ids"`
	CreatedAt              string           `json:"created_at" format:"date-time"`
	UpdatedAt              string           `json:"updated_at" format:"date-time"`
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Name         string         `json:"name,omitempty"`
	Role         string         `json:"role,omitempty"`
	PasswordHash string         `json:"-"`
	Preferences  map[string]any `json:"preferences,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}
