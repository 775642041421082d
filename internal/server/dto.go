package server

import (
	"chronoline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateTicketRequest struct {
	ID             *string  `json:"id,omitempty"`
	ProjectID      string   `json:"project_id"`
	Title          string   `json:"title"`
	Classification string   `json:"classification"`
	Description    *string  `json:"description,omitempty"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	EstimateHours  *string  `json:"estimate_hours,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type UpdateTicketRequest struct {
	Title                  *string          `json:"title,omitempty"`
	Classification         *string          `json:"classification,omitempty"`
	Description            *string          `json:"description,omitempty"`
	Status                 *string          `json:"status,omitempty"`
	AssigneeID             *string          `json:"assignee_id,omitempty"`
	EffortHours            *string          `json:"effort_hours,omitempty"`
	EstimateHours          *string          `json:"estimate_hours,omitempty"`
	Tags                   []string         `json:"tags,omitempty"`
	History                []map[string]any `json:"history,omitempty"`
	DocumentationObjectIDs []string         `json:"documentation_object_ids,omitempty"`
}

type CreateImputationRequest struct {
	ID           *string `json:"id,omitempty"`
	ConsultantID string  `json:"consultant_id"`
	TicketID     string  `json:"ticket_id"`
	ProjectID    *string `json:"project_id,omitempty"`
	Date         string  `json:"date" format:"date"`
	Hours        string  `json:"hours"`
	Comment      *string `json:"comment,omitempty"`
}

type CreatePeriodRequest struct {
	ID           *string `json:"id,omitempty"`
	ConsultantID string  `json:"consultant_id"`
	PeriodKey    string  `json:"period_key"`
	StartDate    string  `json:"start_date" format:"date"`
	EndDate      string  `json:"end_date" format:"date"`
}

type CreateTimeLogRequest struct {
	ID           *string `json:"id,omitempty"`
	ConsultantID string  `json:"consultant_id"`
	TicketID     *string `json:"ticket_id,omitempty"`
	ProjectID    *string `json:"project_id,omitempty"`
	Date         string  `json:"date" format:"date"`
	Duration     string  `json:"duration"`
}

type CreateUserRequest struct {
	ID       *string `json:"id,omitempty"`
	Email    string  `json:"email" format:"email"`
	Name     *string `json:"name,omitempty"`
	Role     *string `json:"role,omitempty"`
	Password string  `json:"password"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Name        string         `json:"name,omitempty"`
	Role        string         `json:"role,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty" jsonschema:"type=object,additionalProperties=true"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TicketResponse struct {
	ID                     string           `json:"id"`
	ProjectID              string           `json:"project_id"`
	TicketCode             string           `json:"ticket_code"`
	Title                  string           `json:"title"`
	Classification         string           `json:"classification"`
	Description            string           `json:"description,omitempty"`
	Status                 string           `json:"status"`
	AssigneeID             *string          `json:"assignee_id,omitempty"`
	EffortHours            string           `json:"effort_hours"`
	EstimateHours          string           `json:"estimate_hours"`
	History                []map[string]any `json:"history"`
	Tags                   []string         `json:"tags"`
	DocumentationObjectIDs []string         `json:"documentation_object_ids"`
	CreatedAt              string           `json:"created_at" format:"date-time"`
	UpdatedAt              string           `json:"updated_at" format:"date-time"`
}

type ImputationResponse struct {
	ID               string  `json:"id"`
	ConsultantID     string  `json:"consultant_id"`
	TicketID         string  `json:"ticket_id"`
	ProjectID        string  `json:"project_id"`
	Date             string  `json:"date" format:"date"`
	Hours            string  `json:"hours"`
	Comment          string  `json:"comment,omitempty"`
	ValidationStatus string  `json:"validation_status" enum:"DRAFT,SUBMITTED,VALIDATED,REJECTED"`
	ValidatedBy      *string `json:"validated_by,omitempty"`
	ValidatedAt      *string `json:"validated_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type PeriodResponse struct {
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

type TimeLogResponse struct {
	ID             string  `json:"id"`
	ConsultantID   string  `json:"consultant_id"`
	TicketID       string  `json:"ticket_id,omitempty"`
	ProjectID      string  `json:"project_id,omitempty"`
	Date           string  `json:"date" format:"date"`
	Duration       string  `json:"duration"`
	SentToStraTIME bool    `json:"sent_to_stratime"`
	SentAt         *string `json:"sent_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// Converters

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		Preferences: u.Preferences,
	}
}

func ticketResponse(t domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                     t.ID,
		ProjectID:              t.ProjectID,
		TicketCode:             t.TicketCode,
		Title:                  t.Title,
		Classification:         t.Classification,
		Description:            t.Description,
		Status:                 t.Status,
		AssigneeID:             t.AssigneeID,
		EffortHours:            t.EffortHours.String(),
		EstimateHours:          t.EstimateHours.String(),
		History:                t.History,
		Tags:                   t.Tags,
		DocumentationObjectIDs: t.DocumentationObjectIDs,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

func mapTickets(items []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(items))
	for _, t := range items {
		out = append(out, ticketResponse(t))
	}
	return out
}

func imputationResponse(im domain.Imputation) ImputationResponse {
	return ImputationResponse{
		ID:               im.ID,
		ConsultantID:     im.ConsultantID,
		TicketID:         im.TicketID,
		ProjectID:        im.ProjectID,
		Date:             im.Date,
		Hours:            im.Hours.String(),
		Comment:          im.Comment,
		ValidationStatus: im.ValidationStatus,
		ValidatedBy:      im.ValidatedBy,
		ValidatedAt:      im.ValidatedAt,
		CreatedAt:        im.CreatedAt,
		UpdatedAt:        im.UpdatedAt,
	}
}

func mapImputations(items []domain.Imputation) []ImputationResponse {
	out := make([]ImputationResponse, 0, len(items))
	for _, im := range items {
		out = append(out, imputationResponse(im))
	}
	return out
}

func periodResponse(p domain.ImputationPeriod) PeriodResponse {
	return PeriodResponse{
		ID:             p.ID,
		ConsultantID:   p.ConsultantID,
		PeriodKey:      p.PeriodKey,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		Status:         p.Status,
		SentToStraTIME: p.SentToStraTIME,
		SubmittedAt:    p.SubmittedAt,
		ValidatedBy:    p.ValidatedBy,
		ValidatedAt:    p.ValidatedAt,
		SentBy:         p.SentBy,
		SentAt:         p.SentAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func mapPeriods(items []domain.ImputationPeriod) []PeriodResponse {
	out := make([]PeriodResponse, 0, len(items))
	for _, p := range items {
		out = append(out, periodResponse(p))
	}
	return out
}

func timeLogResponse(tl domain.TimeLog) TimeLogResponse {
	return TimeLogResponse{
		ID:             tl.ID,
		ConsultantID:   tl.ConsultantID,
		TicketID:       tl.TicketID,
		ProjectID:      tl.ProjectID,
		Date:           tl.Date,
		Duration:       tl.Duration.String(),
		SentToStraTIME: tl.SentToStraTIME,
		SentAt:         tl.SentAt,
		CreatedAt:      tl.CreatedAt,
	}
}

func mapTimeLogs(items []domain.TimeLog) []TimeLogResponse {
	out := make([]TimeLogResponse, 0, len(items))
	for _, tl := range items {
		out = append(out, timeLogResponse(tl))
	}
	return out
}

func auditResponse(entries []domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:         e.ID,
			TS:         e.TS,
			Action:     e.Action,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}
