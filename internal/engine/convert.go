package engine

import (
	"github.com/shopspring/decimal"

	"chronoline/internal/domain"
)

// Converters from the record maps the dispatcher returns back to typed
// entities. SQLite hands integers back as int64 and everything else as
// text, so each accessor normalizes one shape.

func recString(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func recStringPtr(rec map[string]any, key string) *string {
	s, ok := rec[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func recBool(rec map[string]any, key string) bool {
	n, _ := rec[key].(int64)
	return n != 0
}

func recDecimal(rec map[string]any, key string) decimal.Decimal {
	s, ok := rec[key].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func imputationFromRecord(rec map[string]any) domain.Imputation {
	return domain.Imputation{
		ID:               recString(rec, "id"),
		ConsultantID:     recString(rec, "consultant_id"),
		TicketID:         recString(rec, "ticket_id"),
		ProjectID:        recString(rec, "project_id"),
		Date:             recString(rec, "date"),
		Hours:            recDecimal(rec, "hours"),
		Comment:          recString(rec, "comment"),
		ValidationStatus: recString(rec, "validation_status"),
		ValidatedBy:      recStringPtr(rec, "validated_by"),
		ValidatedAt:      recStringPtr(rec, "validated_at"),
		CreatedAt:        recString(rec, "created_at"),
		UpdatedAt:        recString(rec, "updated_at"),
	}
}

func periodFromRecord(rec map[string]any) domain.ImputationPeriod {
	return domain.ImputationPeriod{
		ID:             recString(rec, "id"),
		ConsultantID:   recString(rec, "consultant_id"),
		PeriodKey:      recString(rec, "period_key"),
		StartDate:      recString(rec, "start_date"),
		EndDate:        recString(rec, "end_date"),
		Status:         recString(rec, "status"),
		SentToStraTIME: recBool(rec, "sent_to_stratime"),
		SubmittedAt:    recStringPtr(rec, "submitted_at"),
		ValidatedBy:    recStringPtr(rec, "validated_by"),
		ValidatedAt:    recStringPtr(rec, "validated_at"),
		SentBy:         recStringPtr(rec, "sent_by"),
		SentAt:         recStringPtr(rec, "sent_at"),
		CreatedAt:      recString(rec, "created_at"),
		UpdatedAt:      recString(rec, "updated_at"),
	}
}

func timeLogFromRecord(rec map[string]any) domain.TimeLog {
	return domain.TimeLog{
		ID:             recString(rec, "id"),
		ConsultantID:   recString(rec, "consultant_id"),
		TicketID:       recString(rec, "ticket_id"),
		ProjectID:      recString(rec, "project_id"),
		Date:           recString(rec, "date"),
		Duration:       recDecimal(rec, "duration"),
		SentToStraTIME: recBool(rec, "sent_to_stratime"),
		SentAt:         recStringPtr(rec, "sent_at"),
		CreatedAt:      recString(rec, "created_at"),
	}
}
