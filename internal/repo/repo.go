package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"chronoline/internal/codec"
	"chronoline/internal/domain"
	"chronoline/internal/schema"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- imputations ---

func (r Repo) InsertImputation(ctx context.Context, im domain.Imputation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO imputations(id,consultant_id,ticket_id,project_id,date,hours,comment,validation_status,validated_by,validated_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		im.ID, im.ConsultantID, im.TicketID, im.ProjectID, im.Date, im.Hours.String(), nullable(im.Comment),
		im.ValidationStatus, nullableStringPtr(im.ValidatedBy), nullableStringPtr(im.ValidatedAt), im.CreatedAt, im.UpdatedAt)
	return err
}

func (r Repo) GetImputation(ctx context.Context, id string) (domain.Imputation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,consultant_id,ticket_id,project_id,date,hours,comment,validation_status,validated_by,validated_at,created_at,updated_at FROM imputations WHERE id=?`, id)
	return scanImputation(row.Scan)
}

type ImputationFilters struct {
	ConsultantID string
	TicketID     string
	ProjectID    string
	Status       string
	Limit        int
}

func (r Repo) ListImputations(ctx context.Context, f ImputationFilters) ([]domain.Imputation, error) {
	var clauses []string
	var args []any
	if f.ConsultantID != "" {
		clauses = append(clauses, "consultant_id=?")
		args = append(args, f.ConsultantID)
	}
	if f.TicketID != "" {
		clauses = append(clauses, "ticket_id=?")
		args = append(args, f.TicketID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "validation_status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,consultant_id,ticket_id,project_id,date,hours,comment,validation_status,validated_by,validated_at,created_at,updated_at FROM imputations ` + where + ` ORDER BY date DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Imputation
	for rows.Next() {
		im, err := scanImputation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, im)
	}
	return res, rows.Err()
}

func scanImputation(scan func(...any) error) (domain.Imputation, error) {
	var im domain.Imputation
	var hours string
	var comment, validatedBy, validatedAt sql.NullString
	err := scan(&im.ID, &im.ConsultantID, &im.TicketID, &im.ProjectID, &im.Date, &hours, &comment,
		&im.ValidationStatus, &validatedBy, &validatedAt, &im.CreatedAt, &im.UpdatedAt)
	if err == sql.ErrNoRows {
		return im, ErrNotFound
	}
	if err != nil {
		return im, err
	}
	im.Hours, err = decimal.NewFromString(hours)
	if err != nil {
		return im, fmt.Errorf("imputation %s: bad hours %q: %w", im.ID, hours, err)
	}
	if comment.Valid {
		im.Comment = comment.String
	}
	if validatedBy.Valid {
		im.ValidatedBy = &validatedBy.String
	}
	if validatedAt.Valid {
		im.ValidatedAt = &validatedAt.String
	}
	return im, nil
}

// --- imputation periods ---

func (r Repo) InsertPeriod(ctx context.Context, p domain.ImputationPeriod) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO imputation_periods(id,consultant_id,period_key,start_date,end_date,status,sent_to_stratime,submitted_at,validated_by,validated_at,sent_by,sent_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ConsultantID, p.PeriodKey, p.StartDate, p.EndDate, p.Status, boolToInt(p.SentToStraTIME),
		nullableStringPtr(p.SubmittedAt), nullableStringPtr(p.ValidatedBy), nullableStringPtr(p.ValidatedAt),
		nullableStringPtr(p.SentBy), nullableStringPtr(p.SentAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPeriod(ctx context.Context, id string) (domain.ImputationPeriod, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,consultant_id,period_key,start_date,end_date,status,sent_to_stratime,submitted_at,validated_by,validated_at,sent_by,sent_at,created_at,updated_at FROM imputation_periods WHERE id=?`, id)
	return scanPeriod(row.Scan)
}

func (r Repo) ListPeriods(ctx context.Context, consultantID, status string, limit int) ([]domain.ImputationPeriod, error) {
	clauses := []string{"1=1"}
	var args []any
	if consultantID != "" {
		clauses = append(clauses, "consultant_id=?")
		args = append(args, consultantID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT id,consultant_id,period_key,start_date,end_date,status,sent_to_stratime,submitted_at,validated_by,validated_at,sent_by,sent_at,created_at,updated_at FROM imputation_periods WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY period_key DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ImputationPeriod
	for rows.Next() {
		p, err := scanPeriod(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanPeriod(scan func(...any) error) (domain.ImputationPeriod, error) {
	var p domain.ImputationPeriod
	var sent int
	var submittedAt, validatedBy, validatedAt, sentBy, sentAt sql.NullString
	err := scan(&p.ID, &p.ConsultantID, &p.PeriodKey, &p.StartDate, &p.EndDate, &p.Status, &sent,
		&submittedAt, &validatedBy, &validatedAt, &sentBy, &sentAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.SentToStraTIME = sent != 0
	if submittedAt.Valid {
		p.SubmittedAt = &submittedAt.String
	}
	if validatedBy.Valid {
		p.ValidatedBy = &validatedBy.String
	}
	if validatedAt.Valid {
		p.ValidatedAt = &validatedAt.String
	}
	if sentBy.Valid {
		p.SentBy = &sentBy.String
	}
	if sentAt.Valid {
		p.SentAt = &sentAt.String
	}
	return p, nil
}

// --- time logs ---

func (r Repo) InsertTimeLog(ctx context.Context, tl domain.TimeLog) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO time_logs(id,consultant_id,ticket_id,project_id,date,duration,sent_to_stratime,sent_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		tl.ID, tl.ConsultantID, tl.TicketID, tl.ProjectID, tl.Date, tl.Duration.String(),
		boolToInt(tl.SentToStraTIME), nullableStringPtr(tl.SentAt), tl.CreatedAt)
	return err
}

func (r Repo) GetTimeLog(ctx context.Context, id string) (domain.TimeLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,consultant_id,ticket_id,project_id,date,duration,sent_to_stratime,sent_at,created_at FROM time_logs WHERE id=?`, id)
	return scanTimeLog(row.Scan)
}

func (r Repo) ListTimeLogs(ctx context.Context, consultantID string, limit int) ([]domain.TimeLog, error) {
	query := `SELECT id,consultant_id,ticket_id,project_id,date,duration,sent_to_stratime,sent_at,created_at FROM time_logs`
	var args []any
	if consultantID != "" {
		query += ` WHERE consultant_id=?`
		args = append(args, consultantID)
	}
	query += ` ORDER BY date DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeLog
	for rows.Next() {
		tl, err := scanTimeLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, tl)
	}
	return res, rows.Err()
}

func scanTimeLog(scan func(...any) error) (domain.TimeLog, error) {
	var tl domain.TimeLog
	var duration string
	var sent int
	var sentAt sql.NullString
	err := scan(&tl.ID, &tl.ConsultantID, &tl.TicketID, &tl.ProjectID, &tl.Date, &duration, &sent, &sentAt, &tl.CreatedAt)
	if err == sql.ErrNoRows {
		return tl, ErrNotFound
	}
	if err != nil {
		return tl, err
	}
	tl.Duration, err = decimal.NewFromString(duration)
	if err != nil {
		return tl, fmt.Errorf("time log %s: bad duration %q: %w", tl.ID, duration, err)
	}
	tl.SentToStraTIME = sent != 0
	if sentAt.Valid {
		tl.SentAt = &sentAt.String
	}
	return tl, nil
}

// --- tickets ---

func (r Repo) InsertTicket(ctx context.Context, t domain.Ticket, history, tags, docIDs string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tickets(id,project_id,ticket_code,title,classification,description,status,assignee_id,effort_hours,estimate_hours,history,tags,documentation_object_ids,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.TicketCode, t.Title, t.Classification, nullable(t.Description), t.Status,
		nullableStringPtr(t.AssigneeID), t.EffortHours.String(), t.EstimateHours.String(),
		nullable(history), nullable(tags), nullable(docIDs), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,ticket_code,title,classification,description,status,assignee_id,effort_hours,estimate_hours,history,tags,documentation_object_ids,created_at,updated_at FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

type TicketFilters struct {
	ProjectID string
	Status    string
	Limit     int
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT id,project_id,ticket_code,title,classification,description,status,assignee_id,effort_hours,estimate_hours,history,tags,documentation_object_ids,created_at,updated_at FROM tickets WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTicketCodes counts codes sharing a year prefix, e.g. "TK-2026-".
func (r Repo) CountTicketCodes(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE ticket_code LIKE ?`, prefix+"%").Scan(&n)
	return n, err
}

func scanTicket(scan func(...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var effort, estimate string
	var description, assigneeID, history, tags, docIDs sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.TicketCode, &t.Title, &t.Classification, &description, &t.Status,
		&assigneeID, &effort, &estimate, &history, &tags, &docIDs, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.EffortHours, err = decimal.NewFromString(effort)
	if err != nil {
		return t, fmt.Errorf("ticket %s: bad effort_hours %q: %w", t.ID, effort, err)
	}
	t.EstimateHours, err = decimal.NewFromString(estimate)
	if err != nil {
		return t, fmt.Errorf("ticket %s: bad estimate_hours %q: %w", t.ID, estimate, err)
	}
	if description.Valid {
		t.Description = description.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	ent, _ := schema.Lookup(schema.KindTicket)
	t.History = codec.DecodeObjectList(ent, history.String)
	t.Tags = codec.DecodeList(ent, tags.String)
	t.DocumentationObjectIDs = codec.DecodeList(ent, docIDs.String)
	return t, nil
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User, preferences string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,role,password_hash,preferences,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.Name), nullable(u.Role), u.PasswordHash, nullable(preferences), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),COALESCE(role,''),password_hash,COALESCE(preferences,''),created_at,updated_at FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),COALESCE(role,''),password_hash,COALESCE(preferences,''),created_at,updated_at FROM users WHERE email=?`, email)
	return scanUser(row.Scan)
}

func scanUser(scan func(...any) error) (domain.User, error) {
	var u domain.User
	var prefs string
	err := scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if prefs != "" {
		ent, _ := schema.Lookup(schema.KindUser)
		if decoded := codec.Decode(ent, map[string]any{"preferences": prefs}); decoded != nil {
			if obj, ok := decoded["preferences"].(map[string]any); ok {
				u.Preferences = obj
			}
		}
	}
	return u, nil
}

// --- audit ---

func (r Repo) ListAudit(ctx context.Context, limit int, cursor int64, entityKind, entityID string) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,action,entity_kind,entity_id,actor_id,payload_json FROM audit_log WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var actor, payload sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.Action, &a.EntityKind, &a.EntityID, &actor, &payload); err != nil {
			return nil, err
		}
		if actor.Valid {
			a.ActorID = actor.String
		}
		if payload.Valid {
			a.Payload = payload.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AuditAfter returns entries with id greater than after, oldest first.
func (r Repo) AuditAfter(ctx context.Context, limit int, after int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,action,entity_kind,entity_id,actor_id,payload_json FROM audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var actor, payload sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.Action, &a.EntityKind, &a.EntityID, &actor, &payload); err != nil {
			return nil, err
		}
		if actor.Valid {
			a.ActorID = actor.String
		}
		if payload.Valid {
			a.Payload = payload.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestAuditID returns the highest audit row id, 0 when empty.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id)
	return id, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
