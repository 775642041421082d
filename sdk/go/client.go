package chronolinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Chronoline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Imputation represents logged hours against a ticket.
type Imputation struct {
	ID               string  `json:"id"`
	ConsultantID     string  `json:"consultant_id"`
	TicketID         string  `json:"ticket_id"`
	ProjectID        string  `json:"project_id"`
	Date             string  `json:"date"`
	Hours            string  `json:"hours"`
	Comment          string  `json:"comment,omitempty"`
	ValidationStatus string  `json:"validation_status"`
	ValidatedBy      *string `json:"validated_by,omitempty"`
	ValidatedAt      *string `json:"validated_at,omitempty"`
}

// Period represents an imputation period.
type Period struct {
	ID             string  `json:"id"`
	ConsultantID   string  `json:"consultant_id"`
	PeriodKey      string  `json:"period_key"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	Status         string  `json:"status"`
	SentToStraTIME bool    `json:"sent_to_stratime"`
	SubmittedAt    *string `json:"submitted_at,omitempty"`
	SentAt         *string `json:"sent_at,omitempty"`
}

// TimeLog represents a raw time entry.
type TimeLog struct {
	ID             string  `json:"id"`
	ConsultantID   string  `json:"consultant_id"`
	TicketID       string  `json:"ticket_id,omitempty"`
	Date           string  `json:"date"`
	Duration       string  `json:"duration"`
	SentToStraTIME bool    `json:"sent_to_stratime"`
	SentAt         *string `json:"sent_at,omitempty"`
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	TicketCode     string   `json:"ticket_code"`
	Title          string   `json:"title"`
	Classification string   `json:"classification"`
	Status         string   `json:"status"`
	Tags           []string `json:"tags"`
}

// LoginResult is the token issued by /auth/login.
type LoginResult struct {
	Token string `json:"token"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp LoginResult
	err := c.do(ctx, http.MethodPost, "v0/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateTicket creates a ticket.
func (c *Client) CreateTicket(ctx context.Context, projectID, title, classification string) (Ticket, error) {
	body := map[string]any{
		"project_id":     projectID,
		"title":          title,
		"classification": classification,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, "v0/tickets", body, &resp)
	return resp, err
}

// CreateImputation logs hours against a ticket.
func (c *Client) CreateImputation(ctx context.Context, consultantID, ticketID, date, hours string) (Imputation, error) {
	body := map[string]any{
		"consultant_id": consultantID,
		"ticket_id":     ticketID,
		"date":          date,
		"hours":         hours,
	}
	var resp Imputation
	err := c.do(ctx, http.MethodPost, "v0/imputations", body, &resp)
	return resp, err
}

// ValidateImputation moves an imputation to VALIDATED.
func (c *Client) ValidateImputation(ctx context.Context, id string) (Imputation, error) {
	var resp Imputation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/imputations/%s/validate", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RejectImputation moves an imputation to REJECTED.
func (c *Client) RejectImputation(ctx context.Context, id string) (Imputation, error) {
	var resp Imputation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/imputations/%s/reject", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CreatePeriod opens an imputation period.
func (c *Client) CreatePeriod(ctx context.Context, consultantID, periodKey, startDate, endDate string) (Period, error) {
	body := map[string]any{
		"consultant_id": consultantID,
		"period_key":    periodKey,
		"start_date":    startDate,
		"end_date":      endDate,
	}
	var resp Period
	err := c.do(ctx, http.MethodPost, "v0/periods", body, &resp)
	return resp, err
}

// SubmitPeriod submits a period for validation.
func (c *Client) SubmitPeriod(ctx context.Context, id string) (Period, error) {
	return c.periodAction(ctx, id, "submit")
}

// ValidatePeriod validates a submitted period.
func (c *Client) ValidatePeriod(ctx context.Context, id string) (Period, error) {
	return c.periodAction(ctx, id, "validate")
}

// RejectPeriod rejects a submitted period.
func (c *Client) RejectPeriod(ctx context.Context, id string) (Period, error) {
	return c.periodAction(ctx, id, "reject")
}

// SendPeriodToStraTIME marks a period as exported.
func (c *Client) SendPeriodToStraTIME(ctx context.Context, id string) (Period, error) {
	return c.periodAction(ctx, id, "send-to-stratime")
}

func (c *Client) periodAction(ctx context.Context, id, action string) (Period, error) {
	var resp Period
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/periods/%s/%s", url.PathEscape(id), action), nil, &resp)
	return resp, err
}

// SendTimeLogToStraTIME marks a time log as exported.
func (c *Client) SendTimeLogToStraTIME(ctx context.Context, id string) (TimeLog, error) {
	var resp TimeLog
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/time-logs/%s/send-to-stratime", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListImputations returns imputations filtered by consultant and status.
func (c *Client) ListImputations(ctx context.Context, consultantID, status string, limit int) ([]Imputation, error) {
	q := url.Values{}
	if consultantID != "" {
		q.Set("consultant_id", consultantID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v0/imputations"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Imputation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
