package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"chronoline/internal/db"
	"chronoline/internal/engine"
	"chronoline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerWith(t, AuthConfig{JWTSecret: "test-secret", TokenTTLMinutes: 60})
}

func newTestServerWith(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// loginAs seeds a user and returns a bearer header for it.
func loginAs(t *testing.T, srv *testServer, email string) (map[string]string, string) {
	t.Helper()
	u, err := srv.Engine.CreateUser(context.Background(), engine.UserCreateOptions{
		Email:    email,
		Password: "s3cret",
		Role:     "manager",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email":    email,
		"password": "s3cret",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var body LoginResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if body.Token == "" {
		t.Fatal("empty token")
	}
	return map[string]string{"Authorization": "Bearer " + body.Token}, u.ID
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tickets", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("code: %s", env.Error.Code)
	}
	// The legacy actor header is not accepted unless enabled.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tickets", nil, map[string]string{"X-Actor-Id": "someone"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header status %d", res.StatusCode)
	}
}

func TestLegacyActorHeaderWhenEnabled(t *testing.T) {
	srv, cleanup := newTestServerWith(t, AuthConfig{
		JWTSecret:              "test-secret",
		TokenTTLMinutes:        60,
		AllowLegacyActorHeader: true,
	})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tickets", nil, map[string]string{"X-Actor-Id": "someone"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	if _, err := srv.Engine.CreateUser(context.Background(), engine.UserCreateOptions{
		Email: "alice@example.com", Password: "s3cret",
	}); err != nil {
		t.Fatal(err)
	}
	for _, creds := range []map[string]any{
		{"email": "alice@example.com", "password": "wrong"},
		{"email": "nobody@example.com", "password": "s3cret"},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", creds, nil)
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status %d: %s", res.StatusCode, string(data))
		}
		if env := decodeError(t, data); env.Error.Code != "invalid_credentials" {
			t.Fatalf("code: %s", env.Error.Code)
		}
	}
}

func TestMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, userID := loginAs(t, srv, "alice@example.com")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != userID {
		t.Fatalf("me: %s vs %s", me.ID, userID)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	u, err := srv.Engine.CreateUser(ctx, engine.UserCreateOptions{Email: "ci@example.com", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	_, raw, err := srv.Engine.CreateAPIKey(ctx, u.ID, "ci", "")
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tickets", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tickets", nil, map[string]string{"X-Api-Key": "clk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key status %d", res.StatusCode)
	}
}

func TestImputationWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := loginAs(t, srv, "manager@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/records/project", map[string]any{
		"id":   "proj-1",
		"name": "Internal Tools",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tickets", map[string]any{
		"project_id":     "proj-1",
		"title":          "Broken login",
		"classification": "INCIDENT",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create ticket status %d: %s", res.StatusCode, string(data))
	}
	var ticket TicketResponse
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatal(err)
	}
	if ticket.TicketCode == "" {
		t.Fatal("ticket code missing")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/imputations", map[string]any{
		"consultant_id": "consultant-1",
		"ticket_id":     ticket.ID,
		"date":          "2026-08-28",
		"hours":         "7.5",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create imputation status %d: %s", res.StatusCode, string(data))
	}
	var imp ImputationResponse
	if err := json.Unmarshal(data, &imp); err != nil {
		t.Fatal(err)
	}
	if imp.ProjectID != "proj-1" || imp.Hours != "7.5" {
		t.Fatalf("imputation: %s %s", imp.ProjectID, imp.Hours)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/imputations/"+imp.ID+"/validate", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var validated ImputationResponse
	if err := json.Unmarshal(data, &validated); err != nil {
		t.Fatal(err)
	}
	if validated.ValidationStatus != "VALIDATED" {
		t.Fatalf("status: %s", validated.ValidationStatus)
	}
	if validated.ValidatedBy == nil {
		t.Fatal("validated_by missing")
	}

	// Rejecting a validated imputation conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/imputations/"+imp.ID+"/reject", nil, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("code: %s", env.Error.Code)
	}
	if env.Error.Details["current_status"] != "VALIDATED" || env.Error.Details["action"] != "reject" {
		t.Fatalf("details: %#v", env.Error.Details)
	}
}

func TestPeriodWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := loginAs(t, srv, "manager@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/periods", map[string]any{
		"consultant_id": "consultant-1",
		"period_key":    "2026-08",
		"start_date":    "2026-08-01",
		"end_date":      "2026-08-31",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create period status %d: %s", res.StatusCode, string(data))
	}
	var p PeriodResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}

	// Duplicate key is a validation error, not a 500.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/periods", map[string]any{
		"consultant_id": "consultant-1",
		"period_key":    "2026-08",
		"start_date":    "2026-08-01",
		"end_date":      "2026-08-31",
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "validation_error" {
		t.Fatalf("code: %s", env.Error.Code)
	}

	for _, action := range []string{"submit", "validate", "send-to-stratime"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/periods/"+p.ID+"/"+action, nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", action, res.StatusCode, string(data))
		}
	}
	var sent PeriodResponse
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatal(err)
	}
	if !sent.SentToStraTIME || sent.Status != "VALIDATED" {
		t.Fatalf("final period: %v %s", sent.SentToStraTIME, sent.Status)
	}
}

func TestUnknownIDsReturn404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := loginAs(t, srv, "manager@example.com")
	for _, url := range []string{
		srv.URL + "/v0/tickets/ghost",
		srv.URL + "/v0/imputations/ghost",
		srv.URL + "/v0/periods/ghost",
		srv.URL + "/v0/records/project/ghost",
	} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, headers)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status %d: %s", url, res.StatusCode, string(data))
		}
		if env := decodeError(t, data); env.Error.Code != "not_found" {
			t.Fatalf("code: %s", env.Error.Code)
		}
	}
}

func TestRecordsCRUDOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := loginAs(t, srv, "admin@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/records/reference_value", map[string]any{
		"category": "classification",
		"code":     "INCIDENT",
		"label":    "Incident",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatalf("no generated id: %#v", rec)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/records/reference_value?filter=category%3Dclassification", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []map[string]any
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d", len(listed))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/records/reference_value/"+id, map[string]any{
		"label": "Production incident",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/records/reference_value/"+id, nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}

	// Workflow kinds are rejected by the path enum.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/records/imputation", nil, headers)
	if res.StatusCode == http.StatusOK {
		t.Fatal("imputation must not be listable as a generic record")
	}
}

func TestAuditFeedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := loginAs(t, srv, "admin@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/records/project", map[string]any{
		"id": "proj-1", "name": "Audited",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/audit?entity_kind=project&entity_id=proj-1", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var entries []AuditEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "project.created" {
		t.Fatalf("entries: %#v", entries)
	}
}

func TestOpenAPISpecConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	type result struct {
		body []byte
		err  error
	}
	results := make(chan result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				results <- result{err: err}
				return
			}
			defer res.Body.Close()
			body, err := io.ReadAll(res.Body)
			results <- result{body: body, err: err}
		}()
	}
	var first []byte
	for i := 0; i < 4; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("fetch spec: %v", r.err)
		}
		if len(r.body) == 0 {
			t.Fatal("empty spec")
		}
		if first == nil {
			first = r.body
		} else if !bytes.Equal(first, r.body) {
			t.Fatal("spec differs across concurrent fetches")
		}
	}
}
