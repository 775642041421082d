package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"chronoline/internal/domain"
	"chronoline/internal/engine"
	"chronoline/internal/repo"
	"chronoline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot validate imputation_period in status VALIDATED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Chronoline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 validation_error
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Chronoline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerImputations(group, cfg.Engine)
	registerPeriods(group, cfg.Engine)
	registerTimeLogs(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", ve.Msg, nil)
	}
	var te workflow.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", te.Error(), map[string]any{
			"action":         te.Action,
			"current_status": te.Current,
			"allowed_from":   te.AllowedFrom,
		})
	}
	var ae engine.AuthenticationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", ae.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func parseDecimal(field, value string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, newAPIError(http.StatusBadRequest, "validation_error", fmt.Sprintf("%s must be a decimal number", field), nil)
	}
	return d, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):     true,
		path.Join("/", basePath, "auth/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Chronoline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if input.Body.Email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "email and password are required", nil)
		}
		u, err := e.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := auth.IssueToken(u, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, User: userResponse(u)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			ID:       deref(input.Body.ID),
			Email:    input.Body.Email,
			Name:     deref(input.Body.Name),
			Role:     deref(input.Body.Role),
			Password: input.Body.Password,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, raw, err := e.CreateAPIKey(ctx, input.Body.UserID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{
			ID:        k.ID,
			UserID:    k.UserID,
			Name:      k.Name,
			Key:       raw,
			CreatedAt: k.CreatedAt,
		}}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Create ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		estimate := decimal.Zero
		if input.Body.EstimateHours != nil {
			var perr huma.StatusError
			estimate, perr = parseDecimal("estimate_hours", *input.Body.EstimateHours)
			if perr != nil {
				return nil, perr
			}
		}
		t, err := e.CreateTicket(ctx, engine.TicketCreateOptions{
			ID:             deref(input.Body.ID),
			ProjectID:      input.Body.ProjectID,
			Title:          input.Body.Title,
			Classification: input.Body.Classification,
			Description:    deref(input.Body.Description),
			AssigneeID:     deref(input.Body.AssigneeID),
			EstimateHours:  estimate,
			Tags:           input.Body.Tags,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []TicketResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTickets(ctx, repo.TicketFilters{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TicketResponse `json:"body"`
		}{Body: mapTickets(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTicket(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{id}",
		Summary:     "Update ticket",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateTicketRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		changes := map[string]any{}
		if input.Body.Title != nil {
			changes["title"] = *input.Body.Title
		}
		if input.Body.Classification != nil {
			changes["classification"] = *input.Body.Classification
		}
		if input.Body.Description != nil {
			changes["description"] = *input.Body.Description
		}
		if input.Body.Status != nil {
			changes["status"] = *input.Body.Status
		}
		if input.Body.AssigneeID != nil {
			changes["assignee_id"] = *input.Body.AssigneeID
		}
		if input.Body.EffortHours != nil {
			d, perr := parseDecimal("effort_hours", *input.Body.EffortHours)
			if perr != nil {
				return nil, perr
			}
			changes["effort_hours"] = d.String()
		}
		if input.Body.EstimateHours != nil {
			d, perr := parseDecimal("estimate_hours", *input.Body.EstimateHours)
			if perr != nil {
				return nil, perr
			}
			changes["estimate_hours"] = d.String()
		}
		if input.Body.Tags != nil {
			changes["tags"] = input.Body.Tags
		}
		if input.Body.History != nil {
			changes["history"] = input.Body.History
		}
		if input.Body.DocumentationObjectIDs != nil {
			changes["documentation_object_ids"] = input.Body.DocumentationObjectIDs
		}
		t, err := e.UpdateTicket(ctx, input.ID, changes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(t)}, nil
	})
}

type idPath struct {
	ID string `path:"id"`
}

func registerImputations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-imputation",
		Method:        http.MethodPost,
		Path:          "/imputations",
		Summary:       "Create imputation",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateImputationRequest `json:"body"`
	}) (*struct {
		Body ImputationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hours, perr := parseDecimal("hours", input.Body.Hours)
		if perr != nil {
			return nil, perr
		}
		im, err := e.CreateImputation(ctx, engine.ImputationCreateOptions{
			ID:           deref(input.Body.ID),
			ConsultantID: input.Body.ConsultantID,
			TicketID:     input.Body.TicketID,
			ProjectID:    deref(input.Body.ProjectID),
			Date:         input.Body.Date,
			Hours:        hours,
			Comment:      deref(input.Body.Comment),
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImputationResponse `json:"body"`
		}{Body: imputationResponse(im)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-imputations",
		Method:      http.MethodGet,
		Path:        "/imputations",
		Summary:     "List imputations",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ConsultantID string `query:"consultant_id"`
		TicketID     string `query:"ticket_id"`
		ProjectID    string `query:"project_id"`
		Status       string `query:"status" enum:",DRAFT,SUBMITTED,VALIDATED,REJECTED"`
		Limit        int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []ImputationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListImputations(ctx, repo.ImputationFilters{
			ConsultantID: input.ConsultantID,
			TicketID:     input.TicketID,
			ProjectID:    input.ProjectID,
			Status:       input.Status,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ImputationResponse `json:"body"`
		}{Body: mapImputations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-imputation",
		Method:      http.MethodGet,
		Path:        "/imputations/{id}",
		Summary:     "Get imputation",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body ImputationResponse `json:"body"`
	}, error) {
		im, err := e.Repo.GetImputation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImputationResponse `json:"body"`
		}{Body: imputationResponse(im)}, nil
	})

	registerImputationAction(api, "validate-imputation", "/imputations/{id}/validate", "Validate imputation", e.ValidateImputation)
	registerImputationAction(api, "reject-imputation", "/imputations/{id}/reject", "Reject imputation", e.RejectImputation)
}

func registerImputationAction(api huma.API, opID, path, summary string, fn func(context.Context, string, string) (domain.Imputation, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        path,
		Summary:     summary,
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body ImputationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		im, err := fn(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImputationResponse `json:"body"`
		}{Body: imputationResponse(im)}, nil
	})
}

func registerPeriods(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-period",
		Method:        http.MethodPost,
		Path:          "/periods",
		Summary:       "Create imputation period",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePeriodRequest `json:"body"`
	}) (*struct {
		Body PeriodResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePeriod(ctx, engine.PeriodCreateOptions{
			ID:           deref(input.Body.ID),
			ConsultantID: input.Body.ConsultantID,
			PeriodKey:    input.Body.PeriodKey,
			StartDate:    input.Body.StartDate,
			EndDate:      input.Body.EndDate,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PeriodResponse `json:"body"`
		}{Body: periodResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-periods",
		Method:      http.MethodGet,
		Path:        "/periods",
		Summary:     "List imputation periods",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ConsultantID string `query:"consultant_id"`
		Status       string `query:"status" enum:",DRAFT,SUBMITTED,VALIDATED,REJECTED"`
		Limit        int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []PeriodResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPeriods(ctx, input.ConsultantID, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PeriodResponse `json:"body"`
		}{Body: mapPeriods(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-period",
		Method:      http.MethodGet,
		Path:        "/periods/{id}",
		Summary:     "Get imputation period",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body PeriodResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPeriod(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PeriodResponse `json:"body"`
		}{Body: periodResponse(p)}, nil
	})

	registerPeriodAction(api, "submit-period", "/periods/{id}/submit", "Submit period for validation", e.SubmitPeriod)
	registerPeriodAction(api, "validate-period", "/periods/{id}/validate", "Validate period", e.ValidatePeriod)
	registerPeriodAction(api, "reject-period", "/periods/{id}/reject", "Reject period", e.RejectPeriod)
	registerPeriodAction(api, "send-period-to-stratime", "/periods/{id}/send-to-stratime", "Mark period as sent to StraTIME", e.SendPeriodToStraTIME)
}

func registerPeriodAction(api huma.API, opID, path, summary string, fn func(context.Context, string, string) (domain.ImputationPeriod, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        path,
		Summary:     summary,
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body PeriodResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := fn(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PeriodResponse `json:"body"`
		}{Body: periodResponse(p)}, nil
	})
}

func registerTimeLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-time-log",
		Method:        http.MethodPost,
		Path:          "/time-logs",
		Summary:       "Create time log",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTimeLogRequest `json:"body"`
	}) (*struct {
		Body TimeLogResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		duration, perr := parseDecimal("duration", input.Body.Duration)
		if perr != nil {
			return nil, perr
		}
		tl, err := e.CreateTimeLog(ctx, engine.TimeLogCreateOptions{
			ID:           deref(input.Body.ID),
			ConsultantID: input.Body.ConsultantID,
			TicketID:     deref(input.Body.TicketID),
			ProjectID:    deref(input.Body.ProjectID),
			Date:         input.Body.Date,
			Duration:     duration,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeLogResponse `json:"body"`
		}{Body: timeLogResponse(tl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-time-logs",
		Method:      http.MethodGet,
		Path:        "/time-logs",
		Summary:     "List time logs",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ConsultantID string `query:"consultant_id"`
		Limit        int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []TimeLogResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTimeLogs(ctx, input.ConsultantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TimeLogResponse `json:"body"`
		}{Body: mapTimeLogs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-time-log",
		Method:      http.MethodGet,
		Path:        "/time-logs/{id}",
		Summary:     "Get time log",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body TimeLogResponse `json:"body"`
	}, error) {
		tl, err := e.Repo.GetTimeLog(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeLogResponse `json:"body"`
		}{Body: timeLogResponse(tl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-time-log-to-stratime",
		Method:      http.MethodPost,
		Path:        "/time-logs/{id}/send-to-stratime",
		Summary:     "Mark time log as sent to StraTIME",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body TimeLogResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tl, err := e.SendTimeLogToStraTIME(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeLogResponse `json:"body"`
		}{Body: timeLogResponse(tl)}, nil
	})
}

func registerRecords(api huma.API, e engine.Engine) {
	type KindPath struct {
		Kind string `path:"kind" enum:"project,user,deliverable,notification,reference_value"`
	}
	type KindIDPath struct {
		Kind string `path:"kind" enum:"project,user,deliverable,notification,reference_value"`
		ID   string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records/{kind}",
		Summary:     "List records of a kind",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Kind   string `path:"kind" enum:"project,user,deliverable,notification,reference_value"`
		Filter string `query:"filter" doc:"Comma-separated column=value equality filters"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []map[string]any `json:"body"`
	}, error) {
		filters, err := parseFilter(input.Filter)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", err.Error(), nil)
		}
		items, err := e.ListRecords(ctx, input.Kind, filters, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []map[string]any `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-record",
		Method:        http.MethodPost,
		Path:          "/records/{kind}",
		Summary:       "Create record of a kind",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		KindPath
		Body map[string]any `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		rec, err := e.CreateRecord(ctx, input.Kind, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{kind}/{id}",
		Summary:     "Get record",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *KindIDPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		rec, err := e.GetRecord(ctx, input.Kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-record",
		Method:      http.MethodPatch,
		Path:        "/records/{kind}/{id}",
		Summary:     "Update record",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		KindIDPath
		Body map[string]any `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.UpdateRecord(ctx, input.Kind, input.ID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-record",
		Method:        http.MethodDelete,
		Path:          "/records/{kind}/{id}",
		Summary:       "Delete record",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *KindIDPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRecord(ctx, input.Kind, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func parseFilter(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	filters := map[string]any{}
	for _, pair := range strings.Split(raw, ",") {
		col, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("invalid filter %q", pair)
		}
		filters[strings.TrimSpace(col)] = strings.TrimSpace(val)
	}
	return filters, nil
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor     int64  `query:"cursor" doc:"Return entries older than this id; 0 starts from the newest"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		entries, err := e.Repo.ListAudit(ctx, input.Limit, input.Cursor, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: auditResponse(entries)}, nil
	})
}
