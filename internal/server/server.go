package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"prosync/internal/config"
	"prosync/internal/domain"
	"prosync/internal/engine"
	"prosync/internal/engine/auth"
	"prosync/internal/events"
	"prosync/internal/normalize"
	"prosync/internal/remote"
	"prosync/internal/repo"
	"prosync/internal/syncer"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Sync     *syncer.Coordinator
	Hub      *events.Hub
	BasePath string
	Auth     AuthConfig
	Webhooks []config.Webhook
}

// Handler serves the API and owns the webhook dispatcher.
type Handler struct {
	http.Handler
	stop func()
}

// Close stops webhook delivery.
func (h *Handler) Close() {
	if h.stop != nil {
		h.stop()
	}
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project 7f3c: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"title\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the prosync API.
func New(cfg Config) (*Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Engine.Store == nil {
		return nil, errors.New("server: engine store is required")
	}
	if len(cfg.Auth.Sessions.Secret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.Auth.Sessions.Secret = secret
		cfg.Auth.logger().Printf("WARNING: auth.jwt_secret not set; using an ephemeral key, sessions end on restart")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Store))
	hcfg := huma.DefaultConfig("prosync API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerAgenda(group, cfg.Engine)
	if cfg.Hub != nil {
		registerChanges(group, cfg.Engine, cfg.Hub)
	}
	if cfg.Sync != nil {
		registerSync(group, cfg.Sync)
	}
	registerOpenAPI(router, api, basePath)

	stop := startWebhookDispatcher(cfg.Hub, cfg.Webhooks, cfg.Auth.Logger)
	return &Handler{Handler: router, stop: stop}, nil
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	case errors.Is(err, auth.ErrBlocked):
		return newAPIError(http.StatusForbidden, "blocked", err.Error(), nil)
	case errors.Is(err, syncer.ErrBusy):
		return newAPIError(http.StatusConflict, "busy", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var nve *normalize.ValidationError
	if errors.As(err, &nve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ce *repo.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"field": ce.Field, "value": ce.Value})
	}
	var pe *repo.PersistError
	if errors.As(err, &pe) {
		details := map[string]any{"error": pe.Err.Error()}
		if pe.Hint != "" {
			details["hint"] = pe.Hint
		}
		return newAPIError(http.StatusInternalServerError, "persist_failed", err.Error(), details)
	}
	var rse *remote.StatusError
	if errors.As(err, &rse) {
		return newAPIError(http.StatusBadGateway, "remote_failed", err.Error(), map[string]any{"error": err.Error(), "status": rse.Status})
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "remote_failed", err.Error(), map[string]any{"error": ue.Err.Error()})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
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
			if public[route] {
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
    <title>prosync API Docs</title>
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
      Sign in with POST /auth/login, then send Authorization: Bearer &lt;token&gt;.
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
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Open a session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		UserAgent string       `header:"User-Agent"`
		Body      LoginRequest `json:"body"`
	}) (*jsonBody[LoginResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		sess, err := authCfg.Sessions.Issue(u.ID, input.Body.Remember, input.UserAgent)
		if err != nil {
			return nil, handleError(err)
		}
		authCfg.logger().Printf("auth: %s signed in", u.Username)
		return reply(LoginResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: u}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[domain.User], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return reply(p.User), nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[[]domain.User], error) {
		users, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(users), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *jsonBody[UserRequest]) (*jsonBody[domain.User], error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		u, err := e.SaveUser(ctx, input.Body.input(""))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Update user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		UserID string      `path:"user_id"`
		Body   UserRequest `json:"body"`
	}) (*jsonBody[domain.User], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body.input(input.UserID)
		if !p.User.IsAdmin {
			// Members may edit their own profile but not their role flags.
			if p.User.ID != input.UserID {
				return nil, handleError(auth.RequireAdmin(p.User))
			}
			in.IsAdmin = p.User.IsAdmin
			in.Status = p.User.Status
		}
		u, err := e.SaveUser(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-user",
		Method:      http.MethodDelete,
		Path:        "/users/{user_id}",
		Summary:     "Delete user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		p, err := requireAdmin(ctx)
		if err != nil {
			return nil, err
		}
		if p.User.ID == input.UserID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "cannot delete the signed-in user", nil)
		}
		if err := e.DeleteUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects with progress",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[[]ProjectResponse], error) {
		views, err := e.ListProjectViews(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(views), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *jsonBody[ProjectRequest]) (*jsonBody[ProjectResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.SaveProject(ctx, input.Body.input(""))
		if err != nil {
			return nil, handleError(err)
		}
		return projectView(ctx, e, p.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*jsonBody[ProjectResponse], error) {
		return projectView(ctx, e, input.ProjectID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ProjectRequest `json:"body"`
	}) (*jsonBody[ProjectResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := e.SaveProject(ctx, input.Body.input(input.ProjectID)); err != nil {
			return nil, handleError(err)
		}
		return projectView(ctx, e, input.ProjectID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/status",
		Summary:     "Move project to a board column",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      StatusRequest `json:"body"`
	}) (*jsonBody[ProjectResponse], error) {
		if _, err := e.SetStatus(ctx, input.ProjectID, domain.ProjectStatus(input.Body.Status)); err != nil {
			return nil, handleError(err)
		}
		return projectView(ctx, e, input.ProjectID)
	})
}

func projectView(ctx context.Context, e engine.Engine, id string) (*jsonBody[ProjectResponse], error) {
	v, err := e.ProjectView(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(v), nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Add task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      AddTaskRequest `json:"body"`
	}) (*jsonBody[domain.Task], error) {
		t, err := e.AddTask(ctx, input.ProjectID, engine.TaskInput{
			Title:         input.Body.Title,
			Stage:         domain.Stage(input.Body.Stage),
			ResponsibleID: input.Body.ResponsibleID,
			Observations:  input.Body.Observations,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/toggle",
		Summary:     "Toggle task completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `path:"task_id"`
	}) (*jsonBody[domain.Task], error) {
		t, err := e.ToggleTask(ctx, input.ProjectID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-task",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Remove task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `path:"task_id"`
	}) (*struct{}, error) {
		if err := e.RemoveTask(ctx, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/comments",
		Summary:       "Post to the project channel",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      CommentRequest `json:"body"`
	}) (*jsonBody[domain.Comment], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ProjectID, p.User.ID, input.Body.Content, input.Body.TargetUserID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard counters",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[engine.Stats], error) {
		s, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})
}

func registerAgenda(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agenda",
		Method:      http.MethodGet,
		Path:        "/agenda",
		Summary:     "List agenda items",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*jsonBody[[]domain.AgendaItem], error) {
		items, err := e.ListAgenda(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-agenda-item",
		Method:      http.MethodPost,
		Path:        "/agenda",
		Summary:     "Create or update an agenda item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *jsonBody[AgendaRequest]) (*jsonBody[domain.AgendaItem], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it := input.Body.item()
		if it.UserID == "" {
			it.UserID = p.User.ID
		}
		saved, err := e.SaveAgendaItem(ctx, it)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(saved), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agenda-item",
		Method:      http.MethodDelete,
		Path:        "/agenda/{item_id}",
		Summary:     "Delete agenda item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct{}, error) {
		if err := e.DeleteAgendaItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
