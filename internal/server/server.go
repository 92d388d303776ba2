package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sprintboard/internal/auth"
	"sprintboard/internal/domain"
	"sprintboard/internal/local"
	"sprintboard/internal/remote"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Repo      repo.Repo
	Rooms     local.Rooms
	JWTSecret string
	TokenTTL  time.Duration
	BasePath  string
	Logger    *zap.Logger
	Now       func() time.Time
	// JoinRate limits join attempts per client per second; zero disables the limit.
	JoinRate  float64
	JoinBurst int
	// OnBackend is called with every per-request backend before use.
	OnBackend func(*remote.Service)
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"permission_denied"`
	Message string         `json:"message" example:"permission denied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handler struct {
	cfg Config
	log *zap.Logger
}

// New returns an HTTP handler exposing the sprintboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := handler{cfg: cfg, log: cfg.Logger}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(accessLog(cfg.Logger))
	if cfg.JoinRate > 0 {
		limiter := newJoinLimiter(rate.Limit(cfg.JoinRate), cfg.JoinBurst)
		router.Use(limiter.middleware(path.Join(basePath, "rooms/join"), "/api/rooms"))
	}
	router.Use(newAuthMiddleware(basePath, h.authService, cfg.Logger))

	hcfg := huma.DefaultConfig("Sprintboard API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	h.registerHealth(group)
	h.registerAuth(group)
	h.registerRooms(group)
	h.registerTasks(group)
	h.registerStats(group)
	h.registerConfig(group)
	h.registerExport(group)
	h.registerEvents(group)
	registerOpenAPI(router, api, basePath)

	router.Route("/api/rooms", kvRooms{rooms: cfg.Rooms, log: cfg.Logger}.routes)
	return router, nil
}

func (h handler) authService() *auth.Service {
	return &auth.Service{Repo: h.cfg.Repo, Secret: h.cfg.JWTSecret, TTL: h.cfg.TokenTTL, Now: h.cfg.Now}
}

// backend builds the remote backend for one request, acting as the
// authenticated user and scoped to roomID when given.
func (h handler) backend(ctx context.Context, roomID string) (*remote.Service, error) {
	u, authErr := userFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	svc := remote.New(h.cfg.Repo, remote.Options{Session: auth.StaticSession{User: &u}, Logger: h.log, Now: h.cfg.Now})
	if h.cfg.OnBackend != nil {
		h.cfg.OnBackend(svc)
	}
	if err := svc.Initialize(ctx); err != nil {
		return nil, h.handleError(err)
	}
	if roomID != "" {
		svc.SetCurrentRoom(roomID)
	}
	return svc, nil
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

func (h handler) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		return newAPIError(http.StatusNotFound, "room_not_found", msg, nil)
	case errors.Is(err, storage.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, storage.ErrPermissionDenied):
		return newAPIError(http.StatusForbidden, "permission_denied", msg, nil)
	case errors.Is(err, storage.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", msg, nil)
	case errors.Is(err, auth.ErrEmailTaken):
		return newAPIError(http.StatusConflict, "email_taken", msg, nil)
	case errors.Is(err, storage.ErrNoRoomSelected):
		return newAPIError(http.StatusBadRequest, "no_room_selected", msg, nil)
	case errors.Is(err, storage.ErrNotImplemented):
		return newAPIError(http.StatusNotImplemented, "not_implemented", msg, nil)
	case errors.Is(err, storage.ErrConnection), errors.Is(err, storage.ErrNotInitialized):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", msg, nil)
	default:
		h.log.Error("request failed", zap.Error(err))
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
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
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):      true,
		path.Join(basePath, "auth/signup"): true,
		path.Join(basePath, "auth/signin"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
    <title>Sprintboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func (h handler) registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body storage.Health `json:"body"`
	}, error) {
		hc := storage.Health{Status: storage.Healthy, Timestamp: domain.FormatTime(h.cfg.Now())}
		if err := h.cfg.Repo.Ping(ctx); err != nil {
			hc.Status = storage.Unhealthy
			hc.Error = err.Error()
		}
		return &struct {
			Body storage.Health `json:"body"`
		}{Body: hc}, nil
	})
}

func (h handler) registerAuth(api huma.API) {
	type authOut struct {
		Body AuthResponse `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "sign-up",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Register and sign in",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*authOut, error) {
		res, err := h.authService().SignUp(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, h.handleError(err)
		}
		h.log.Info("user signed up", zap.String("user", res.User.ID))
		return &authOut{Body: AuthResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-in",
		Method:      http.MethodPost,
		Path:        "/auth/signin",
		Summary:     "Sign in",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*authOut, error) {
		res, err := h.authService().SignIn(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &authOut{Body: AuthResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key; the key is only returned once",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := h.authService().CreateAPIKey(ctx, u.ID, strings.TrimSpace(input.Body.Name))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key, raw)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := h.cfg.Repo.ListAPIKeys(ctx, u.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k, ""))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Delete API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.cfg.Repo.DeleteAPIKey(ctx, u.ID, input.KeyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
			}
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

type roomPath struct {
	RoomID string `path:"room_id"`
}

type roomOut struct {
	Body domain.Room `json:"body"`
}

func (h handler) registerRooms(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-room",
		Method:        http.MethodPost,
		Path:          "/rooms",
		Summary:       "Create room",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateRoomRequest `json:"body"`
	}) (*roomOut, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		room, err := svc.CreateRoom(ctx, domain.RoomInput(input.Body))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &roomOut{Body: room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rooms",
		Method:      http.MethodGet,
		Path:        "/rooms",
		Summary:     "Rooms the caller owns or was granted",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RoomListResponse `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		rooms, err := svc.GetUserRooms(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body RoomListResponse `json:"body"`
		}{Body: RoomListResponse{Items: nonNilRooms(rooms)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-room",
		Method:      http.MethodPost,
		Path:        "/rooms/join",
		Summary:     "Join room by code",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body JoinRoomRequest `json:"body"`
	}) (*roomOut, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		room, err := svc.JoinRoom(ctx, input.Body.RoomCode)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &roomOut{Body: room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-room-by-code",
		Method:      http.MethodGet,
		Path:        "/rooms/by-code/{code}",
		Summary:     "Look a room up by code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*roomOut, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		room, err := svc.FindRoomByCode(ctx, input.Code)
		if err != nil {
			return nil, h.handleError(err)
		}
		if room == nil {
			return nil, newAPIError(http.StatusNotFound, "room_not_found", "room not found", map[string]any{"room_code": input.Code})
		}
		return &roomOut{Body: *room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-room",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}",
		Summary:     "Get room",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *roomPath) (*roomOut, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		room, err := svc.GetRoom(ctx, input.RoomID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &roomOut{Body: room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-room",
		Method:        http.MethodDelete,
		Path:          "/rooms/{room_id}",
		Summary:       "Delete room with its tasks and grants",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *roomPath) (*struct{}, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		if err := svc.DeleteRoom(ctx, input.RoomID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-room-members",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/members",
		Summary:     "List granted members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *roomPath) (*struct {
		Body MemberListResponse `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		members, err := svc.ListRoomMembers(ctx, input.RoomID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if members == nil {
			members = []domain.RoomAccess{}
		}
		return &struct {
			Body MemberListResponse `json:"body"`
		}{Body: MemberListResponse{Items: members}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-room-role",
		Method:        http.MethodPost,
		Path:          "/rooms/{room_id}/members",
		Summary:       "Grant a role in the room",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RoomID string           `path:"room_id"`
		Body   GrantRoleRequest `json:"body"`
	}) (*struct{}, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		if err := svc.GrantRole(ctx, input.RoomID, input.Body.UserID, input.Body.Role); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

type taskOut struct {
	Body domain.Task `json:"body"`
}

type taskQuery struct {
	RoomID        string `path:"room_id"`
	Status        string `query:"status"`
	Priority      string `query:"prioridade"`
	Sprint        string `query:"sprint"`
	Developer     string `query:"desenvolvedor"`
	Epic          string `query:"epico"`
	CreatedAfter  string `query:"createdAfter"`
	CreatedBefore string `query:"createdBefore"`
	Limit         int    `query:"limit" minimum:"0"`
	Offset        int    `query:"offset" minimum:"0"`
}

func (q taskQuery) filters() domain.TaskFilters {
	return domain.TaskFilters{
		Status:        q.Status,
		Priority:      q.Priority,
		Sprint:        q.Sprint,
		Developer:     q.Developer,
		Epic:          q.Epic,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
}

func (h handler) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/rooms/{room_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RoomID string            `path:"room_id"`
		Body   domain.TaskFields `json:"body"`
	}) (*taskOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		t, err := svc.CreateTask(ctx, input.Body)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *taskQuery) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		f := input.filters()
		tasks, err := svc.GetTasks(ctx, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		total, err := svc.GetTasksCount(ctx, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: tasks, Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		TaskID string `path:"task_id"`
	}) (*taskOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		t, err := svc.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if t == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found", map[string]any{"task_id": input.TaskID})
		}
		return &taskOut{Body: *t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/rooms/{room_id}/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string            `path:"room_id"`
		TaskID string            `path:"task_id"`
		Body   domain.TaskFields `json:"body"`
	}) (*taskOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		t, err := svc.UpdateTask(ctx, input.TaskID, input.Body)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/rooms/{room_id}/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		TaskID string `path:"task_id"`
	}) (*taskOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		t, err := svc.DeleteTask(ctx, input.TaskID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-update-tasks",
		Method:      http.MethodPost,
		Path:        "/rooms/{room_id}/tasks/bulk-update",
		Summary:     "Update many tasks; failures are reported per item",
	}, func(ctx context.Context, input *struct {
		RoomID string            `path:"room_id"`
		Body   BulkUpdateRequest `json:"body"`
	}) (*struct {
		Body storage.BulkResult `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		res, err := svc.BulkUpdateTasks(ctx, input.Body.Updates)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body storage.BulkResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-delete-tasks",
		Method:      http.MethodPost,
		Path:        "/rooms/{room_id}/tasks/bulk-delete",
		Summary:     "Delete many tasks; failures are reported per item",
	}, func(ctx context.Context, input *struct {
		RoomID string            `path:"room_id"`
		Body   BulkDeleteRequest `json:"body"`
	}) (*struct {
		Body storage.BulkResult `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		res, err := svc.BulkDeleteTasks(ctx, input.Body.IDs)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body storage.BulkResult `json:"body"`
		}{Body: res}, nil
	})
}

func (h handler) registerStats(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "count-tasks",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/stats/count",
		Summary:     "Count tasks matching filters",
	}, func(ctx context.Context, input *taskQuery) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		n, err := svc.GetTasksCount(ctx, input.filters())
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-tasks-by-status",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/stats/status",
		Summary:     "Task count per status",
	}, func(ctx context.Context, input *roomPath) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		counts, err := svc.GetTasksByStatusCount(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sprint-statistics",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/stats/sprints/{sprint}",
		Summary:     "Sprint statistics",
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		Sprint string `path:"sprint"`
	}) (*struct {
		Body domain.SprintStatistics `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		stats, err := svc.GetSprintStatistics(ctx, input.Sprint)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.SprintStatistics `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "developer-statistics",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/stats/developers/{developer}",
		Summary:     "Developer statistics",
	}, func(ctx context.Context, input *struct {
		RoomID    string `path:"room_id"`
		Developer string `path:"developer"`
	}) (*struct {
		Body domain.DeveloperStatistics `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		stats, err := svc.GetDeveloperStatistics(ctx, input.Developer)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.DeveloperStatistics `json:"body"`
		}{Body: stats}, nil
	})
}

func (h handler) registerConfig(api huma.API) {
	type configPath struct {
		RoomID string `path:"room_id"`
		Key    string `path:"key"`
	}
	type configOut struct {
		Body ConfigResponse `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/config/{key}",
		Summary:     "Read a config value",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *configPath) (*configOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		raw, err := svc.GetConfig(ctx, input.Key)
		if err != nil {
			return nil, h.handleError(err)
		}
		if raw == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "config key not set", map[string]any{"key": input.Key})
		}
		return &configOut{Body: ConfigResponse{Key: input.Key, Value: rawValue(raw)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-config",
		Method:      http.MethodPut,
		Path:        "/rooms/{room_id}/config/{key}",
		Summary:     "Write a config value",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RoomID string           `path:"room_id"`
		Key    string           `path:"key"`
		Body   SetConfigRequest `json:"body"`
	}) (*configOut, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		if err := svc.SetConfig(ctx, input.Key, input.Body.Value); err != nil {
			return nil, h.handleError(err)
		}
		return &configOut{Body: ConfigResponse{Key: input.Key, Value: input.Body.Value}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-config",
		Method:        http.MethodDelete,
		Path:          "/rooms/{room_id}/config/{key}",
		Summary:       "Remove a config value",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *configPath) (*struct{}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		if err := svc.DeleteConfig(ctx, input.Key); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (h handler) registerExport(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "export-room",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/export",
		Summary:     "Export room tasks as JSON or CSV",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		Format string `query:"format" enum:"json,csv" default:"json"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		svc, err := h.backend(ctx, input.RoomID)
		if err != nil {
			return nil, err
		}
		format, err := storage.ParseFormat(input.Format)
		if err != nil {
			return nil, h.handleError(err)
		}
		data, err := svc.ExportData(ctx, format)
		if err != nil {
			return nil, h.handleError(err)
		}
		ct := "application/json"
		if format == storage.FormatCSV {
			ct = "text/csv; charset=utf-8"
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        ct,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", "tasks."+string(format)),
			Body:               data,
		}, nil
	})
}

func (h handler) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/events",
		Summary:     "Recent journal entries of a room",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		svc, err := h.backend(ctx, "")
		if err != nil {
			return nil, err
		}
		entries, err := svc.Events(ctx, input.RoomID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := EventListResponse{Items: []EventResponse{}}
		for _, e := range entries {
			resp.Items = append(resp.Items, eventResponse(e))
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
