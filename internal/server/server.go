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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"wiptrack/internal/board"
	"wiptrack/internal/domain"
	"wiptrack/internal/engine"
	"wiptrack/internal/gateway"
	"wiptrack/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"persistence_failed"`
	Message string         `json:"message" example:"persistence update-task-status failed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the WIP tracking API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors map to 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("WIP Tracking API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	registerProjects(group, cfg)
	registerBoard(group, cfg)
	registerWIP(group, cfg)
	registerEvents(group, cfg)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ie *board.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "invariant_violation", err.Error(), nil)
	}
	var le *board.LoadError
	if errors.As(err, &le) {
		return newAPIError(http.StatusBadGateway, "load_failed", err.Error(), map[string]any{"project_id": le.ProjectID})
	}
	var pe *gateway.PersistenceError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "persistence_failed", err.Error(), map[string]any{"op": pe.Op})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "required") || strings.Contains(lowered, "must not") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "pending"):
		return newAPIError(http.StatusUnprocessableEntity, "actuals_not_allowed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "persistence_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// engineFor attributes a request's writes to the authenticated principal
// when the gateway supports actor attribution.
func engineFor(ctx context.Context, base engine.Engine) engine.Engine {
	if gw, ok := base.Gateway.(*gateway.SQLite); ok {
		c := *gw
		c.ActorID = actorIDFromContext(ctx)
		base.Gateway = &c
	}
	return base
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>WIP Tracking API Docs</title>
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

func registerProjects(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := cfg.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-project",
		Method:        http.MethodPost,
		Path:          "/projects/import",
		Summary:       "Import a project with its task estimates",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body ImportProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		e := engineFor(ctx, cfg.Engine)
		p, err := e.ImportProject(ctx, importSpec(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerBoard(api huma.API, cfg Config) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/board",
		Summary:     "Get the task board partitioned by status",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		b, err := cfg.Engine.LoadBoard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/move",
		Summary:     "Move a task to another bucket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		TaskID    string          `path:"task_id"`
		Body      MoveTaskRequest `json:"body"`
	}) (*struct {
		Body MoveTaskResponse `json:"body"`
	}, error) {
		e := engineFor(ctx, cfg.Engine)
		b, err := e.LoadBoard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		snapshot, err := e.ApplyMove(ctx, b, engine.MoveRequest{
			TaskID:           input.TaskID,
			Destination:      domain.Status(input.Body.Destination),
			DestinationIndex: input.Body.DestinationIndex,
		})
		if err != nil {
			return nil, handleError(err)
		}
		t, _ := b.Task(input.TaskID)
		return &struct {
			Body MoveTaskResponse `json:"body"`
		}{Body: MoveTaskResponse{Task: taskResponse(t), Snapshot: snapshotResponse(snapshot)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-actuals",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/actuals",
		Summary:     "Record actual hours and cost on a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		TaskID    string               `path:"task_id"`
		Body      RecordActualsRequest `json:"body"`
	}) (*struct {
		Body MoveTaskResponse `json:"body"`
	}, error) {
		e := engineFor(ctx, cfg.Engine)
		b, err := e.LoadBoard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		snapshot, err := e.RecordActuals(ctx, b, input.TaskID, input.Body.ActualHours, input.Body.ActualCost)
		if err != nil {
			return nil, handleError(err)
		}
		t, _ := b.Task(input.TaskID)
		return &struct {
			Body MoveTaskResponse `json:"body"`
		}{Body: MoveTaskResponse{Task: taskResponse(t), Snapshot: snapshotResponse(snapshot)}}, nil
	})
}

func registerWIP(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-wip-snapshots",
		Method:      http.MethodGet,
		Path:        "/wip",
		Summary:     "List WIP snapshots for all projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		items, err := cfg.Engine.Gateway.FetchWIPSnapshots(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: mapSnapshots(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wip-snapshot",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/wip",
		Summary:     "Get the project's WIP snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		s, err := cfg.Repo.GetSnapshot(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-wip",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/wip/recalculate",
		Summary:     "Recalculate and overwrite the project's WIP snapshot",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		s, err := engineFor(ctx, cfg.Engine).Recalculate(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s)}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Tail the project's audit events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
		Type      string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, e := range items {
			res = append(res, eventResponse(e))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
