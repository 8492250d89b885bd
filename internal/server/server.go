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

	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/engine"
	"github.com/stibe881/traumfunke/internal/generator"
	"github.com/stibe881/traumfunke/internal/notify"
	"github.com/stibe881/traumfunke/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Generator generator.Client
	Hub       *notify.Hub
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"request not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Traumfunke API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Traumfunke API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRequests(group, cfg.Engine, cfg.Generator)
	registerCallbacks(group, cfg.Engine)
	registerStories(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerCoins(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerWS(router, basePath, cfg.Hub)
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrForbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInsufficientCoins) {
		return newAPIError(http.StatusPaymentRequired, "insufficient_coins", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unsupported"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
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
	case http.StatusConflict:
		return "conflict"
	case http.StatusPaymentRequired:
		return "insufficient_coins"
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
    <title>Traumfunke API Docs</title>
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

func registerRequests(api huma.API, e engine.Engine, gen generator.Client) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create story request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRequestBody `json:"body"`
	}) (*struct {
		Body domain.StoryRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.CreateRequestInput{
			UserID:    userID,
			Title:     input.Body.Title,
			Theme:     input.Body.Theme,
			Language:  input.Body.Language,
			IsEpisode: input.Body.IsEpisode,
		}
		if input.Body.ID != nil {
			in.ID = *input.Body.ID
		}
		if input.Body.ProfileID != nil {
			in.ProfileID = *input.Body.ProfileID
		}
		if input.Body.SeriesID != nil {
			in.SeriesID = *input.Body.SeriesID
		}
		req, err := e.CreateRequest(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StoryRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-requests",
		Method:      http.MethodGet,
		Path:        "/requests/pending",
		Summary:     "List pending requests inside the visibility window",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StoryRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPending(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StoryRequest{}
		}
		return &struct {
			Body []domain.StoryRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		SeriesID string `query:"series_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedRequests `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListRequests(ctx, repo.RequestFilters{
			UserID:          userID,
			Status:          input.Status,
			SeriesID:        input.SeriesID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRequests{Items: []domain.StoryRequest{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedRequests `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.StoryRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if req.UserID != userID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "request not found", nil)
		}
		return &struct {
			Body domain.StoryRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-request",
		Method:      http.MethodDelete,
		Path:        "/requests/{id}",
		Summary:     "Cancel request",
		Description: "Removes the request. Coins already spent are not refunded; work the pipeline has begun is not interrupted.",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelRequest(ctx, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/start",
		Summary:     "Start generation at most once",
		Description: "Marks the durable start flag and invokes the pipeline. Returns started=false when the flag was already claimed. A pipeline timeout leaves the request queued.",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body startResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if req.UserID != userID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "request not found", nil)
		}
		if req.Status != domain.StatusQueued {
			return nil, newAPIError(http.StatusConflict, "invalid_transition", "request is not queued", nil)
		}
		claimed, err := e.MarkGenerationStarted(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !claimed {
			return &struct {
				Body startResponse `json:"body"`
			}{Body: startResponse{Started: false, Status: req.Status}}, nil
		}
		seriesID := ""
		if req.SeriesID != nil {
			seriesID = *req.SeriesID
		}
		startErr := gen.Start(ctx, generator.StartRequest{
			RequestID: req.ID,
			UserID:    req.UserID,
			Title:     req.Title,
			Theme:     req.Theme,
			Language:  req.Language,
			IsEpisode: req.IsEpisode,
			SeriesID:  seriesID,
		})
		if startErr != nil && !generator.IsTimeout(startErr) {
			msg := startErr.Error()
			if _, uerr := e.UpdateRequestStatus(ctx, req.ID, domain.StatusFailed, &msg); uerr != nil {
				return nil, handleError(uerr)
			}
			return &struct {
				Body startResponse `json:"body"`
			}{Body: startResponse{Started: false, Status: domain.StatusFailed}}, nil
		}
		return &struct {
			Body startResponse `json:"body"`
		}{Body: startResponse{Started: true, Status: req.Status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-story",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/story",
		Summary:     "Get the story a finished request produced",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Story `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		story, err := e.FindStoryForRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if story.UserID != userID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "story not found", nil)
		}
		return &struct {
			Body domain.Story `json:"body"`
		}{Body: story}, nil
	})
}

// registerCallbacks exposes the endpoints the generation pipeline reports
// back through. They require the shared generator secret.
func registerCallbacks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-request-status",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/status",
		Summary:     "Pipeline status callback",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body StatusCallbackBody `json:"body"`
	}) (*struct {
		Body domain.StoryRequest `json:"body"`
	}, error) {
		if authErr := requireGenerator(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		req, err := e.UpdateRequestStatus(ctx, input.ID, input.Body.Status, input.Body.ErrorMessage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StoryRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "report-request-story",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/story",
		Summary:       "Pipeline completion callback",
		Description:   "Stores the finished story and moves the request to finished in one transaction.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body StoryCallbackBody `json:"body"`
	}) (*struct {
		Body domain.Story `json:"body"`
	}, error) {
		if authErr := requireGenerator(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Text == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		story, err := e.RecordStory(ctx, input.ID, input.Body.Title, input.Body.Text, input.Body.CoverURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Story `json:"body"`
		}{Body: story}, nil
	})
}

func registerStories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stories",
		Method:      http.MethodGet,
		Path:        "/stories",
		Summary:     "List stories",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Story `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListStories(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Story{}
		}
		return &struct {
			Body []domain.Story `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story",
		Method:      http.MethodGet,
		Path:        "/stories/{id}",
		Summary:     "Get story",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Story `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		story, err := e.Repo.GetStory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if story.UserID != userID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "story not found", nil)
		}
		return &struct {
			Body domain.Story `json:"body"`
		}{Body: story}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create child profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileBody `json:"body"`
	}) (*struct {
		Body domain.ChildProfile `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProfile(ctx, engine.CreateProfileInput{
			UserID:   userID,
			Name:     input.Body.Name,
			Age:      input.Body.Age,
			Language: input.Body.Language,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChildProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List child profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ChildProfile `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProfiles(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ChildProfile{}
		}
		return &struct {
			Body []domain.ChildProfile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-profile",
		Method:      http.MethodDelete,
		Path:        "/profiles/{id}",
		Summary:     "Delete child profile",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProfile(ctx, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCoins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-coins",
		Method:      http.MethodGet,
		Path:        "/coins",
		Summary:     "Coin balance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body coinsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.CoinBalance(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body coinsResponse `json:"body"`
		}{Body: coinsResponse{UserID: userID, Balance: balance}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-coin-ledger",
		Method:      http.MethodGet,
		Path:        "/coins/ledger",
		Summary:     "Coin ledger entries",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.CoinEntry `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCoinEntries(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.CoinEntry{}
		}
		return &struct {
			Body []domain.CoinEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), userID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
