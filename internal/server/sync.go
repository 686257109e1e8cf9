package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"prosync/internal/domain"
	"prosync/internal/engine"
	"prosync/internal/events"
	"prosync/internal/syncer"
)

const changeBuffer = 64

// registerChanges streams a project's changes as server-sent events.
func registerChanges(api huma.API, e engine.Engine, hub *events.Hub) {
	sse.Register(api, huma.Operation{
		OperationID: "project-changes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/changes",
		Summary:     "Stream project changes",
	}, map[string]any{
		"change": events.Change{},
		"error":  apiErrorBody{},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}, send sse.Sender) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			if ae, ok := handleError(err).(*apiError); ok {
				send.Data(ae.Body)
			}
			return
		}
		ch := make(chan events.Change, changeBuffer)
		unsubscribe := hub.Subscribe(input.ProjectID, func(c events.Change) {
			select {
			case ch <- c:
			default:
			}
		})
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-ch:
				if err := send(sse.Message{ID: int(c.Seq), Data: c}); err != nil {
					return
				}
			}
		}
	})
}

func registerSync(api huma.API, c *syncer.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/sync/status",
		Summary:     "State of each sync operation",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[[]syncer.Status], error) {
		return reply(c.Statuses()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-export",
		Method:      http.MethodGet,
		Path:        "/sync/export",
		Summary:     "Download a full backup",
		Errors: []int{
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[domain.Snapshot], error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		snap, err := c.Export(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "sync-import",
		Method:       http.MethodPost,
		Path:         "/sync/import",
		Summary:      "Replace everything with a backup document",
		MaxBodyBytes: 64 << 20,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*jsonBody[SummaryResponse], error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		sum, err := c.Import(ctx, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SummaryResponse(sum)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-pull",
		Method:      http.MethodPost,
		Path:        "/sync/pull",
		Summary:     "Replace everything with the remote snapshot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[SummaryResponse], error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		sum, err := c.Pull(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SummaryResponse(sum)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-script",
		Method:      http.MethodGet,
		Path:        "/sync/script",
		Summary:     "Render the relational change script",
		Errors: []int{
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		script, err := c.Script(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "application/sql; charset=utf-8", Body: []byte(script)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-push",
		Method:      http.MethodPost,
		Path:        "/sync/push",
		Summary:     "Apply the change script remotely, falling back to an export file",
		Errors: []int{
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[PushResponse], error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		d, err := c.PushScript(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PushResponse{Direct: d.Direct, Location: d.Location, DirectError: d.DirectErr}), nil
	})
}
