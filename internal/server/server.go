package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"decoflow/internal/domain"
	"decoflow/internal/engine"
	"decoflow/internal/hub"
	"decoflow/internal/orders"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Hub      *hub.Hub
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"orders_rejected"`
	Message string         `json:"message" example:"component locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the decoflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Decoflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerActions(group, cfg.Engine)
	registerQueries(group, cfg.Engine)
	registerStream(router, basePath, cfg)

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

// handleError maps engine failures onto the API error taxonomy. Orders
// rejections and transport failures are terminal for the action and reach
// the acting connection only.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var remote *orders.RemoteError
	if errors.As(err, &remote) {
		return newAPIError(http.StatusUnprocessableEntity, "orders_rejected", remote.Error(), nil)
	}
	var apiErr *orders.APIError
	if errors.As(err, &apiErr) {
		return newAPIError(http.StatusBadGateway, "orders_unavailable", apiErr.Error(), map[string]any{"status": apiErr.StatusCode})
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "orders_rejected"
	case http.StatusBadGateway:
		return "orders_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func teamFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.Team == "" {
		return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	return p, nil
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

func actionResponse(batch domain.Batch) *struct {
	Body ActionResponse `json:"body"`
} {
	out := ActionResponse{BatchID: batch.ID}
	if batch.SelfAck != nil {
		out.Event = batch.SelfAck.Event
		out.Payload = batch.SelfAck.Payload
	}
	return &struct {
		Body ActionResponse `json:"body"`
	}{Body: out}
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dispatch-stage",
		Method:      http.MethodPost,
		Path:        "/actions/dispatch",
		Summary:     "Dispatch the acting team's stage and hand off to the next team",
	}, func(ctx context.Context, input *struct {
		Body DispatchRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.DispatchStage(ctx, p.Team, input.Body.ref(), orders.StageDispatch{
			DispatchDate: input.Body.DispatchDate,
			DispatchedBy: p.Actor,
			Remarks:      input.Body.Remarks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-source",
		Method:      http.MethodPost,
		Path:        "/actions/source-dispatch",
		Summary:     "Dispatch the source component and open the decoration workflow",
	}, func(ctx context.Context, input *struct {
		Body DispatchRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.DispatchSource(ctx, input.Body.ref(), orders.StageDispatch{
			DispatchDate: input.Body.DispatchDate,
			DispatchedBy: p.Actor,
			Remarks:      input.Body.Remarks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-vehicles",
		Method:      http.MethodPost,
		Path:        "/actions/vehicle-approval",
		Summary:     "Record vehicle approval for a component",
	}, func(ctx context.Context, input *struct {
		Body VehicleRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.ApproveVehicles(ctx, p.Team, input.Body.ref(), input.Body.VehicleDetails)
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-production",
		Method:      http.MethodPost,
		Path:        "/actions/production",
		Summary:     "Record the acting team's production progress",
	}, func(ctx context.Context, input *struct {
		Body ProductionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.UpdateProduction(ctx, p.Team, input.Body.ref(), orders.ProductionUpdate{
			Quantity: input.Body.Quantity,
			Date:     input.Body.Date,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-source-production",
		Method:      http.MethodPost,
		Path:        "/actions/source-production",
		Summary:     "Record source production progress, consuming stock",
	}, func(ctx context.Context, input *struct {
		Body ProductionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.UpdateSourceProduction(ctx, input.Body.ref(), orders.ProductionUpdate{
			Quantity:  input.Body.Quantity,
			StockUsed: input.Body.StockUsed,
			Date:      input.Body.Date,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-vehicle",
		Method:      http.MethodPost,
		Path:        "/actions/vehicle",
		Summary:     "Replace a component's vehicle records",
	}, func(ctx context.Context, input *struct {
		Body VehicleRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.UpdateVehicle(ctx, input.Body.ref(), input.Body.VehicleDetails)
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "adjust-stock",
		Method:      http.MethodPost,
		Path:        "/actions/stock",
		Summary:     "Apply a signed master stock adjustment",
	}, func(ctx context.Context, input *struct {
		Body StockRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.AdjustStock(ctx, input.Body.DataCode, input.Body.Adjustment)
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-master",
		Method:      http.MethodPost,
		Path:        "/actions/master-create",
		Summary:     "Add a master catalog entry",
	}, func(ctx context.Context, input *struct {
		Body MasterRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.CreateMaster(ctx, domain.MasterRecord{
			DataCode:       input.Body.DataCode,
			Name:           input.Body.Name,
			AvailableStock: input.Body.AvailableStock,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-master",
		Method:      http.MethodPost,
		Path:        "/actions/master-update",
		Summary:     "Update a master catalog entry",
	}, func(ctx context.Context, input *struct {
		Body MasterRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.UpdateMaster(ctx, input.Body.ProductID, domain.MasterRecord{
			DataCode:       input.Body.DataCode,
			Name:           input.Body.Name,
			AvailableStock: input.Body.AvailableStock,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-master",
		Method:      http.MethodPost,
		Path:        "/actions/master-delete",
		Summary:     "Delete a master catalog entry",
	}, func(ctx context.Context, input *struct {
		Body MasterRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.DeleteMaster(ctx, input.Body.ProductID)
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "adjust-production",
		Method:      http.MethodPost,
		Path:        "/actions/production-adjustment",
		Summary:     "Remove completed quantity from source production",
	}, func(ctx context.Context, input *struct {
		Body AdjustmentRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		batch, err := e.AdjustProductionDown(ctx, input.Body.ref(), input.Body.QuantityToRemove, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-component",
		Method:      http.MethodPost,
		Path:        "/actions/rollback",
		Summary:     "Roll back component production and restock",
	}, func(ctx context.Context, input *struct {
		Body RollbackRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.Rollback(ctx, input.Body.ref(), orders.RollbackRequest{
			QuantityToRollback: input.Body.QuantityToRollback,
			Reason:             input.Body.Reason,
			Username:           p.Actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return actionResponse(batch), nil
	})
}

func registerQueries(api huma.API, e engine.Engine) {
	type componentPath struct {
		OrderNumber string `path:"order_number"`
		ItemID      string `path:"item_id"`
		ComponentID string `path:"component_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-component",
		Method:      http.MethodGet,
		Path:        "/components/{order_number}/{item_id}/{component_id}",
		Summary:     "Fetch a component snapshot from the orders service",
	}, func(ctx context.Context, input *componentPath) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		if _, authErr := teamFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		comp, err := e.Component(ctx, domain.Ref{
			OrderNumber: input.OrderNumber,
			ItemID:      input.ItemID,
			ComponentID: input.ComponentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-eligibility",
		Method:      http.MethodGet,
		Path:        "/components/{order_number}/{item_id}/{component_id}/eligibility",
		Summary:     "Check whether a team may work on a component",
	}, func(ctx context.Context, input *struct {
		componentPath
		Team string `query:"team"`
	}) (*struct {
		Body EligibilityResponse `json:"body"`
	}, error) {
		p, authErr := teamFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		team := input.Team
		if team == "" {
			team = p.Team
		}
		res, msg, err := e.Eligibility(ctx, domain.Ref{
			OrderNumber: input.OrderNumber,
			ItemID:      input.ItemID,
			ComponentID: input.ComponentID,
		}, team)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EligibilityResponse `json:"body"`
		}{Body: EligibilityResponse{
			Team:           team,
			CanWork:        res.CanWork,
			Reason:         res.Reason,
			WaitingFor:     res.WaitingFor,
			WaitingMessage: msg,
		}}, nil
	})
}
