// Package orders is the HTTP client for the external order/inventory
// service, which owns all durable component state. The engine only ever
// reads the snapshots these calls return.
package orders

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

	"decoflow/internal/domain"
)

// Client is a minimal orders-service HTTP client.
type Client struct {
	BaseURL    string
	Username   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. The client is shared across
// request handlers, so HTTPClient is set here rather than lazily.
func New(baseURL, username string) *Client {
	timeout := 10 * time.Second
	return &Client{
		BaseURL:    baseURL,
		Username:   username,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

// APIError wraps transport-level non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orders api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RemoteError is a 2xx response whose envelope carries success=false. The
// service reports business failures this way; they are terminal for the
// triggering action.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "orders service reported failure"
	}
	return e.Message
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DispatchResult is the payload of a dispatch mutation.
type DispatchResult struct {
	Component   domain.Component `json:"component"`
	ItemStatus  string           `json:"item_status,omitempty"`
	OrderStatus string           `json:"order_status,omitempty"`
}

// StockResult is the payload of a stock adjustment.
type StockResult struct {
	DataCode       string `json:"data_code"`
	AvailableStock int    `json:"available_stock"`
}

// RollbackResult is the payload of a component rollback.
type RollbackResult struct {
	ComponentChanges struct {
		ComponentID     string `json:"component_id"`
		ComponentName   string `json:"component_name,omitempty"`
		ComponentType   string `json:"component_type,omitempty"`
		NewStatus       string `json:"new_status,omitempty"`
		NewCompletedQty int    `json:"new_completed_qty,omitempty"`
	} `json:"component_changes"`
	ItemChanges  domain.ItemChange  `json:"item_changes"`
	OrderChanges domain.OrderChange `json:"order_changes"`
}

// NegativeAdjustResult is the payload of a negative production adjustment.
type NegativeAdjustResult struct {
	Component         domain.Component         `json:"component"`
	AdjustmentSummary domain.AdjustmentSummary `json:"adjustment_summary"`
	OrderStatus       string                   `json:"order_status,omitempty"`
}

// ProductionUpdate carries per-stage production progress fields. StockUsed
// only applies to the source stage.
type ProductionUpdate struct {
	Quantity  int    `json:"quantity,omitempty"`
	StockUsed int    `json:"stock_used,omitempty"`
	Username  string `json:"username,omitempty"`
	Date      string `json:"date,omitempty"`
}

// StageDispatch carries dispatch metadata for a stage.
type StageDispatch struct {
	DispatchDate string `json:"dispatch_date,omitempty"`
	DispatchedBy string `json:"dispatched_by,omitempty"`
	Remarks      string `json:"remarks,omitempty"`
}

// RollbackRequest describes a component rollback.
type RollbackRequest struct {
	QuantityToRollback int    `json:"quantity_to_rollback"`
	Reason             string `json:"reason,omitempty"`
	Username           string `json:"username,omitempty"`
}

func (c *Client) refPath(prefix string, ref domain.Ref) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		prefix,
		url.PathEscape(ref.OrderNumber),
		url.PathEscape(ref.ItemID),
		url.PathEscape(ref.ComponentID),
	)
}

// GetComponent fetches a full component snapshot.
func (c *Client) GetComponent(ctx context.Context, ref domain.Ref) (domain.Component, error) {
	var comp domain.Component
	err := c.do(ctx, http.MethodGet, c.refPath("orders/component", ref), nil, &comp)
	return comp, err
}

// DispatchStage marks a decoration team's stage dispatched.
func (c *Client) DispatchStage(ctx context.Context, team string, ref domain.Ref, update StageDispatch) (DispatchResult, error) {
	var res DispatchResult
	endpoint := c.refPath("deco/dispatch/"+url.PathEscape(team), ref)
	err := c.do(ctx, http.MethodPatch, endpoint, c.withUsername(update), &res)
	return res, err
}

// UpdateProduction records a decoration team's production progress.
func (c *Client) UpdateProduction(ctx context.Context, team string, ref domain.Ref, update ProductionUpdate) (domain.Component, error) {
	var comp domain.Component
	endpoint := c.refPath("deco/production/"+url.PathEscape(team), ref)
	err := c.do(ctx, http.MethodPatch, endpoint, c.withUsername(update), &comp)
	return comp, err
}

// DispatchSource marks the source (glass) component dispatched.
func (c *Client) DispatchSource(ctx context.Context, ref domain.Ref, update StageDispatch) (DispatchResult, error) {
	var res DispatchResult
	err := c.do(ctx, http.MethodPatch, c.refPath("masters/glass/dispatch", ref), c.withUsername(update), &res)
	return res, err
}

// UpdateSourceProduction records source production progress.
func (c *Client) UpdateSourceProduction(ctx context.Context, ref domain.Ref, update ProductionUpdate) (domain.Component, error) {
	var comp domain.Component
	err := c.do(ctx, http.MethodPatch, c.refPath("masters/glass/production", ref), c.withUsername(update), &comp)
	return comp, err
}

// UpdateVehicle replaces a component's vehicle records and returns the
// updated snapshot.
func (c *Client) UpdateVehicle(ctx context.Context, ref domain.Ref, records []domain.VehicleRecord) (domain.Component, error) {
	body := map[string]any{"vehicle_details": records}
	var comp domain.Component
	err := c.do(ctx, http.MethodPatch, c.refPath("masters/glass/vehicle", ref), body, &comp)
	return comp, err
}

// AdjustStock applies a signed adjustment to a master stock entry.
func (c *Client) AdjustStock(ctx context.Context, dataCode string, adjustment int) (StockResult, error) {
	body := map[string]any{"adjustment": adjustment, "username": c.Username}
	var res StockResult
	endpoint := "masters/glass/stock/adjust/" + url.PathEscape(dataCode)
	err := c.do(ctx, http.MethodPatch, endpoint, body, &res)
	return res, err
}

// CreateMaster adds a master catalog entry.
func (c *Client) CreateMaster(ctx context.Context, record domain.MasterRecord) (domain.MasterRecord, error) {
	var out domain.MasterRecord
	err := c.do(ctx, http.MethodPost, "masters/glass", c.withUsername(record), &out)
	return out, err
}

// UpdateMaster replaces the fields of a master catalog entry.
func (c *Client) UpdateMaster(ctx context.Context, productID string, record domain.MasterRecord) (domain.MasterRecord, error) {
	var out domain.MasterRecord
	endpoint := "masters/glass/" + url.PathEscape(productID)
	err := c.do(ctx, http.MethodPut, endpoint, c.withUsername(record), &out)
	return out, err
}

// DeleteMaster removes a master catalog entry.
func (c *Client) DeleteMaster(ctx context.Context, productID string) error {
	endpoint := "masters/glass/" + url.PathEscape(productID)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// AdjustProductionNegative removes completed quantity from a component,
// pulling from stock first, and reports the split.
func (c *Client) AdjustProductionNegative(ctx context.Context, ref domain.Ref, adjustment int, reason string) (NegativeAdjustResult, error) {
	body := map[string]any{
		"adjustment": adjustment,
		"reason":     reason,
		"username":   c.Username,
	}
	var res NegativeAdjustResult
	err := c.do(ctx, http.MethodPatch, c.refPath("masters/glass/production/adjust-negative", ref), body, &res)
	return res, err
}

// RollbackComponent rolls back completed production on a component.
func (c *Client) RollbackComponent(ctx context.Context, ref domain.Ref, req RollbackRequest) (RollbackResult, error) {
	var res RollbackResult
	err := c.do(ctx, http.MethodPost, c.refPath("orders/rollback/component", ref), c.withUsername(req), &res)
	return res, err
}

// withUsername stamps the configured service account onto a request body.
func (c *Client) withUsername(body any) map[string]any {
	data, _ := json.Marshal(body)
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	if c.Username != "" {
		out["username"] = c.Username
	}
	return out
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode orders response: %w", err)
	}
	if !env.Success {
		return &RemoteError{Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
