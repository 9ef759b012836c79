package decoflowsdk

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

// Client is a minimal decoflow HTTP API client.
type Client struct {
	BaseURL     string
	Team        string
	Actor       string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. The client may be shared across
// goroutines, so HTTPClient is set here rather than lazily.
func New(baseURL, team string) *Client {
	timeout := 10 * time.Second
	return &Client{
		BaseURL:    baseURL,
		Team:       team,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

// Ref addresses a component within an order.
type Ref struct {
	OrderNumber string `json:"order_number"`
	ItemID      string `json:"item_id"`
	ComponentID string `json:"component_id"`
}

// VehicleRecord is one logistics delivery attached to a component.
type VehicleRecord struct {
	Number   string `json:"vehicle_number,omitempty"`
	Driver   string `json:"driver_name,omitempty"`
	Status   string `json:"status,omitempty"`
	Received bool   `json:"received"`
	Approved bool   `json:"approved"`
}

// Component represents the API component model (partial).
type Component struct {
	ComponentID    string          `json:"component_id"`
	Name           string          `json:"name"`
	DataCode       string          `json:"data_code"`
	Status         string          `json:"status"`
	DecoSequence   string          `json:"deco_sequence"`
	VehicleDetails []VehicleRecord `json:"vehicle_details"`
	CompletedQty   int             `json:"completed_qty"`
}

// ActionAck is the self-acknowledgement returned by every action endpoint.
type ActionAck struct {
	BatchID string         `json:"batch_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Eligibility is the work-eligibility answer for one team.
type Eligibility struct {
	Team           string `json:"team"`
	CanWork        bool   `json:"can_work"`
	Reason         string `json:"reason"`
	WaitingFor     string `json:"waiting_for"`
	WaitingMessage string `json:"waiting_message"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Dispatch marks the client's team stage as dispatched and triggers the
// handoff to the next team in the component's sequence.
func (c *Client) Dispatch(ctx context.Context, ref Ref, dispatchDate, remarks string) (ActionAck, error) {
	return c.action(ctx, "actions/dispatch", map[string]any{
		"order_number":  ref.OrderNumber,
		"item_id":       ref.ItemID,
		"component_id":  ref.ComponentID,
		"dispatch_date": dispatchDate,
		"remarks":       remarks,
	})
}

// DispatchSource dispatches the source component, opening the workflow.
func (c *Client) DispatchSource(ctx context.Context, ref Ref, dispatchDate, remarks string) (ActionAck, error) {
	return c.action(ctx, "actions/source-dispatch", map[string]any{
		"order_number":  ref.OrderNumber,
		"item_id":       ref.ItemID,
		"component_id":  ref.ComponentID,
		"dispatch_date": dispatchDate,
		"remarks":       remarks,
	})
}

// ApproveVehicles replaces the component's vehicle records with approved
// ones, releasing the first team's gate once all records pass.
func (c *Client) ApproveVehicles(ctx context.Context, ref Ref, records []VehicleRecord) (ActionAck, error) {
	return c.action(ctx, "actions/vehicle-approval", map[string]any{
		"order_number":    ref.OrderNumber,
		"item_id":         ref.ItemID,
		"component_id":    ref.ComponentID,
		"vehicle_details": records,
	})
}

// UpdateProduction records the client's team production progress.
func (c *Client) UpdateProduction(ctx context.Context, ref Ref, quantity int, date string) (ActionAck, error) {
	return c.action(ctx, "actions/production", map[string]any{
		"order_number": ref.OrderNumber,
		"item_id":      ref.ItemID,
		"component_id": ref.ComponentID,
		"quantity":     quantity,
		"date":         date,
	})
}

// UpdateSourceProduction records source production, consuming master stock.
func (c *Client) UpdateSourceProduction(ctx context.Context, ref Ref, quantity, stockUsed int, date string) (ActionAck, error) {
	return c.action(ctx, "actions/source-production", map[string]any{
		"order_number": ref.OrderNumber,
		"item_id":      ref.ItemID,
		"component_id": ref.ComponentID,
		"quantity":     quantity,
		"stock_used":   stockUsed,
		"date":         date,
	})
}

// UpdateVehicle replaces a component's vehicle records without approval
// semantics.
func (c *Client) UpdateVehicle(ctx context.Context, ref Ref, records []VehicleRecord) (ActionAck, error) {
	return c.action(ctx, "actions/vehicle", map[string]any{
		"order_number":    ref.OrderNumber,
		"item_id":         ref.ItemID,
		"component_id":    ref.ComponentID,
		"vehicle_details": records,
	})
}

// AdjustStock applies a signed master stock adjustment.
func (c *Client) AdjustStock(ctx context.Context, dataCode string, adjustment int) (ActionAck, error) {
	return c.action(ctx, "actions/stock", map[string]any{
		"data_code":  dataCode,
		"adjustment": adjustment,
	})
}

// Rollback rolls component production back and restocks the quantity.
func (c *Client) Rollback(ctx context.Context, ref Ref, quantity int, reason string) (ActionAck, error) {
	return c.action(ctx, "actions/rollback", map[string]any{
		"order_number":         ref.OrderNumber,
		"item_id":              ref.ItemID,
		"component_id":         ref.ComponentID,
		"quantity_to_rollback": quantity,
		"reason":               reason,
	})
}

// GetComponent fetches a component snapshot.
func (c *Client) GetComponent(ctx context.Context, ref Ref) (Component, error) {
	var resp Component
	err := c.do(ctx, http.MethodGet, c.componentPath(ref, ""), nil, &resp)
	return resp, err
}

// GetEligibility asks whether a team may work on the component now. An empty
// team defaults to the client's team.
func (c *Client) GetEligibility(ctx context.Context, ref Ref, team string) (Eligibility, error) {
	endpoint := c.componentPath(ref, "eligibility")
	if team != "" {
		endpoint += "?team=" + url.QueryEscape(team)
	}
	var resp Eligibility
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) action(ctx context.Context, endpoint string, body map[string]any) (ActionAck, error) {
	var resp ActionAck
	err := c.do(ctx, http.MethodPost, "v0/"+endpoint, body, &resp)
	return resp, err
}

func (c *Client) componentPath(ref Ref, suffix string) string {
	p := fmt.Sprintf("v0/components/%s/%s/%s",
		url.PathEscape(ref.OrderNumber), url.PathEscape(ref.ItemID), url.PathEscape(ref.ComponentID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Team != "":
		req.Header.Set("X-Team", c.Team)
		if c.Actor != "" {
			req.Header.Set("X-Actor", c.Actor)
		}
	}
	resp, err := client.Do(req)
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
