package server

import "decoflow/internal/domain"

// Request payloads

type RefFields struct {
	OrderNumber string `json:"order_number"`
	ItemID      string `json:"item_id"`
	ComponentID string `json:"component_id"`
}

func (f RefFields) ref() domain.Ref {
	return domain.Ref{OrderNumber: f.OrderNumber, ItemID: f.ItemID, ComponentID: f.ComponentID}
}

type DispatchRequest struct {
	RefFields
	DispatchDate string `json:"dispatch_date,omitempty"`
	Remarks      string `json:"remarks,omitempty"`
}

type VehicleRequest struct {
	RefFields
	VehicleDetails []domain.VehicleRecord `json:"vehicle_details"`
}

type ProductionRequest struct {
	RefFields
	Quantity  int    `json:"quantity,omitempty"`
	StockUsed int    `json:"stock_used,omitempty"`
	Date      string `json:"date,omitempty"`
}

type StockRequest struct {
	DataCode   string `json:"data_code"`
	Adjustment int    `json:"adjustment"`
}

type RollbackRequest struct {
	RefFields
	QuantityToRollback int    `json:"quantity_to_rollback"`
	Reason             string `json:"reason,omitempty"`
}

type MasterRequest struct {
	ProductID      string `json:"product_id,omitempty"`
	DataCode       string `json:"data_code,omitempty"`
	Name           string `json:"name,omitempty"`
	AvailableStock int    `json:"available_stock,omitempty"`
}

type AdjustmentRequest struct {
	RefFields
	QuantityToRemove int    `json:"quantity_to_remove"`
	Reason           string `json:"reason"`
}

// Response payloads

// ActionResponse carries the self-acknowledgement of the notification batch
// derived from an action. Room broadcasts travel over the stream endpoint.
type ActionResponse struct {
	BatchID string         `json:"batch_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

type EligibilityResponse struct {
	Team           string `json:"team"`
	CanWork        bool   `json:"can_work"`
	Reason         string `json:"reason"`
	WaitingFor     string `json:"waiting_for,omitempty"`
	WaitingMessage string `json:"waiting_message,omitempty"`
}
