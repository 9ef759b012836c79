package domain

// StageStatus is the per-team production state owned by the orders service.
// The workflow engine only ever reads it.
type StageStatus string

const (
	StageNotStarted StageStatus = "NOT_STARTED"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageDispatched StageStatus = "DISPATCHED"
)

// VehicleStatusDelivered is the terminal vehicle state that satisfies the
// approval gate on its own.
const VehicleStatusDelivered = "DELIVERED"

// Stage is one team's slice of a component's decoration work.
type Stage struct {
	Status       StageStatus `json:"status"`
	DispatchDate string      `json:"dispatch_date,omitempty"`
	DispatchedBy string      `json:"dispatched_by,omitempty"`
}

// VehicleRecord is one logistics delivery attached to a component.
type VehicleRecord struct {
	Number   string `json:"vehicle_number,omitempty"`
	Driver   string `json:"driver_name,omitempty"`
	Status   string `json:"status,omitempty"`
	Received bool   `json:"received"`
	Approved bool   `json:"approved"`
}

// TrackingEntry is an opaque production tracking row passed through from the
// orders service.
type TrackingEntry struct {
	Date     string `json:"date,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Component is a snapshot of the unit of work as returned by the orders
// service. DecoSequence is the raw sequence spec; its parsed order is the
// only source of truth for handoff.
type Component struct {
	ComponentID    string           `json:"component_id"`
	Name           string           `json:"name,omitempty"`
	ComponentType  string           `json:"component_type,omitempty"`
	DataCode       string           `json:"data_code,omitempty"`
	Status         string           `json:"status,omitempty"`
	DecoSequence   string           `json:"deco_sequence,omitempty"`
	Decorations    map[string]Stage `json:"decorations,omitempty"`
	VehicleDetails []VehicleRecord  `json:"vehicle_details,omitempty"`
	CompletedQty   int              `json:"completed_qty,omitempty"`
	OrderedQty     int              `json:"ordered_qty,omitempty"`
	RemainingQty   int              `json:"remaining_qty,omitempty"`
	DispatchDate   string           `json:"dispatch_date,omitempty"`
	DispatchedBy   string           `json:"dispatched_by,omitempty"`
	Tracking       []TrackingEntry  `json:"tracking,omitempty"`
}

// MasterRecord is one master catalog entry owned by the orders service.
type MasterRecord struct {
	ID             string `json:"id,omitempty"`
	DataCode       string `json:"data_code,omitempty"`
	Name           string `json:"name,omitempty"`
	AvailableStock int    `json:"available_stock,omitempty"`
}

// AdjustmentSummary reports how a negative production adjustment was split
// between stock and produced quantity.
type AdjustmentSummary struct {
	TotalRemoved        int    `json:"total_removed"`
	RemovedFromStock    int    `json:"removed_from_stock"`
	RemovedFromProduced int    `json:"removed_from_produced"`
	PreviousCompleted   int    `json:"previous_completed"`
	CurrentCompleted    int    `json:"current_completed"`
	Username            string `json:"username,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// Ref addresses a component within an order.
type Ref struct {
	OrderNumber string `json:"order_number"`
	ItemID      string `json:"item_id"`
	ComponentID string `json:"component_id"`
}

// EligibilityResult says whether a team may work on a component right now.
// WaitingFor is set only when the denial is "previous team not done".
type EligibilityResult struct {
	CanWork    bool   `json:"can_work"`
	Reason     string `json:"reason"`
	WaitingFor string `json:"waiting_for,omitempty"`
}

// ItemChange mirrors the item status change reported by a mutating call.
type ItemChange struct {
	ItemID    string `json:"item_id"`
	NewStatus string `json:"new_status,omitempty"`
}

// OrderChange mirrors the order status change reported by a mutating call.
type OrderChange struct {
	OrderNumber string `json:"order_number"`
	NewStatus   string `json:"new_status,omitempty"`
}

// Notification is one outbound message scoped to a single room.
type Notification struct {
	Room    string         `json:"room"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Batch is the atomic set of notifications derived from one action: the
// self-acknowledgement for the acting connection plus room broadcasts.
// A batch is journaled and published as a unit.
type Batch struct {
	ID         string         `json:"id"`
	SelfAck    *Notification  `json:"self_ack,omitempty"`
	Broadcasts []Notification `json:"broadcasts,omitempty"`
}
