// Package engine composes the pure workflow components with the orders
// client, the journal, and the hub. Every action follows the same shape: one
// external mutation call, one derived notification batch, emitted atomically.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"decoflow/internal/config"
	"decoflow/internal/domain"
	"decoflow/internal/hub"
	"decoflow/internal/journal"
	"decoflow/internal/orders"
	"decoflow/internal/sequence"
	"decoflow/internal/workflow"
)

// Outbound event names. These are presentation tags; the engine's contract
// is the set and targeting of notifications.
const (
	EventStageDispatchedSelf  = "stage.dispatched.self"
	EventStageDispatched      = "stage.dispatched"
	EventComponentUpdated     = "component.updated"
	EventTeamReady            = "team.ready"
	EventVehicleWait          = "vehicle.approval.required"
	EventVehicleDetails       = "vehicle.details"
	EventVehicleApprovedSelf  = "vehicle.approved.self"
	EventVehicleApproved      = "vehicle.approved"
	EventVehicleUpdatedSelf   = "vehicle.updated.self"
	EventVehicleUpdated       = "vehicle.updated"
	EventSourceDispatchedSelf = "source.dispatched.self"
	EventSourceDispatched     = "source.dispatched"
	EventProductionSelf       = "production.updated.self"
	EventProduction           = "production.updated"
	EventStockAdjustedSelf    = "stock.adjusted.self"
	EventStockAdjusted        = "stock.adjusted"
	EventRollbackSelf         = "rollback.completed.self"
	EventRollback             = "rollback.completed"
	EventMasterCreatedSelf    = "master.created.self"
	EventMasterCreated        = "master.created"
	EventMasterUpdatedSelf    = "master.updated.self"
	EventMasterUpdated        = "master.updated"
	EventMasterDeletedSelf    = "master.deleted.self"
	EventMasterDeleted        = "master.deleted"
	EventAdjustmentSelf       = "production.adjusted.self"
	EventAdjustment           = "production.adjusted"
)

type Engine struct {
	Orders  *orders.Client
	Hub     hub.Publisher
	Journal journal.Writer
	Config  *config.Config
	Now     func() time.Time
}

// New assembles an engine from its collaborators.
func New(client *orders.Client, pub hub.Publisher, w journal.Writer, cfg *config.Config) Engine {
	return Engine{
		Orders:  client,
		Hub:     pub,
		Journal: w,
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) sharedRoom() string {
	if e.Config != nil && e.Config.Rooms.Shared != "" {
		return e.Config.Rooms.Shared
	}
	return "decoration"
}

func (e Engine) sourceRoom() string {
	if e.Config != nil && e.Config.Rooms.Source != "" {
		return e.Config.Rooms.Source
	}
	return "source"
}

// DispatchStage handles a decoration team's dispatch: marks the stage done
// via the orders service, then routes the one-hop handoff notification.
func (e Engine) DispatchStage(ctx context.Context, team string, ref domain.Ref, update orders.StageDispatch) (domain.Batch, error) {
	if team == "" {
		return domain.Batch{}, fmt.Errorf("team is required")
	}
	res, err := e.Orders.DispatchStage(ctx, team, ref, update)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, team, "dispatch", err)
	}
	comp := res.Component

	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	payload["item_changes"] = domain.ItemChange{ItemID: ref.ItemID, NewStatus: res.ItemStatus}
	payload["order_changes"] = domain.OrderChange{OrderNumber: ref.OrderNumber, NewStatus: res.OrderStatus}

	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventStageDispatchedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: team, Event: EventStageDispatched, Payload: payload},
			{Room: e.sharedRoom(), Event: EventComponentUpdated, Payload: payload},
		},
	}

	seq := sequence.Parse(comp.DecoSequence)
	for _, next := range workflow.TeamsToNotify(seq, team) {
		batch.Broadcasts = append(batch.Broadcasts, e.handoffNotification(comp, ref, seq, team, next))
	}
	return e.emit(ctx, ref, team, batch)
}

// handoffNotification builds the "your turn" message for the team following
// a dispatch. When the notified team opens the sequence and the component
// carries unapproved vehicles, the message is a wait instead of a go-ahead;
// later teams are reached only when the gating team dispatches in turn.
func (e Engine) handoffNotification(comp domain.Component, ref domain.Ref, seq []string, from, next string) domain.Notification {
	payload := e.refPayload(ref)
	payload["component_name"] = comp.Name
	payload["previous_team"] = from
	payload["current_team"] = next

	if sequence.Position(seq, next) == 0 && len(comp.VehicleDetails) > 0 && !workflow.AllApproved(comp.VehicleDetails) {
		payload["can_start_work"] = false
		payload["message"] = fmt.Sprintf("Vehicle approval required for component %s", comp.Name)
		return domain.Notification{Room: next, Event: EventVehicleWait, Payload: payload}
	}
	payload["can_start_work"] = true
	payload["message"] = fmt.Sprintf("Component %s is ready for %s work", comp.Name, next)
	return domain.Notification{Room: next, Event: EventTeamReady, Payload: payload}
}

// DispatchSource handles the source (glass) dispatch that opens a
// component's decoration workflow. If the component carries a sequence and
// vehicle records, the first team is told whether it may start or must wait
// for vehicle approval; nothing is sent further down the sequence.
func (e Engine) DispatchSource(ctx context.Context, ref domain.Ref, update orders.StageDispatch) (domain.Batch, error) {
	actor := e.sourceRoom()
	res, err := e.Orders.DispatchSource(ctx, ref, update)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "source-dispatch", err)
	}
	comp := res.Component

	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	payload["item_changes"] = domain.ItemChange{ItemID: ref.ItemID, NewStatus: res.ItemStatus}
	payload["order_changes"] = domain.OrderChange{OrderNumber: ref.OrderNumber, NewStatus: res.OrderStatus}

	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventSourceDispatchedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventSourceDispatched, Payload: payload},
			{Room: e.sharedRoom(), Event: EventComponentUpdated, Payload: payload},
		},
	}

	seq := sequence.Parse(comp.DecoSequence)
	if len(seq) > 0 && len(comp.VehicleDetails) > 0 {
		details := e.refPayload(ref)
		details["component_name"] = comp.Name
		details["vehicle_details"] = comp.VehicleDetails
		details["deco_sequence"] = comp.DecoSequence
		details["approval_team"] = seq[0]
		batch.Broadcasts = append(batch.Broadcasts,
			domain.Notification{Room: e.sharedRoom(), Event: EventVehicleDetails, Payload: details},
			e.handoffNotification(comp, ref, seq, actor, seq[0]),
		)
	}
	return e.emit(ctx, ref, actor, batch)
}

// ApproveVehicles records a team's vehicle approval and, once the gate
// clears, tells the first team in sequence it can start.
func (e Engine) ApproveVehicles(ctx context.Context, team string, ref domain.Ref, records []domain.VehicleRecord) (domain.Batch, error) {
	comp, err := e.Orders.UpdateVehicle(ctx, ref, records)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, team, "vehicle-approval", err)
	}

	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	payload["approved_by"] = team

	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventVehicleApprovedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sharedRoom(), Event: EventVehicleApproved, Payload: payload},
		},
	}
	if seq := sequence.Parse(comp.DecoSequence); len(seq) > 0 {
		batch.Broadcasts = append(batch.Broadcasts, e.handoffNotification(comp, ref, seq, team, seq[0]))
	}
	return e.emit(ctx, ref, team, batch)
}

// UpdateProduction records a decoration team's production progress.
func (e Engine) UpdateProduction(ctx context.Context, team string, ref domain.Ref, update orders.ProductionUpdate) (domain.Batch, error) {
	if team == "" {
		return domain.Batch{}, fmt.Errorf("team is required")
	}
	comp, err := e.Orders.UpdateProduction(ctx, team, ref, update)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, team, "production", err)
	}
	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventProductionSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: team, Event: EventProduction, Payload: payload},
		},
	}
	return e.emit(ctx, ref, team, batch)
}

// UpdateSourceProduction records source production progress, adjusting
// master stock downward when stock was consumed.
func (e Engine) UpdateSourceProduction(ctx context.Context, ref domain.Ref, update orders.ProductionUpdate) (domain.Batch, error) {
	actor := e.sourceRoom()
	comp, err := e.Orders.UpdateSourceProduction(ctx, ref, update)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "source-production", err)
	}
	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventProductionSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventProduction, Payload: payload},
		},
	}
	if update.StockUsed > 0 {
		stock, err := e.Orders.AdjustStock(ctx, comp.DataCode, -update.StockUsed)
		if err != nil {
			return domain.Batch{}, e.fail(ctx, ref, actor, "stock-adjust", err)
		}
		batch.Broadcasts = append(batch.Broadcasts, domain.Notification{
			Room:  e.sourceRoom(),
			Event: EventStockAdjusted,
			Payload: map[string]any{
				"data_code": stock.DataCode,
				"new_stock": stock.AvailableStock,
			},
		})
	}
	return e.emit(ctx, ref, actor, batch)
}

// UpdateVehicle replaces a component's vehicle records.
func (e Engine) UpdateVehicle(ctx context.Context, ref domain.Ref, records []domain.VehicleRecord) (domain.Batch, error) {
	actor := e.sourceRoom()
	comp, err := e.Orders.UpdateVehicle(ctx, ref, records)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "vehicle", err)
	}
	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventVehicleUpdatedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventVehicleUpdated, Payload: payload},
		},
	}
	return e.emit(ctx, ref, actor, batch)
}

// AdjustStock applies a signed master stock adjustment.
func (e Engine) AdjustStock(ctx context.Context, dataCode string, adjustment int) (domain.Batch, error) {
	actor := e.sourceRoom()
	stock, err := e.Orders.AdjustStock(ctx, dataCode, adjustment)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, domain.Ref{}, actor, "stock-adjust", err)
	}
	payload := map[string]any{
		"data_code": stock.DataCode,
		"new_stock": stock.AvailableStock,
	}
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventStockAdjustedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventStockAdjusted, Payload: payload},
		},
	}
	return e.emit(ctx, domain.Ref{}, actor, batch)
}

// Rollback clears a component's vehicle records, rolls its production back,
// and restocks the returned quantity. The whole outcome is reported as one
// batch once every call has succeeded.
func (e Engine) Rollback(ctx context.Context, ref domain.Ref, req orders.RollbackRequest) (domain.Batch, error) {
	actor := e.sourceRoom()
	if _, err := e.Orders.UpdateVehicle(ctx, ref, []domain.VehicleRecord{}); err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "rollback", err)
	}
	res, err := e.Orders.RollbackComponent(ctx, ref, req)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "rollback", err)
	}

	payload := e.refPayload(ref)
	payload["updated_component"] = domain.Component{
		ComponentID:    res.ComponentChanges.ComponentID,
		Name:           res.ComponentChanges.ComponentName,
		ComponentType:  res.ComponentChanges.ComponentType,
		Status:         res.ComponentChanges.NewStatus,
		CompletedQty:   res.ComponentChanges.NewCompletedQty,
		Tracking:       []domain.TrackingEntry{},
		VehicleDetails: []domain.VehicleRecord{},
	}
	payload["item_changes"] = res.ItemChanges
	payload["order_changes"] = res.OrderChanges

	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventRollbackSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventRollback, Payload: payload},
			{Room: e.sharedRoom(), Event: EventComponentUpdated, Payload: payload},
		},
	}
	if req.QuantityToRollback > 0 {
		comp, err := e.Orders.GetComponent(ctx, ref)
		if err != nil {
			return domain.Batch{}, e.fail(ctx, ref, actor, "rollback", err)
		}
		if comp.DataCode != "" {
			stock, err := e.Orders.AdjustStock(ctx, comp.DataCode, req.QuantityToRollback)
			if err != nil {
				return domain.Batch{}, e.fail(ctx, ref, actor, "stock-adjust", err)
			}
			batch.Broadcasts = append(batch.Broadcasts, domain.Notification{
				Room:  e.sourceRoom(),
				Event: EventStockAdjusted,
				Payload: map[string]any{
					"data_code": stock.DataCode,
					"new_stock": stock.AvailableStock,
				},
			})
		}
	}
	return e.emit(ctx, ref, actor, batch)
}

// CreateMaster adds a master catalog entry and announces it to the source
// room.
func (e Engine) CreateMaster(ctx context.Context, record domain.MasterRecord) (domain.Batch, error) {
	actor := e.sourceRoom()
	out, err := e.Orders.CreateMaster(ctx, record)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, domain.Ref{}, actor, "master-create", err)
	}
	payload := map[string]any{"master": out}
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventMasterCreatedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventMasterCreated, Payload: payload},
		},
	}
	return e.emit(ctx, domain.Ref{}, actor, batch)
}

// UpdateMaster replaces a master catalog entry's fields.
func (e Engine) UpdateMaster(ctx context.Context, productID string, record domain.MasterRecord) (domain.Batch, error) {
	actor := e.sourceRoom()
	if productID == "" {
		return domain.Batch{}, fmt.Errorf("product id is required")
	}
	out, err := e.Orders.UpdateMaster(ctx, productID, record)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, domain.Ref{}, actor, "master-update", err)
	}
	payload := map[string]any{"master": out}
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventMasterUpdatedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventMasterUpdated, Payload: payload},
		},
	}
	return e.emit(ctx, domain.Ref{}, actor, batch)
}

// DeleteMaster removes a master catalog entry.
func (e Engine) DeleteMaster(ctx context.Context, productID string) (domain.Batch, error) {
	actor := e.sourceRoom()
	if productID == "" {
		return domain.Batch{}, fmt.Errorf("product id is required")
	}
	if err := e.Orders.DeleteMaster(ctx, productID); err != nil {
		return domain.Batch{}, e.fail(ctx, domain.Ref{}, actor, "master-delete", err)
	}
	payload := map[string]any{"product_id": productID}
	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventMasterDeletedSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventMasterDeleted, Payload: payload},
		},
	}
	return e.emit(ctx, domain.Ref{}, actor, batch)
}

// AdjustProductionDown removes completed quantity from a component's source
// production. A reason is mandatory; the orders service pulls from stock
// first and reports the split, which is fanned out to the source room.
func (e Engine) AdjustProductionDown(ctx context.Context, ref domain.Ref, quantity int, reason string) (domain.Batch, error) {
	actor := e.sourceRoom()
	if quantity <= 0 {
		return domain.Batch{}, fmt.Errorf("a positive quantity to remove is required")
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Batch{}, fmt.Errorf("reason is required for a negative adjustment")
	}
	res, err := e.Orders.AdjustProductionNegative(ctx, ref, quantity, reason)
	if err != nil {
		return domain.Batch{}, e.fail(ctx, ref, actor, "production-adjustment", err)
	}
	comp := res.Component

	itemStatus := "IN_PROGRESS"
	if comp.Status == "COMPLETED" {
		itemStatus = "COMPLETED"
	}
	payload := e.refPayload(ref)
	payload["updated_component"] = comp
	payload["adjustment_summary"] = res.AdjustmentSummary
	payload["item_changes"] = domain.ItemChange{ItemID: ref.ItemID, NewStatus: itemStatus}
	payload["order_changes"] = domain.OrderChange{OrderNumber: ref.OrderNumber, NewStatus: res.OrderStatus}

	batch := domain.Batch{
		SelfAck: &domain.Notification{Event: EventAdjustmentSelf, Payload: payload},
		Broadcasts: []domain.Notification{
			{Room: e.sourceRoom(), Event: EventAdjustment, Payload: payload},
		},
	}
	return e.emit(ctx, ref, actor, batch)
}

// Eligibility answers whether a team may work on a component right now.
// Read-only: no notifications, no journal entry.
func (e Engine) Eligibility(ctx context.Context, ref domain.Ref, team string) (domain.EligibilityResult, string, error) {
	comp, err := e.Orders.GetComponent(ctx, ref)
	if err != nil {
		return domain.EligibilityResult{}, "", err
	}
	res := workflow.CanWork(comp, team)
	return res, workflow.WaitingMessage(comp, team), nil
}

// Component proxies a snapshot fetch for query endpoints and the CLI.
func (e Engine) Component(ctx context.Context, ref domain.Ref) (domain.Component, error) {
	return e.Orders.GetComponent(ctx, ref)
}

// emit journals the batch and publishes its broadcasts. The journal append
// happens first so the batch is auditable even if a subscriber is slow or
// the hub bridge is down; publish failures are logged, not retried. When the
// append itself fails, the orders mutation has already been applied: the
// returned error means "applied but unrecorded", and callers should re-fetch
// the component rather than retry the action.
func (e Engine) emit(ctx context.Context, ref domain.Ref, actor string, batch domain.Batch) (domain.Batch, error) {
	batch.ID = uuid.New().String()
	if err := e.Journal.AppendBatch(ctx, ref, actor, batch); err != nil {
		return domain.Batch{}, fmt.Errorf("journal batch: %w", err)
	}
	for _, n := range batch.Broadcasts {
		if err := e.Hub.Publish(ctx, n); err != nil {
			log.Printf("engine: publish %s to %s failed: %v", n.Event, n.Room, err)
		}
	}
	return batch, nil
}

// fail journals a terminal action failure and passes the cause through.
func (e Engine) fail(ctx context.Context, ref domain.Ref, actor, action string, cause error) error {
	if err := e.Journal.AppendError(ctx, ref, actor, action, cause); err != nil {
		log.Printf("engine: journal error event failed: %v", err)
	}
	return cause
}

func (e Engine) refPayload(ref domain.Ref) map[string]any {
	return map[string]any{
		"order_number": ref.OrderNumber,
		"item_id":      ref.ItemID,
		"component_id": ref.ComponentID,
	}
}
