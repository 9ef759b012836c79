package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"decoflow/internal/config"
	"decoflow/internal/domain"
	"decoflow/internal/engine"
	"decoflow/internal/journal"
	"decoflow/internal/orders"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) byEvent(event string) []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Notification
	for _, n := range p.sent {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	Engine  engine.Engine
	Pub     *recordingPublisher
	Repo    journal.Repo
	Ctx     context.Context
	Backend *httptest.Server
}

func newTestEnv(t *testing.T, handler http.Handler) testEnv {
	t.Helper()
	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	dir := t.TempDir()
	conn, err := journal.Open(journal.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := journal.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default(backend.URL)
	pub := &recordingPublisher{}
	eng := engine.New(orders.New(backend.URL, "glass_admin"), pub, journal.Writer{DB: conn}, cfg)
	return testEnv{
		Engine:  eng,
		Pub:     pub,
		Repo:    journal.Repo{DB: conn},
		Ctx:     context.Background(),
		Backend: backend,
	}
}

func respond(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func ref() domain.Ref {
	return domain.Ref{OrderNumber: "ORD-1", ItemID: "item-1", ComponentID: "comp-1"}
}

func TestDispatchStageNotifiesNextTeamOnly(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		Name:         "Bottle 50ml",
		DecoSequence: "coating_printing",
		Decorations: map[string]domain.Stage{
			"coating": {Status: domain.StageDispatched, DispatchedBy: "coating_op"},
		},
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/deco/dispatch/coating/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		respond(w, orders.DispatchResult{Component: comp, ItemStatus: "IN_PROGRESS", OrderStatus: "IN_PROGRESS"})
	}))

	batch, err := env.Engine.DispatchStage(env.Ctx, "coating", ref(), orders.StageDispatch{DispatchedBy: "coating_op"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if batch.SelfAck == nil || batch.SelfAck.Event != engine.EventStageDispatchedSelf {
		t.Fatalf("missing self ack: %+v", batch.SelfAck)
	}

	ready := env.Pub.byEvent(engine.EventTeamReady)
	if len(ready) != 1 || ready[0].Room != "printing" {
		t.Fatalf("expected exactly one handoff to printing, got %+v", ready)
	}
	if ready[0].Payload["can_start_work"] != true {
		t.Fatalf("handoff should allow work: %+v", ready[0].Payload)
	}
	for _, n := range env.Pub.sent {
		if n.Room == "foiling" {
			t.Fatalf("no notification may reach a team outside the sequence: %+v", n)
		}
	}
	if shared := env.Pub.byEvent(engine.EventComponentUpdated); len(shared) != 1 || shared[0].Room != "decoration" {
		t.Fatalf("expected one shared broadcast, got %+v", shared)
	}

	events, err := env.Repo.Tail(env.Ctx, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 1+len(batch.Broadcasts) {
		t.Fatalf("journal should carry the whole batch, got %d rows", len(events))
	}
}

func TestDispatchStageLastTeamEndsWorkflow(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		DecoSequence: "coating_printing",
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, orders.DispatchResult{Component: comp})
	}))

	if _, err := env.Engine.DispatchStage(env.Ctx, "printing", ref(), orders.StageDispatch{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ready := env.Pub.byEvent(engine.EventTeamReady); len(ready) != 0 {
		t.Fatalf("last team must not trigger a handoff: %+v", ready)
	}
}

func TestDispatchStageRequiresTeam(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no call expected")
	}))
	if _, err := env.Engine.DispatchStage(env.Ctx, "", ref(), orders.StageDispatch{}); err == nil {
		t.Fatalf("expected error for empty team")
	}
}

func TestDispatchSourceGatesFirstTeamOnVehicles(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		Name:         "Jar",
		DecoSequence: "coating_printing_foiling",
		VehicleDetails: []domain.VehicleRecord{
			{Status: domain.VehicleStatusDelivered},
			{Received: true, Approved: false},
		},
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, orders.DispatchResult{Component: comp, ItemStatus: "DISPATCHED"})
	}))

	if _, err := env.Engine.DispatchSource(env.Ctx, ref(), orders.StageDispatch{}); err != nil {
		t.Fatalf("source dispatch: %v", err)
	}

	waits := env.Pub.byEvent(engine.EventVehicleWait)
	if len(waits) != 1 || waits[0].Room != "coating" {
		t.Fatalf("expected vehicle wait for first team, got %+v", waits)
	}
	if len(env.Pub.byEvent(engine.EventTeamReady)) != 0 {
		t.Fatalf("no go-ahead while the gate is closed")
	}
	// Strictly one hop: later teams hear nothing.
	for _, n := range env.Pub.sent {
		if n.Room == "printing" || n.Room == "foiling" {
			t.Fatalf("later teams must not be notified: %+v", n)
		}
	}
	if details := env.Pub.byEvent(engine.EventVehicleDetails); len(details) != 1 || details[0].Room != "decoration" {
		t.Fatalf("expected vehicle details on the shared room, got %+v", details)
	}
}

func TestDispatchSourceApprovedVehiclesReadyFirstTeam(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		DecoSequence: "coating_printing",
		VehicleDetails: []domain.VehicleRecord{
			{Received: true, Approved: true},
		},
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, orders.DispatchResult{Component: comp})
	}))

	if _, err := env.Engine.DispatchSource(env.Ctx, ref(), orders.StageDispatch{}); err != nil {
		t.Fatalf("source dispatch: %v", err)
	}
	ready := env.Pub.byEvent(engine.EventTeamReady)
	if len(ready) != 1 || ready[0].Room != "coating" {
		t.Fatalf("expected ready for coating, got %+v", ready)
	}
}

func TestDispatchSourceNoVehiclesNoHandoff(t *testing.T) {
	comp := domain.Component{ComponentID: "comp-1", DecoSequence: "coating_printing"}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, orders.DispatchResult{Component: comp})
	}))

	if _, err := env.Engine.DispatchSource(env.Ctx, ref(), orders.StageDispatch{}); err != nil {
		t.Fatalf("source dispatch: %v", err)
	}
	if n := env.Pub.byEvent(engine.EventVehicleDetails); len(n) != 0 {
		t.Fatalf("no vehicle details without vehicle records: %+v", n)
	}
}

func TestApproveVehiclesOpensGate(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		Name:         "Jar",
		DecoSequence: "coating_printing",
		VehicleDetails: []domain.VehicleRecord{
			{Received: true, Approved: true},
		},
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/masters/glass/vehicle/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		respond(w, comp)
	}))

	batch, err := env.Engine.ApproveVehicles(env.Ctx, "coating", ref(), comp.VehicleDetails)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if batch.SelfAck.Event != engine.EventVehicleApprovedSelf {
		t.Fatalf("self ack event %s", batch.SelfAck.Event)
	}
	ready := env.Pub.byEvent(engine.EventTeamReady)
	if len(ready) != 1 || ready[0].Room != "coating" {
		t.Fatalf("expected first team go-ahead, got %+v", ready)
	}
}

func TestOrdersFailureEmitsNothing(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "component locked"})
	}))

	_, err := env.Engine.DispatchStage(env.Ctx, "coating", ref(), orders.StageDispatch{})
	if err == nil || !strings.Contains(err.Error(), "component locked") {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if len(env.Pub.sent) != 0 {
		t.Fatalf("failure must not broadcast: %+v", env.Pub.sent)
	}
	events, err := env.Repo.Tail(env.Ctx, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 1 || events[0].Type != journal.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestUpdateSourceProductionAdjustsStock(t *testing.T) {
	comp := domain.Component{ComponentID: "comp-1", DataCode: "GL-7"}
	var stockAdjustment float64
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/masters/glass/production/"):
			respond(w, comp)
		case strings.HasPrefix(r.URL.Path, "/masters/glass/stock/adjust/GL-7"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			stockAdjustment = body["adjustment"].(float64)
			respond(w, orders.StockResult{DataCode: "GL-7", AvailableStock: 93})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	if _, err := env.Engine.UpdateSourceProduction(env.Ctx, ref(), orders.ProductionUpdate{Quantity: 7, StockUsed: 7}); err != nil {
		t.Fatalf("source production: %v", err)
	}
	if stockAdjustment != -7 {
		t.Fatalf("expected adjustment -7, got %v", stockAdjustment)
	}
	adjusted := env.Pub.byEvent(engine.EventStockAdjusted)
	if len(adjusted) != 1 || adjusted[0].Payload["new_stock"] != 93 {
		t.Fatalf("expected stock broadcast, got %+v", adjusted)
	}
}

func TestRollbackClearsVehiclesAndRestocks(t *testing.T) {
	var vehicleCleared bool
	var restock float64
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/masters/glass/vehicle/"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if records, ok := body["vehicle_details"].([]any); ok && len(records) == 0 {
				vehicleCleared = true
			}
			respond(w, domain.Component{ComponentID: "comp-1"})
		case strings.HasPrefix(r.URL.Path, "/orders/rollback/component/"):
			respond(w, map[string]any{
				"component_changes": map[string]any{"component_id": "comp-1", "new_status": "PENDING", "new_completed_qty": 0},
				"item_changes":      map[string]any{"item_id": "item-1", "new_status": "IN_PROGRESS"},
				"order_changes":     map[string]any{"order_number": "ORD-1", "new_status": "IN_PROGRESS"},
			})
		case strings.HasPrefix(r.URL.Path, "/orders/component/"):
			respond(w, domain.Component{ComponentID: "comp-1", DataCode: "GL-7"})
		case strings.HasPrefix(r.URL.Path, "/masters/glass/stock/adjust/GL-7"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			restock = body["adjustment"].(float64)
			respond(w, orders.StockResult{DataCode: "GL-7", AvailableStock: 100})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	if _, err := env.Engine.Rollback(env.Ctx, ref(), orders.RollbackRequest{QuantityToRollback: 5, Reason: "defect"}); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !vehicleCleared {
		t.Fatalf("vehicle records were not cleared before rollback")
	}
	if restock != 5 {
		t.Fatalf("expected restock +5, got %v", restock)
	}
	if n := env.Pub.byEvent(engine.EventRollback); len(n) != 1 || n[0].Room != "source" {
		t.Fatalf("expected rollback broadcast to source room, got %+v", n)
	}
}

func TestNegativeAdjustmentBroadcastsSummary(t *testing.T) {
	var gotAdjustment float64
	var gotReason string
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/masters/glass/production/adjust-negative/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotAdjustment, _ = body["adjustment"].(float64)
		gotReason, _ = body["reason"].(string)
		respond(w, orders.NegativeAdjustResult{
			Component: domain.Component{ComponentID: "comp-1", Status: "IN_PROGRESS", CompletedQty: 40},
			AdjustmentSummary: domain.AdjustmentSummary{
				TotalRemoved:        10,
				RemovedFromStock:    6,
				RemovedFromProduced: 4,
				PreviousCompleted:   50,
				CurrentCompleted:    40,
				Reason:              "breakage",
			},
			OrderStatus: "IN_PROGRESS",
		})
	}))

	batch, err := env.Engine.AdjustProductionDown(env.Ctx, ref(), 10, "breakage")
	if err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if gotAdjustment != 10 || gotReason != "breakage" {
		t.Fatalf("unexpected request body: adjustment=%v reason=%q", gotAdjustment, gotReason)
	}
	if batch.SelfAck.Event != engine.EventAdjustmentSelf {
		t.Fatalf("self ack event %s", batch.SelfAck.Event)
	}
	adjusted := env.Pub.byEvent(engine.EventAdjustment)
	if len(adjusted) != 1 || adjusted[0].Room != "source" {
		t.Fatalf("expected one adjustment broadcast to source, got %+v", adjusted)
	}
	summary, ok := adjusted[0].Payload["adjustment_summary"].(domain.AdjustmentSummary)
	if !ok || summary.TotalRemoved != 10 || summary.RemovedFromStock != 6 {
		t.Fatalf("unexpected summary %+v", adjusted[0].Payload["adjustment_summary"])
	}
	if ic, ok := adjusted[0].Payload["item_changes"].(domain.ItemChange); !ok || ic.NewStatus != "IN_PROGRESS" {
		t.Fatalf("unexpected item changes %+v", adjusted[0].Payload["item_changes"])
	}
}

func TestNegativeAdjustmentValidatesInput(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no call expected")
	}))
	if _, err := env.Engine.AdjustProductionDown(env.Ctx, ref(), 10, "  "); err == nil {
		t.Fatalf("expected error for blank reason")
	}
	if _, err := env.Engine.AdjustProductionDown(env.Ctx, ref(), 0, "breakage"); err == nil {
		t.Fatalf("expected error for non-positive quantity")
	}
	if len(env.Pub.sent) != 0 {
		t.Fatalf("validation failure must not broadcast")
	}
}

func TestMasterLifecycle(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/masters/glass":
			respond(w, domain.MasterRecord{ID: "gl-9", DataCode: "GL-9", Name: "Jar 100ml", AvailableStock: 500})
		case r.Method == http.MethodPut && r.URL.Path == "/masters/glass/gl-9":
			respond(w, domain.MasterRecord{ID: "gl-9", DataCode: "GL-9", Name: "Jar 100ml", AvailableStock: 650})
		case r.Method == http.MethodDelete && r.URL.Path == "/masters/glass/gl-9":
			respond(w, nil)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			respond(w, nil)
		}
	}))

	created, err := env.Engine.CreateMaster(env.Ctx, domain.MasterRecord{DataCode: "GL-9", Name: "Jar 100ml", AvailableStock: 500})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.SelfAck.Event != engine.EventMasterCreatedSelf {
		t.Fatalf("create self ack %s", created.SelfAck.Event)
	}
	if n := env.Pub.byEvent(engine.EventMasterCreated); len(n) != 1 || n[0].Room != "source" {
		t.Fatalf("expected create broadcast to source, got %+v", n)
	}

	if _, err := env.Engine.UpdateMaster(env.Ctx, "gl-9", domain.MasterRecord{AvailableStock: 650}); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated := env.Pub.byEvent(engine.EventMasterUpdated)
	if len(updated) != 1 {
		t.Fatalf("expected one update broadcast, got %+v", updated)
	}
	if rec, ok := updated[0].Payload["master"].(domain.MasterRecord); !ok || rec.AvailableStock != 650 {
		t.Fatalf("unexpected updated master %+v", updated[0].Payload["master"])
	}

	deleted, err := env.Engine.DeleteMaster(env.Ctx, "gl-9")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.SelfAck.Payload["product_id"] != "gl-9" {
		t.Fatalf("delete self ack payload %+v", deleted.SelfAck.Payload)
	}
	if _, err := env.Engine.DeleteMaster(env.Ctx, ""); err == nil {
		t.Fatalf("expected error for empty product id")
	}
}

func TestEligibility(t *testing.T) {
	comp := domain.Component{
		ComponentID:  "comp-1",
		DecoSequence: "coating_printing_foiling",
		Decorations:  map[string]domain.Stage{},
	}
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, comp)
	}))

	res, msg, err := env.Engine.Eligibility(env.Ctx, ref(), "printing")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if res.CanWork || res.WaitingFor != "coating" {
		t.Fatalf("expected wait on coating, got %+v", res)
	}
	if msg != "Awaiting coating (Status: N/A)" {
		t.Fatalf("unexpected waiting message %q", msg)
	}
	if len(env.Pub.sent) != 0 {
		t.Fatalf("eligibility is read-only")
	}
}
