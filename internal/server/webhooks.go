package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"decoflow/internal/config"
	"decoflow/internal/journal"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookForwarder tails the journal and pushes new events to configured
// endpoints. Each hook keeps its own cursor, initialised to the newest event
// so a fresh hook does not replay history.
type webhookForwarder struct {
	repo     journal.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookForwarder launches the journal-to-webhook loop. A no-op when
// no webhooks are configured.
func StartWebhookForwarder(repo journal.Repo, webhooks []config.WebhookConfig) {
	if len(webhooks) == 0 {
		return
	}
	f := &webhookForwarder{
		repo:     repo,
		webhooks: webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go f.run()
}

func (f *webhookForwarder) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		f.forwardAll()
		<-ticker.C
	}
}

func (f *webhookForwarder) forwardAll() {
	for i, hook := range f.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		f.forward(i, hook)
	}
}

func (f *webhookForwarder) forward(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := f.cursorFor(idx)
	events, err := f.repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			f.setCursor(idx, evt.ID)
			continue
		}
		if err := f.postEvent(ctx, hook, evt); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		f.setCursor(idx, evt.ID)
	}
}

func (f *webhookForwarder) cursorFor(idx int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[idx]; ok {
		return cur
	}
	cur, err := f.repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	f.cursors[idx] = cur
	return cur
}

func (f *webhookForwarder) setCursor(idx int, value int64) {
	f.mu.Lock()
	f.cursors[idx] = value
	f.mu.Unlock()
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	BatchID     string          `json:"batch_id,omitempty"`
	OrderNumber string          `json:"order_number,omitempty"`
	ItemID      string          `json:"item_id,omitempty"`
	ComponentID string          `json:"component_id,omitempty"`
	Actor       string          `json:"actor"`
	Room        string          `json:"room,omitempty"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

func (f *webhookForwarder) postEvent(ctx context.Context, hook config.WebhookConfig, evt journal.Event) error {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	body := webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		BatchID:     evt.BatchID,
		OrderNumber: evt.OrderNumber,
		ItemID:      evt.ItemID,
		ComponentID: evt.ComponentID,
		Actor:       evt.Actor,
		Room:        evt.Room,
		TS:          evt.TS,
		Payload:     payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := f.client
	if timeout != f.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Decoflow-Event", evt.Type)
	req.Header.Set("X-Decoflow-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Decoflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
