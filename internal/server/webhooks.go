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
	"time"

	"prosync/internal/config"
	"prosync/internal/events"
)

const webhookQueue = 256

// webhookDispatcher forwards hub changes to the configured hooks. Deliveries run on one
// goroutine per hook so a slow endpoint only delays its own queue.
type webhookDispatcher struct {
	hooks  []config.Webhook
	logger *log.Logger
	queues []chan events.Change
}

// startWebhookDispatcher subscribes to every change on hub. The returned func stops delivery.
func startWebhookDispatcher(hub *events.Hub, hooks []config.Webhook, logger *log.Logger) func() {
	if hub == nil {
		return func() {}
	}
	d := &webhookDispatcher{logger: logger}
	for _, h := range hooks {
		if h.Active() {
			d.hooks = append(d.hooks, h)
		}
	}
	if len(d.hooks) == 0 {
		return func() {}
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	for _, h := range d.hooks {
		q := make(chan events.Change, webhookQueue)
		d.queues = append(d.queues, q)
		go d.run(ctx, h, q)
	}
	unsubscribe := hub.Subscribe("", d.enqueue)
	return func() {
		unsubscribe()
		cancel()
	}
}

func (d *webhookDispatcher) enqueue(c events.Change) {
	for i, q := range d.queues {
		select {
		case q <- c:
		default:
			d.logger.Printf("webhook: queue full for %s, dropping %s #%d", d.hooks[i].URL, c.Type(), c.Seq)
		}
	}
}

func (d *webhookDispatcher) run(ctx context.Context, hook config.Webhook, q chan events.Change) {
	client := &http.Client{Timeout: hook.Timeout()}
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-q:
			if err := postChange(ctx, client, hook, c); err != nil {
				d.logger.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			}
		}
	}
}

type webhookEvent struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Entity    string    `json:"entity"`
	ProjectID string    `json:"projectId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	At        time.Time `json:"at"`
}

func postChange(ctx context.Context, client *http.Client, hook config.Webhook, c events.Change) error {
	data, err := json.Marshal(webhookEvent{
		Seq:       c.Seq,
		Type:      c.Type(),
		Entity:    string(c.Entity),
		ProjectID: c.ProjectID,
		EntityID:  c.EntityID,
		At:        c.At,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Prosync-Event", c.Type())
	req.Header.Set("X-Prosync-Delivery", fmt.Sprintf("%d", c.Seq))
	if c.ProjectID != "" {
		req.Header.Set("X-Prosync-Project", c.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Prosync-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
