package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"chronoline/internal/audit"
	"chronoline/internal/config"
)

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	appendEntry := func(action string) {
		t.Helper()
		if err := srv.Engine.Audit.Append(ctx, action, "ticket", "t1", "u1", audit.Payload{"title": "x"}); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}
	appendEntry("ticket.created")

	received := make(chan webhookEntry, 10)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var entry webhookEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		if r.Header.Get("X-Chronoline-Action") != entry.Action {
			t.Errorf("action header: %s vs %s", r.Header.Get("X-Chronoline-Action"), entry.Action)
		}
		received <- entry
	}))
	defer hs.Close()

	hook := config.Webhook{URL: hs.URL, Actions: []string{"ticket.created"}}
	d := &webhookDispatcher{
		engine:   srv.Engine,
		webhooks: []config.Webhook{hook},
		client:   hs.Client(),
		logger:   log.Default(),
		// Start before the seeded entry so it gets delivered.
		cursors: map[int]int64{0: 0},
	}
	d.dispatchWebhook(ctx, 0, hook)

	select {
	case entry := <-received:
		if entry.Action != "ticket.created" || entry.EntityID != "t1" {
			t.Fatalf("delivered entry: %#v", entry)
		}
	default:
		t.Fatal("entry not delivered")
	}

	// Entries outside the action filter advance the cursor without a post.
	before := d.cursors[0]
	appendEntry("user.created")
	d.dispatchWebhook(ctx, 0, hook)
	select {
	case entry := <-received:
		t.Fatalf("filtered entry delivered: %#v", entry)
	default:
	}
	if d.cursors[0] <= before {
		t.Fatalf("cursor not advanced past filtered entry: %d", d.cursors[0])
	}
}

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	d := &webhookDispatcher{
		engine:  srv.Engine,
		client:  &http.Client{},
		logger:  log.Default(),
		cursors: map[int]int64{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}
