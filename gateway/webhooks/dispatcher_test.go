package webhooks

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fayedaihall/tesseracts-world/core/events"
	"github.com/fayedaihall/tesseracts-world/native/escrow"
)

type receivedHook struct {
	signature string
	body      []byte
}

type hookReceiver struct {
	mu       sync.Mutex
	hooks    []receivedHook
	failures int
}

func (r *hookReceiver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.failures > 0 {
			r.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.hooks = append(r.hooks, receivedHook{
			signature: req.Header.Get("X-Webhook-Signature"),
			body:      body,
		})
		w.WriteHeader(http.StatusOK)
	}
}

func (r *hookReceiver) received() []receivedHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]receivedHook, len(r.hooks))
	copy(out, r.hooks)
	return out
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "webhooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func newFastDispatcher(journal *Journal, endpoints []Endpoint) *Dispatcher {
	d := NewDispatcher(journal, endpoints, nil)
	d.backoff = time.Millisecond
	return d
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestJournalAppendDeletePending(t *testing.T) {
	journal := newTestJournal(t)

	first, err := journal.Append("escrow.created", map[string]string{"escrowId": "esc-1"}, time.Now())
	require.NoError(t, err)
	second, err := journal.Append("escrow.funded", map[string]string{"escrowId": "esc-1"}, time.Now())
	require.NoError(t, err)
	require.Greater(t, second.Sequence, first.Sequence)

	pending, err := journal.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "escrow.created", pending[0].Type)

	require.NoError(t, journal.Delete(first.Sequence))
	pending, err = journal.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.Sequence, pending[0].Sequence)
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	receiver := &hookReceiver{}
	server := httptest.NewServer(receiver.handler())
	defer server.Close()

	journal := newTestJournal(t)
	dispatcher := newFastDispatcher(journal, []Endpoint{{Name: "orders", URL: server.URL, Secret: "hook-secret"}})

	bus := events.NewBus()
	defer bus.Close()
	subscription := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx, subscription)
		close(done)
	}()

	bus.Emit(&escrow.Event{
		Type:       escrow.EventTypeFunded,
		Attributes: map[string]string{"escrowId": "esc-1", "amount": "1000"},
	})

	waitFor(t, func() bool { return len(receiver.received()) == 1 })
	hook := receiver.received()[0]
	require.Equal(t, SignPayload("hook-secret", hook.body), hook.signature)
	require.True(t, hmac.Equal([]byte(hook.signature), []byte(SignPayload("hook-secret", hook.body))))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(hook.body, &payload))
	require.Equal(t, "escrow.funded", payload["type"])
	attrs, ok := payload["attributes"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "esc-1", attrs["escrowId"])

	waitFor(t, func() bool {
		pending, err := journal.Pending()
		return err == nil && len(pending) == 0
	})

	cancel()
	<-done
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	receiver := &hookReceiver{failures: 2}
	server := httptest.NewServer(receiver.handler())
	defer server.Close()

	journal := newTestJournal(t)
	dispatcher := newFastDispatcher(journal, []Endpoint{{Name: "orders", URL: server.URL, Secret: "hook-secret"}})

	bus := events.NewBus()
	defer bus.Close()
	subscription := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx, subscription)

	bus.Emit(&escrow.Event{Type: escrow.EventTypeReleased, Attributes: map[string]string{"escrowId": "esc-1"}})

	waitFor(t, func() bool { return len(receiver.received()) == 1 })
	waitFor(t, func() bool {
		pending, err := journal.Pending()
		return err == nil && len(pending) == 0
	})
}

func TestDispatcherKeepsUndeliveredRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	journal := newTestJournal(t)
	dispatcher := newFastDispatcher(journal, []Endpoint{{Name: "orders", URL: server.URL, Secret: "hook-secret"}})

	bus := events.NewBus()
	defer bus.Close()
	subscription := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx, subscription)

	bus.Emit(&escrow.Event{Type: escrow.EventTypeDisputed, Attributes: map[string]string{"escrowId": "esc-1"}})

	waitFor(t, func() bool {
		pending, err := journal.Pending()
		return err == nil && len(pending) == 1
	})
}

func TestDispatcherReplaysJournalOnStart(t *testing.T) {
	receiver := &hookReceiver{}
	server := httptest.NewServer(receiver.handler())
	defer server.Close()

	journal := newTestJournal(t)
	_, err := journal.Append("escrow.refunded", map[string]string{"escrowId": "esc-9"}, time.Now())
	require.NoError(t, err)

	dispatcher := newFastDispatcher(journal, []Endpoint{{Name: "orders", URL: server.URL, Secret: "hook-secret"}})

	bus := events.NewBus()
	defer bus.Close()
	subscription := bus.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx, subscription)

	waitFor(t, func() bool { return len(receiver.received()) == 1 })
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(receiver.received()[0].body, &payload))
	require.Equal(t, "escrow.refunded", payload["type"])
}
