package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
)

type mockNotifier struct {
	mu    sync.Mutex
	calls []struct {
		n       domain.Notification
		sectors []string
	}
}

func (m *mockNotifier) NotifyNow(n domain.Notification, sectors []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, struct {
		n       domain.Notification
		sectors []string
	}{n, sectors})
	return 1
}

type helpdesk struct {
	tickets  []ticket
	contacts map[int64]string
	token    string
}

func (h *helpdesk) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/tickets":
			_ = json.NewEncoder(w).Encode(ticketPage{Tickets: h.tickets, LastPage: 1})
		case strings.HasPrefix(r.URL.Path, "/contacts/"):
			var id int64
			_, _ = fmt.Sscanf(r.URL.Path, "/contacts/%d", &id)
			name, ok := h.contacts[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"name": name})
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestPoller(t *testing.T, hd *helpdesk) (*Poller, *mockNotifier) {
	t.Helper()
	srv := httptest.NewServer(hd.handler(t))
	t.Cleanup(srv.Close)

	notifier := &mockNotifier{}
	p := New(zerolog.Nop(), Config{BaseURL: srv.URL, Token: hd.token}, notifier)
	return p, notifier
}

func TestPollNotifiesPendingTickets(t *testing.T) {
	hd := &helpdesk{
		tickets: []ticket{
			{ID: 10, Status: "pending", QueueID: 1, ContactID: 100},          // FISCAL
			{ID: 11, Status: "open", QueueID: 1, ContactID: 100},             // in progress, skip
			{ID: 12, Status: "paused", UnreadMessages: 2, QueueID: 7, ContactID: 101}, // TI
			{ID: 13, Status: "paused", UnreadMessages: 0, QueueID: 7, ContactID: 101}, // quiet, skip
			{ID: 14, Status: "pending", QueueID: 99, ContactID: 100},         // unmapped queue, skip
		},
		contacts: map[int64]string{100: "Empresa Alfa", 101: "Empresa Beta"},
		token:    "s3cret",
	}
	p, notifier := newTestPoller(t, hd)

	p.Poll(context.Background())

	if len(notifier.calls) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifier.calls))
	}

	first := notifier.calls[0]
	if first.n.Kind != domain.KindImmediate {
		t.Errorf("Kind = %s, want imediata", first.n.Kind)
	}
	if first.n.Title != "Novo atendimento" {
		t.Errorf("Title = %q", first.n.Title)
	}
	if !strings.Contains(first.n.Body, "Empresa Alfa") {
		t.Errorf("Body = %q, want contact name", first.n.Body)
	}
	if len(first.sectors) != 1 || first.sectors[0] != "FISCAL" {
		t.Errorf("sectors = %v, want [FISCAL]", first.sectors)
	}

	second := notifier.calls[1]
	if second.n.Title != "Nova mensagem em atendimento pausado" {
		t.Errorf("Title = %q", second.n.Title)
	}
	if second.sectors[0] != "TI" {
		t.Errorf("sectors = %v, want [TI]", second.sectors)
	}
}

func TestPollNotifiesEachTicketOnce(t *testing.T) {
	hd := &helpdesk{
		tickets:  []ticket{{ID: 10, Status: "pending", QueueID: 1, ContactID: 100}},
		contacts: map[int64]string{100: "Empresa Alfa"},
	}
	p, notifier := newTestPoller(t, hd)

	p.Poll(context.Background())
	p.Poll(context.Background())

	if len(notifier.calls) != 1 {
		t.Errorf("got %d notifications across two polls, want 1", len(notifier.calls))
	}
}

func TestPollContactFailureIsolatesTicket(t *testing.T) {
	hd := &helpdesk{
		tickets: []ticket{
			{ID: 10, Status: "pending", QueueID: 1, ContactID: 404}, // contact lookup fails
			{ID: 11, Status: "pending", QueueID: 7, ContactID: 101},
		},
		contacts: map[int64]string{101: "Empresa Beta"},
	}
	p, notifier := newTestPoller(t, hd)

	p.Poll(context.Background())

	if len(notifier.calls) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.calls))
	}
	if notifier.calls[0].sectors[0] != "TI" {
		t.Errorf("sectors = %v, want [TI]", notifier.calls[0].sectors)
	}

	// The failed ticket was not marked; a later poll retries it.
	hd.contacts[404] = "Empresa Gama"
	p.Poll(context.Background())
	if len(notifier.calls) != 2 {
		t.Errorf("got %d notifications after retry, want 2", len(notifier.calls))
	}
}

func TestPollAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	notifier := &mockNotifier{}
	p := New(zerolog.Nop(), Config{BaseURL: srv.URL}, notifier)

	p.Poll(context.Background())
	if len(notifier.calls) != 0 {
		t.Errorf("got %d notifications from a failing API, want 0", len(notifier.calls))
	}
}

func TestDefaultQueuesCoverKnownSectors(t *testing.T) {
	p := New(zerolog.Nop(), Config{BaseURL: "http://unused"}, &mockNotifier{})

	for _, q := range DefaultQueues {
		if p.sectors[q.ID] != q.Sector {
			t.Errorf("queue %d maps to %q, want %q", q.ID, p.sectors[q.ID], q.Sector)
		}
	}
	if _, ok := p.sectors[5]; ok {
		t.Error("queue 5 is not mapped and must stay unmapped")
	}
}
