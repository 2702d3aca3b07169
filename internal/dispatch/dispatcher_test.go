package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
	"github.com/contalink/bandeja/internal/protocol"
	"github.com/contalink/bandeja/internal/registry"
)

type mockPusher struct {
	pushed  []string // session ids, in push order
	failFor map[string]bool
}

func (m *mockPusher) Push(sessionID string, msg *protocol.Message) error {
	m.pushed = append(m.pushed, sessionID)
	if m.failFor[sessionID] {
		return errors.New("send buffer full")
	}
	return nil
}

func count(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

func newTestDispatcher(reg *registry.Registry, p *mockPusher) *Dispatcher {
	return New(zerolog.Nop(), reg, nil, p)
}

func TestDeliverToUser(t *testing.T) {
	reg := registry.New()
	reg.Register("s1", "Maria", "FISCAL-01")
	p := &mockPusher{}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{ID: 1, Kind: domain.KindImmediate, User: "maria"}
	got := d.Deliver(n, n.Target(), time.Now())
	if got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if len(p.pushed) != 1 || p.pushed[0] != "s1" {
		t.Errorf("pushed = %v, want [s1]", p.pushed)
	}
}

func TestDeliverToOfflineUserIsZeroNotError(t *testing.T) {
	d := newTestDispatcher(registry.New(), &mockPusher{})

	n := domain.Notification{ID: 1, Kind: domain.KindImmediate, User: "ninguem"}
	if got := d.Deliver(n, n.Target(), time.Now()); got != 0 {
		t.Errorf("delivered = %d, want 0", got)
	}
}

func TestDeliverToSectorsNoDedup(t *testing.T) {
	reg := registry.New()
	// FISCAL-TI-03 matches both FISCAL and TI; it must be pushed twice.
	reg.Register("s1", "Ana", "FISCAL-TI-03")
	reg.Register("s2", "Bia", "CONTAB-02")
	p := &mockPusher{}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{ID: 2, Kind: domain.KindScheduled, Sectors: []string{"FISCAL", "TI"}}
	got := d.Deliver(n, n.Target(), time.Now())
	if got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
	if count(p.pushed, "s1") != 2 {
		t.Errorf("session s1 pushed %d times, want 2", count(p.pushed, "s1"))
	}
	if count(p.pushed, "s2") != 0 {
		t.Errorf("session s2 pushed %d times, want 0", count(p.pushed, "s2"))
	}
}

func TestDeliverToSectorsIsolatesFailedRecipients(t *testing.T) {
	reg := registry.New()
	reg.Register("s1", "Ana", "FISCAL-01")
	reg.Register("s2", "Bia", "FISCAL-02")
	reg.Register("s3", "Caio", "FISCAL-03")
	p := &mockPusher{failFor: map[string]bool{"s2": true}}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{ID: 3, Sectors: []string{"FISCAL"}}
	got := d.Deliver(n, n.Target(), time.Now())
	if got != 2 {
		t.Errorf("delivered = %d, want 2 of 3", got)
	}
	if len(p.pushed) != 3 {
		t.Errorf("attempted %d pushes, want 3", len(p.pushed))
	}
}

func TestDeliverBroadcast(t *testing.T) {
	reg := registry.New()
	reg.Register("s1", "Ana", "FISCAL-01")
	reg.Register("s2", "Bia", "DEV-01")
	reg.Register("s3", "Caio", "RECEPCAO")
	p := &mockPusher{}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{ID: 4, Kind: domain.KindScheduled}
	if got := d.Deliver(n, n.Target(), time.Now()); got != 3 {
		t.Errorf("delivered = %d, want all 3", got)
	}
}

func TestUserTargetWinsOverSectors(t *testing.T) {
	reg := registry.New()
	reg.Register("s1", "Ana", "FISCAL-01")
	reg.Register("s2", "Bia", "FISCAL-02")
	p := &mockPusher{}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{ID: 5, User: "Bia", Sectors: []string{"FISCAL"}}
	got := d.Deliver(n, n.Target(), time.Now())
	if got != 1 || p.pushed[0] != "s2" {
		t.Errorf("delivered = %d to %v, want 1 to s2 only", got, p.pushed)
	}
}

func TestNotifyNowFansOutToSector(t *testing.T) {
	reg := registry.New()
	reg.Register("s1", "Ana", "NOTEBOOK-TI-07")
	p := &mockPusher{}
	d := newTestDispatcher(reg, p)

	n := domain.Notification{Kind: domain.KindImmediate, Title: "Novo atendimento"}
	if got := d.NotifyNow(n, []string{"TI"}); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
}
