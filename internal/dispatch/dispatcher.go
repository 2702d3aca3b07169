// Package dispatch routes notification payloads to the live sessions that
// should receive them: a single user, the machines of one or more sectors,
// or everyone connected.
package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
	"github.com/contalink/bandeja/internal/protocol"
	"github.com/contalink/bandeja/internal/registry"
)

// Pusher delivers an encoded message to one session. Implementations must
// not block; a gone session or a full client buffer is an error for that
// recipient only.
type Pusher interface {
	Push(sessionID string, msg *protocol.Message) error
}

// Dispatcher fans notifications out to sessions. Delivery is fire-and-forget
// and at-most-once per resolved session per call; it never retries or queues
// for disconnected targets.
type Dispatcher struct {
	log      zerolog.Logger
	reg      *registry.Registry
	patterns SectorPatterns
	pusher   Pusher
}

// New creates a dispatcher. A nil patterns table falls back to
// DefaultSectorPatterns.
func New(log zerolog.Logger, reg *registry.Registry, patterns SectorPatterns, pusher Pusher) *Dispatcher {
	if patterns == nil {
		patterns = DefaultSectorPatterns
	}
	return &Dispatcher{
		log:      log.With().Str("component", "dispatch").Logger(),
		reg:      reg,
		patterns: patterns,
		pusher:   pusher,
	}
}

// Deliver routes one notification to its target and returns the number of
// sessions the payload was pushed to. An offline user target or a sector
// with no matching machines is a zero-delivery outcome, not an error.
func (d *Dispatcher) Deliver(n domain.Notification, target domain.Target, now time.Time) int {
	msg, err := protocol.NewMessage(protocol.TypeDelivery, buildPayload(n, now))
	if err != nil {
		d.log.Error().Err(err).Int64("id", n.ID).Msg("failed to encode delivery payload")
		return 0
	}

	switch t := target.(type) {
	case domain.UserTarget:
		return d.deliverToUser(n.ID, t.Name, msg)
	case domain.SectorsTarget:
		return d.deliverToSectors(n.ID, t.Names, msg)
	default:
		return d.deliverToAll(n.ID, msg)
	}
}

// NotifyNow is the immediate sector fan-out entry point used by the ticket
// poller. It bypasses scheduling and persistence entirely.
func (d *Dispatcher) NotifyNow(n domain.Notification, sectors []string) int {
	return d.Deliver(n, domain.SectorsTarget{Names: sectors}, time.Now())
}

func (d *Dispatcher) deliverToUser(id int64, name string, msg *protocol.Message) int {
	s, ok := d.reg.FindByUser(name)
	if !ok {
		d.log.Warn().Int64("id", id).Str("usuario", name).Msg("target user not connected")
		return 0
	}
	if !d.push(id, s, msg) {
		return 0
	}
	d.log.Info().Int64("id", id).Str("usuario", name).Msg("notification sent to user")
	return 1
}

// deliverToSectors matches each sector independently; results are not
// deduplicated across sectors, so a machine matching two listed sectors
// receives two deliveries.
func (d *Dispatcher) deliverToSectors(id int64, sectors []string, msg *protocol.Message) int {
	delivered := 0
	for _, sector := range sectors {
		matched := d.MatchSector(sector)
		if len(matched) == 0 {
			d.log.Warn().Int64("id", id).Str("setor", sector).Msg("no machines matched sector")
			continue
		}
		for _, s := range matched {
			if d.push(id, s, msg) {
				delivered++
			}
		}
	}
	return delivered
}

func (d *Dispatcher) deliverToAll(id int64, msg *protocol.Message) int {
	delivered := 0
	for _, s := range d.reg.Snapshot() {
		if d.push(id, s, msg) {
			delivered++
		}
	}
	return delivered
}

// push sends to one session; a failed recipient never aborts the rest of the
// fan-out.
func (d *Dispatcher) push(id int64, s registry.Session, msg *protocol.Message) bool {
	if err := d.pusher.Push(s.ID, msg); err != nil {
		d.log.Warn().Err(err).Int64("id", id).Str("maquina", s.Machine).Msg("failed to push to session")
		return false
	}
	return true
}

func buildPayload(n domain.Notification, now time.Time) protocol.DeliveryPayload {
	return protocol.DeliveryPayload{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		Icon:      n.Icon,
		Link:      n.Link,
		Timestamp: now.Format(time.RFC3339),
	}
}
