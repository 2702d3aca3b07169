// Package domain holds the notification record and routing types shared by
// the scheduling engine, the dispatcher and the persistence layer.
package domain

import "time"

// Kind discriminates how a notification is scheduled. The values are the
// persisted/wire vocabulary the tray clients already speak.
type Kind string

const (
	// KindImmediate fires as soon as the scheduler sees it.
	KindImmediate Kind = "imediata"
	// KindScheduled fires at a fixed instant, optionally repeating.
	KindScheduled Kind = "agendada"
	// KindFixedDaily re-arms every calendar day at a fixed time-of-day.
	KindFixedDaily Kind = "fixa"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImmediate, KindScheduled, KindFixedDaily:
		return true
	}
	return false
}

// Notification is the persisted notification record. The JSON names are the
// column/wire vocabulary the dashboard already consumes.
type Notification struct {
	ID      int64    `json:"id"`
	Kind    Kind     `json:"tipo"`
	Title   string   `json:"titulo"`
	Body    string   `json:"mensagem"`
	Link    string   `json:"link"`
	Icon    string   `json:"icone"`
	User    string   `json:"usuario"`  // optional target user; takes precedence over Sectors
	Sectors []string `json:"setores"`  // sector names; empty means broadcast to everyone

	ScheduledAt *time.Time `json:"agendadaPara"` // nil for a record that is not yet schedulable
	Active      bool       `json:"ativo"`

	// MaxRepeats and IntervalMinutes are nil when the record carries no
	// recurrence configuration; such records are skipped by the evaluator.
	// A MaxRepeats of zero means "fire once".
	MaxRepeats      *int `json:"repete"`
	IntervalMinutes *int `json:"intervalo"`

	RepeatsSent int        `json:"repeticoes_enviadas"`
	LastFiredAt *time.Time `json:"ultima_execucao"` // maintained only for fixed-daily records

	CreatedAt time.Time `json:"createdAt"`
}

// Schedulable reports whether the record carries a complete recurrence
// configuration.
func (n Notification) Schedulable() bool {
	return n.ScheduledAt != nil && n.MaxRepeats != nil && n.IntervalMinutes != nil
}

// Target derives the routing destination from the record: a named user wins
// over sectors, and no sectors means broadcast.
func (n Notification) Target() Target {
	if n.User != "" {
		return UserTarget{Name: n.User}
	}
	if len(n.Sectors) > 0 {
		return SectorsTarget{Names: n.Sectors}
	}
	return BroadcastTarget{}
}

// Target is the routing destination of one delivery. Exactly one variant
// applies to any record; the union makes the mutual exclusion explicit
// instead of leaving it implied by which string fields happen to be set.
type Target interface {
	isTarget()
}

// UserTarget routes to the first connected session of a named user.
type UserTarget struct {
	Name string
}

// SectorsTarget routes to every machine matching each listed sector. A
// session matching two listed sectors receives two deliveries.
type SectorsTarget struct {
	Names []string
}

// BroadcastTarget routes to every connected session.
type BroadcastTarget struct{}

func (UserTarget) isTarget()      {}
func (SectorsTarget) isTarget()   {}
func (BroadcastTarget) isTarget() {}
