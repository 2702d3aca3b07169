// Package tickets polls the helpdesk API and pushes immediate notifications
// to the sector responsible for each ticket that is waiting on an agent.
package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
)

// Notifier is the immediate fan-out entry point; it bypasses the scheduler
// and persistence entirely.
type Notifier interface {
	NotifyNow(n domain.Notification, sectors []string) int
}

// Config holds the poller settings.
type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	Spec     string // cron spec, e.g. "@every 1m"
}

// Queue maps a helpdesk queue to the sector that should be notified.
type Queue struct {
	ID     int
	Name   string
	Sector string
}

// DefaultQueues is the static queue-to-sector table.
var DefaultQueues = []Queue{
	{ID: 1, Name: "DEPARTAMENTO FISCAL", Sector: "FISCAL"},
	{ID: 2, Name: "DEPARTAMENTO CONTÁBIL", Sector: "CONTABIL"},
	{ID: 3, Name: "RH", Sector: "OUTROS"},
	{ID: 4, Name: "DEPARTAMENTO PESSOAL", Sector: "DP"},
	{ID: 6, Name: "ONBOARDING", Sector: "CONSULTORIA"},
	{ID: 7, Name: "TI", Sector: "TI"},
	{ID: 8, Name: "CADASTRO", Sector: "SOCIETARIO"},
	{ID: 9, Name: "FINANCEIRO", Sector: "FINANCEIRO"},
	{ID: 10, Name: "COMERCIAL", Sector: "COMERCIAL"},
	{ID: 11, Name: "RECEPÇÃO", Sector: "OUTROS"},
	{ID: 12, Name: "REGULARIDADE", Sector: "SOCIETARIO"},
}

// Poller periodically fetches pending tickets and notifies their sectors,
// at most once per ticket for the process lifetime.
type Poller struct {
	log      zerolog.Logger
	cfg      Config
	client   *http.Client
	notifier Notifier
	sectors  map[int]string // queue id → sector

	cron *cron.Cron

	mu       sync.Mutex
	notified map[int64]struct{}
}

// New creates a poller over the default queue table.
func New(log zerolog.Logger, cfg Config, notifier Notifier) *Poller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	sectors := make(map[int]string, len(DefaultQueues))
	for _, q := range DefaultQueues {
		sectors[q.ID] = q.Sector
	}
	return &Poller{
		log:      log.With().Str("component", "tickets").Logger(),
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		notifier: notifier,
		sectors:  sectors,
		notified: make(map[int64]struct{}),
	}
}

// Start schedules the poll job.
func (p *Poller) Start() error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.cfg.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		p.Poll(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid tickets poll spec %q: %w", p.cfg.Spec, err)
	}
	p.cron.Start()
	p.log.Info().Str("spec", p.cfg.Spec).Msg("ticket poller started")
	return nil
}

// Stop halts the poll job, waiting for an in-flight poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.log.Info().Msg("ticket poller stopped")
}

// Poll fetches the pending tickets once and fans out one notification per
// newly seen ticket. Failures on one ticket never stop the rest.
func (p *Poller) Poll(ctx context.Context) {
	pending, err := p.fetchPending(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch tickets")
		return
	}

	now := time.Now()
	for _, t := range pending {
		sector, ok := p.sectors[t.QueueID]
		if !ok {
			continue
		}
		if p.alreadyNotified(t.ID) {
			continue
		}

		contactName, err := p.fetchContactName(ctx, t.ContactID)
		if err != nil {
			p.log.Error().Err(err).Int64("ticket", t.ID).Msg("failed to fetch ticket contact")
			continue
		}

		n := buildTicketNotification(t, contactName, sector)
		delivered := p.notifier.NotifyNow(n, []string{sector})
		p.markNotified(t.ID)

		p.log.Info().
			Int64("ticket", t.ID).
			Str("setor", sector).
			Int("delivered", delivered).
			Time("at", now).
			Msg("ticket notification sent")
	}
}

type ticket struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	UnreadMessages int    `json:"unreadMessages"`
	QueueID        int    `json:"queueId"`
	ContactID      int64  `json:"contactId"`
}

type ticketPage struct {
	Tickets  []ticket `json:"tickets"`
	LastPage int      `json:"lastPage"`
}

// fetchPending reads the most recent ticket page and keeps the tickets that
// are waiting on an agent: pending, or paused with unread messages.
func (p *Poller) fetchPending(ctx context.Context) ([]ticket, error) {
	first, err := p.fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(first.Tickets) == 0 {
		return nil, nil
	}

	page := first
	if first.LastPage > 1 {
		page, err = p.fetchPage(ctx, first.LastPage)
		if err != nil {
			return nil, err
		}
	}

	var pending []ticket
	for _, t := range page.Tickets {
		if t.Status == "pending" || (t.Status == "paused" && t.UnreadMessages > 0) {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (p *Poller) fetchPage(ctx context.Context, page int) (ticketPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(p.cfg.PageSize))

	var out ticketPage
	if err := p.getJSON(ctx, p.cfg.BaseURL+"/tickets?"+q.Encode(), &out); err != nil {
		return ticketPage{}, err
	}
	return out, nil
}

func (p *Poller) fetchContactName(ctx context.Context, contactID int64) (string, error) {
	if contactID == 0 {
		return "", fmt.Errorf("ticket has no contact")
	}
	var contact struct {
		Name string `json:"name"`
	}
	err := p.getJSON(ctx, fmt.Sprintf("%s/contacts/%d", p.cfg.BaseURL, contactID), &contact)
	if err != nil {
		return "", err
	}
	return contact.Name, nil
}

func (p *Poller) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func buildTicketNotification(t ticket, contactName, sector string) domain.Notification {
	title := "Novo atendimento"
	body := fmt.Sprintf("Cliente: %s. Aguardando atendimento no Setor: %s.", contactName, sector)
	if t.Status == "paused" {
		title = "Nova mensagem em atendimento pausado"
		body = fmt.Sprintf("Cliente %s enviou uma mensagem em atendimento PAUSADO no Setor %s.", contactName, sector)
	}
	return domain.Notification{
		Kind:    domain.KindImmediate,
		Title:   title,
		Body:    body,
		Sectors: []string{sector},
	}
}

func (p *Poller) alreadyNotified(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.notified[id]
	return ok
}

func (p *Poller) markNotified(id int64) {
	p.mu.Lock()
	p.notified[id] = struct{}{}
	p.mu.Unlock()
}
