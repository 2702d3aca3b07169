package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contalink/bandeja/internal/domain"
)

const notificationColumns = `id, tipo, titulo, mensagem, link, icone, usuario, setores,
	agendada_para, ativo, repete, intervalo, repeticoes_enviadas, ultima_execucao, created_at`

// ListEligible returns the active records carrying a complete recurrence
// configuration, the set the scheduler evaluates each tick.
func (s *Store) ListEligible(ctx context.Context) ([]domain.Notification, error) {
	var out []domain.Notification
	err := s.do(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+notificationColumns+`
			FROM notificacoes
			WHERE ativo = 1
			  AND tipo IN ('agendada', 'fixa', 'imediata')
			  AND agendada_para IS NOT NULL
			  AND repete IS NOT NULL
			  AND intervalo IS NOT NULL
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateRepeatState conditionally persists the post-fire repeat state. The
// write only applies while repeticoes_enviadas still holds expectedSent;
// otherwise the record was edited concurrently and domain.ErrConcurrentEdit
// is returned.
func (s *Store) UpdateRepeatState(ctx context.Context, id int64, expectedSent, newSent int, lastFiredAt *time.Time, active bool) error {
	return s.do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE notificacoes
			SET repeticoes_enviadas = ?, ultima_execucao = ?, ativo = ?
			WHERE id = ? AND repeticoes_enviadas = ?
		`, newSent, formatTimePtr(lastFiredAt), boolToInt(active), id, expectedSent)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("notification %d: %w", id, domain.ErrConcurrentEdit)
		}
		return nil
	})
}

// Create inserts a new record (active, zero repeats sent) and returns it
// with its assigned id.
func (s *Store) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	sectors, err := json.Marshal(emptyIfNil(n.Sectors))
	if err != nil {
		return domain.Notification{}, err
	}

	var id int64
	err = s.do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO notificacoes
				(tipo, titulo, mensagem, link, icone, usuario, setores,
				 agendada_para, ativo, repete, intervalo, repeticoes_enviadas, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, 0, ?)
		`, string(n.Kind), n.Title, n.Body, nullStr(n.Link), nullStr(n.Icon), nullStr(n.User),
			string(sectors), formatTimePtr(n.ScheduledAt), nullInt(n.MaxRepeats),
			nullInt(n.IntervalMinutes), formatTime(time.Now()))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return s.Get(ctx, id)
}

// Get returns one record by id, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (domain.Notification, error) {
	var n domain.Notification
	err := s.do(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+notificationColumns+` FROM notificacoes WHERE id = ?
		`, id)
		var err error
		n, err = scanNotification(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
		}
		return err
	})
	return n, err
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Notification, error) {
	var out []domain.Notification
	err := s.do(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+notificationColumns+` FROM notificacoes ORDER BY created_at DESC, id DESC
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// Update overwrites the editable fields of an existing record.
func (s *Store) Update(ctx context.Context, n domain.Notification) error {
	sectors, err := json.Marshal(emptyIfNil(n.Sectors))
	if err != nil {
		return err
	}
	return s.do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE notificacoes
			SET tipo = ?, titulo = ?, mensagem = ?, link = ?, icone = ?, usuario = ?,
			    setores = ?, agendada_para = ?, ativo = ?, repete = ?, intervalo = ?,
			    repeticoes_enviadas = ?, ultima_execucao = ?
			WHERE id = ?
		`, string(n.Kind), n.Title, n.Body, nullStr(n.Link), nullStr(n.Icon), nullStr(n.User),
			string(sectors), formatTimePtr(n.ScheduledAt), boolToInt(n.Active),
			nullInt(n.MaxRepeats), nullInt(n.IntervalMinutes), n.RepeatsSent,
			formatTimePtr(n.LastFiredAt), n.ID)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("notification %d: %w", n.ID, domain.ErrNotFound)
		}
		return nil
	})
}

// Delete removes a record by id, or returns domain.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM notificacoes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// Stats summarizes the notification table for the dashboard.
type Stats struct {
	Total    int                   `json:"total"`
	Active   int                   `json:"ativas"`
	Inactive int                   `json:"inativas"`
	ByKind   map[string]int        `json:"porTipo"`
	BySector map[string]int        `json:"porSetor"`
	Recent   []domain.Notification `json:"recentes"`
}

// GetStats computes dashboard statistics: totals, per-kind and per-sector
// counts (broadcast records count under "Todos"), and the five most recent
// records.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByKind: map[string]int{
			string(domain.KindImmediate):  0,
			string(domain.KindScheduled):  0,
			string(domain.KindFixedDaily): 0,
		},
		BySector: map[string]int{},
	}

	all, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats.Total = len(all)
	for _, n := range all {
		if n.Active {
			stats.Active++
		}
		stats.ByKind[string(n.Kind)]++
		if len(n.Sectors) == 0 {
			stats.BySector["Todos"]++
			continue
		}
		for _, sector := range n.Sectors {
			stats.BySector[sector]++
		}
	}
	stats.Inactive = stats.Total - stats.Active
	stats.Recent = all[:min(5, len(all))]
	return stats, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var (
		n                          domain.Notification
		kind                       string
		link, icon, user, sectors  sql.NullString
		scheduledAt, lastFired     sql.NullString
		createdAt                  sql.NullString
		active                     int
		maxRepeats, intervalMin    sql.NullInt64
	)

	err := row.Scan(&n.ID, &kind, &n.Title, &n.Body, &link, &icon, &user, &sectors,
		&scheduledAt, &active, &maxRepeats, &intervalMin, &n.RepeatsSent, &lastFired, &createdAt)
	if err != nil {
		return domain.Notification{}, err
	}

	n.Kind = domain.Kind(kind)
	n.Link = link.String
	n.Icon = icon.String
	n.User = user.String
	n.Active = active != 0
	n.Sectors = parseSectors(sectors.String)

	if maxRepeats.Valid {
		v := int(maxRepeats.Int64)
		n.MaxRepeats = &v
	}
	if intervalMin.Valid {
		v := int(intervalMin.Int64)
		n.IntervalMinutes = &v
	}
	if scheduledAt.Valid {
		t, err := parseTime(scheduledAt.String)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("notification %d: bad agendada_para: %w", n.ID, err)
		}
		n.ScheduledAt = &t
	}
	if lastFired.Valid {
		t, err := parseTime(lastFired.String)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("notification %d: bad ultima_execucao: %w", n.ID, err)
		}
		n.LastFiredAt = &t
	}
	if createdAt.Valid {
		if t, err := parseTime(createdAt.String); err == nil {
			n.CreatedAt = t
		}
	}
	return n, nil
}

// parseSectors tolerates the shapes the column has held over time: a JSON
// array, a bare sector name, or nothing.
func parseSectors(raw string) []string {
	if raw == "" {
		return nil
	}
	if raw[0] == '[' {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return []string{raw}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
