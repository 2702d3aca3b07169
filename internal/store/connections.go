package store

import (
	"context"
	"database/sql"
	"time"
)

// Connection is one open row of the connection history.
type Connection struct {
	User        string    `json:"usuario"`
	Machine     string    `json:"maquina"`
	ConnectedAt time.Time `json:"data_conexao"`
}

// UpsertConnection opens (or re-opens) the connection-history row for a
// user: the machine and connect instant are refreshed and any previous
// disconnect stamp is cleared.
func (s *Store) UpsertConnection(ctx context.Context, user, machine string) error {
	return s.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conexoes (usuario, maquina, data_conexao, data_desconexao)
			VALUES (?, ?, ?, NULL)
			ON CONFLICT(usuario) DO UPDATE SET
				maquina = excluded.maquina,
				data_conexao = excluded.data_conexao,
				data_desconexao = NULL
		`, user, machine, formatTime(time.Now()))
		return err
	})
}

// CloseConnection stamps the disconnect instant on the user's history row.
func (s *Store) CloseConnection(ctx context.Context, user string) error {
	return s.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conexoes SET data_desconexao = ? WHERE usuario = ?
		`, formatTime(time.Now()), user)
		return err
	})
}

// ActiveConnections returns the history rows without a disconnect stamp.
func (s *Store) ActiveConnections(ctx context.Context) ([]Connection, error) {
	var out []Connection
	err := s.do(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT usuario, maquina, data_conexao
			FROM conexoes
			WHERE data_desconexao IS NULL
			ORDER BY usuario
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var (
				c           Connection
				connectedAt sql.NullString
			)
			if err := rows.Scan(&c.User, &c.Machine, &connectedAt); err != nil {
				return err
			}
			if connectedAt.Valid {
				if t, err := parseTime(connectedAt.String); err == nil {
					c.ConnectedAt = t
				}
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}
