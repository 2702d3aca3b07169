// Package store persists notification records and connection history in
// SQLite. Every call goes through a bounded-retry policy so a transient lock
// never stalls the scheduler loop.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// timeFormat is how instants are stored, in server-local time. Local storage
// keeps the fixed-daily day-rollover aligned with the office calendar.
const timeFormat = "2006-01-02 15:04:05"

// Store wraps the SQLite database.
type Store struct {
	db    *sql.DB
	log   zerolog.Logger
	retry RetryPolicy
}

// Open opens (creating if needed) the database at path.
func Open(path string, log zerolog.Logger, retry RetryPolicy) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:    db,
		log:   log.With().Str("component", "store").Logger(),
		retry: retry.withDefaults(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notificacoes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tipo TEXT NOT NULL,
		titulo TEXT NOT NULL DEFAULT '',
		mensagem TEXT NOT NULL,
		link TEXT,
		icone TEXT,
		usuario TEXT,
		setores TEXT NOT NULL DEFAULT '[]',
		agendada_para DATETIME,
		ativo INTEGER NOT NULL DEFAULT 1,
		repete INTEGER,
		intervalo INTEGER,
		repeticoes_enviadas INTEGER NOT NULL DEFAULT 0,
		ultima_execucao DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notificacoes_ativo ON notificacoes(ativo, tipo);

	CREATE TABLE IF NOT EXISTS conexoes (
		usuario TEXT PRIMARY KEY,
		maquina TEXT NOT NULL,
		data_conexao DATETIME NOT NULL,
		data_desconexao DATETIME
	);
	`
	_, err := db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.In(time.Local).Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeFormat, s, time.Local)
}
