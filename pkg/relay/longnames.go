// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const longNameSchema = `
CREATE TABLE IF NOT EXISTS longnames (
	meshtastic_id TEXT PRIMARY KEY,
	longname      TEXT
)`

// LongNameStore maps mesh user IDs to long names in SQLite.
type LongNameStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenLongNameStore opens (and creates if needed) the node database at path.
func OpenLongNameStore(ctx context.Context, path string, log zerolog.Logger) (*LongNameStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open node db: %w", err)
	}
	if _, err := db.ExecContext(ctx, longNameSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init node db schema: %w", err)
	}
	return &LongNameStore{
		db:  db,
		log: log.With().Str("component", "longnames").Logger(),
	}, nil
}

// LongName implements plugin.LongNameDirectory. Lookup errors are logged and
// reported as not found.
func (s *LongNameStore) LongName(ctx context.Context, senderID string) (string, bool) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT longname FROM longnames WHERE meshtastic_id = ?`, senderID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	} else if err != nil {
		s.log.Warn().Err(err).Str("sender_id", senderID).Msg("Failed to look up long name")
		return "", false
	}
	if !name.Valid || name.String == "" {
		return "", false
	}
	return name.String, true
}

// SaveLongName records the long name announced by a node.
func (s *LongNameStore) SaveLongName(ctx context.Context, senderID, longName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO longnames (meshtastic_id, longname) VALUES (?, ?)
		ON CONFLICT(meshtastic_id) DO UPDATE SET longname = excluded.longname
	`, senderID, longName)
	if err != nil {
		return fmt.Errorf("save long name for %s: %w", senderID, err)
	}
	return nil
}

func (s *LongNameStore) Close() error {
	return s.db.Close()
}
