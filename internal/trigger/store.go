// Package trigger persists trigger definitions and fires their
// commands when a root's subscription-equivalent expression matches
// changed files. Persistence follows the teacher's SQLite store:
// modernc.org/sqlite in WAL mode with a single writer connection.
package trigger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Definition is one registered trigger (spec.md §4.5's trigger
// command): a name, the query expression deciding which changed files
// fire it, and the command line to run.
type Definition struct {
	Name       string
	Root       string
	Expression json.RawMessage
	Command    []string
	CreatedAt  time.Time
}

// Store persists Definitions in an embedded SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates dataDir/triggers.db and runs migrations.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "triggers.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening trigger store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating trigger store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS triggers (
		root TEXT NOT NULL,
		name TEXT NOT NULL,
		expression TEXT NOT NULL,
		command TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (root, name)
	)`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a trigger definition.
func (s *Store) Put(d Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, err := json.Marshal(d.Command)
	if err != nil {
		return fmt.Errorf("encoding trigger command: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO triggers (root, name, expression, command, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(root, name) DO UPDATE SET expression = excluded.expression, command = excluded.command`,
		d.Root, d.Name, string(d.Expression), string(cmd), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing trigger: %w", err)
	}
	return nil
}

// Delete removes a trigger, reporting whether it had existed.
func (s *Store) Delete(root, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM triggers WHERE root = ? AND name = ?`, root, name)
	if err != nil {
		return false, fmt.Errorf("deleting trigger: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// List returns every trigger registered for root.
func (s *Store) List(root string) ([]Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT root, name, expression, command, created_at FROM triggers WHERE root = ?`, root)
	if err != nil {
		return nil, fmt.Errorf("listing triggers: %w", err)
	}
	defer rows.Close()

	var out []Definition
	for rows.Next() {
		var d Definition
		var expr, cmd string
		if err := rows.Scan(&d.Root, &d.Name, &expr, &cmd, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning trigger: %w", err)
		}
		d.Expression = json.RawMessage(expr)
		if err := json.Unmarshal([]byte(cmd), &d.Command); err != nil {
			return nil, fmt.Errorf("decoding trigger command: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
