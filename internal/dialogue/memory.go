package dialogue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"paideia/internal/logging"

	"go.uber.org/zap"
)

// MemoryStore is the per-identity durable memory: short summaries appended
// after each turn, recalled by later turns of the same run and - for
// persistence experiments - by later runs sharing the same synthetic
// learner identity. It is the only resource mutated by more than one job,
// so appends are serialized per identity.
type MemoryStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenMemoryStore opens (creating if needed) the sqlite-backed store.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_identity ON memories(identity);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate memory store: %w", err)
	}
	return &MemoryStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database.
func (m *MemoryStore) Close() error { return m.db.Close() }

func (m *MemoryStore) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	return l
}

// Append records one durable summary for an identity. Appends to the same
// identity never interleave.
func (m *MemoryStore) Append(identity, summary string) error {
	l := m.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	_, err := m.db.Exec(
		`INSERT INTO memories (identity, summary, created_at) VALUES (?, ?, ?)`,
		identity, summary, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append memory: %w", err)
	}
	logging.L(logging.CategoryMemory).Debug("memory appended",
		zap.String("identity", identity))
	return nil
}

// Recall returns all summaries for an identity in append order.
func (m *MemoryStore) Recall(identity string) ([]string, error) {
	rows, err := m.db.Query(
		`SELECT summary FROM memories WHERE identity = ? ORDER BY id ASC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recall memories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
