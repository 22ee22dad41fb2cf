package resilience

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateKey is the fixed identifier breaker state is persisted under.
const stateKey = "circuit_breaker_state"

// StateStore persists breaker state across process restarts. Load returns
// (nil, nil) when no state has been saved yet.
type StateStore interface {
	Load() (*BreakerState, error)
	Save(state *BreakerState) error
}

// FileStore keeps breaker state in a JSON file, written atomically via a
// temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*BreakerState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state BreakerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *FileStore) Save(state *BreakerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// SQLStore keeps breaker state as a JSON blob in the service database.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load() (*BreakerState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state FROM breaker_state WHERE key = ?`, stateKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state BreakerState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SQLStore) Save(state *BreakerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO breaker_state (key, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`
	_, err = s.db.Exec(query, stateKey, string(data), time.Now().Unix())
	return err
}

// MemoryStore is the in-memory store used in tests.
type MemoryStore struct {
	mu    sync.Mutex
	state *BreakerState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	// round-trip through JSON so callers never share our copy
	data, err := json.Marshal(s.state)
	if err != nil {
		return nil, err
	}
	var state BreakerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MemoryStore) Save(state *BreakerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var copied BreakerState
	if err := json.Unmarshal(data, &copied); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = &copied
	s.mu.Unlock()
	return nil
}
