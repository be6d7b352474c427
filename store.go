package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists one serialized state blob per room id in sqlite and caches
// the decoded state in memory. Loads are memoized as a single in-flight
// operation per room, so two messages racing at cold start share one read
// instead of each initializing default state.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	loads map[string]*stateLoad
}

type stateLoad struct {
	once  sync.Once
	state *RoomState
	err   error
}

func openStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writers anyway, and a single pooled connection
	// keeps :memory: databases coherent across callers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS room_state (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{
		db:    db,
		loads: make(map[string]*stateLoad),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// State returns the cached state for a room, loading it from sqlite on
// first access. Concurrent callers share the same load.
func (s *Store) State(roomID string) (*RoomState, error) {
	s.mu.Lock()
	entry, ok := s.loads[roomID]
	if !ok {
		entry = &stateLoad{}
		s.loads[roomID] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		entry.state, entry.err = s.load(roomID)
	})

	if entry.err != nil {
		// Allow a later retry rather than pinning the failure forever.
		s.mu.Lock()
		if s.loads[roomID] == entry {
			delete(s.loads, roomID)
		}
		s.mu.Unlock()
	}

	return entry.state, entry.err
}

func (s *Store) load(roomID string) (*RoomState, error) {
	now := time.Now()

	var blob string
	err := s.db.QueryRow(`SELECT state FROM room_state WHERE id = $1`, roomID).Scan(&blob)
	if err == sql.ErrNoRows {
		return newRoomState(now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	st := &RoomState{}
	if err := json.Unmarshal([]byte(blob), st); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", roomID, err)
	}
	st.normalize(now)

	return st, nil
}

// Save writes the full blob through to sqlite. Called after every mutation;
// there is no batching.
func (s *Store) Save(roomID string, st *RoomState) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", roomID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO room_state (id, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, roomID, string(blob), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", roomID, err)
	}

	return nil
}

// Delete wipes a room's durable blob and drops the cached state.
func (s *Store) Delete(roomID string) error {
	s.Evict(roomID)

	_, err := s.db.Exec(`DELETE FROM room_state WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}

	return nil
}

// Evict drops the cached state so the next access re-reads the blob.
func (s *Store) Evict(roomID string) {
	s.mu.Lock()
	delete(s.loads, roomID)
	s.mu.Unlock()
}

func (s *Store) Exists(roomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM room_state WHERE id = $1)`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check room %s: %w", roomID, err)
	}
	return exists, nil
}
