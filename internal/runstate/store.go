// Package runstate tracks the live progress of import runs so that
// operators on the non-streaming path can poll a run by id. State
// lives in Redis with a TTL scoped to the run, never in a shared
// global; when Redis is unavailable the store degrades to an
// in-process map.
package runstate

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// State is the polled view of one import run.
type State struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Total        int       `json:"total"`
	Processed    int       `json:"processed"`
	Percent      float64   `json:"percent"`
	SuccessCount int       `json:"success"`
	ErrorCount   int       `json:"error"`
	Message      string    `json:"message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const stateTTL = 24 * time.Hour

// Store persists run states. A nil Redis client switches it to the
// in-memory fallback.
type Store struct {
	rdb *redis.Client

	mu  sync.Mutex
	mem map[string]State
}

// NewStore returns a Store over the given Redis client (may be nil).
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, mem: make(map[string]State)}
}

func key(id string) string { return "imports:run:" + id }

// Save upserts a run state. Persistence errors are logged, never
// surfaced: losing a progress snapshot must not fail the import.
func (s *Store) Save(ctx context.Context, st State) {
	st.UpdatedAt = time.Now().UTC()
	if s.rdb == nil {
		s.mu.Lock()
		s.mem[st.ID] = st
		s.mu.Unlock()
		return
	}
	body, err := json.Marshal(st)
	if err != nil {
		log.Printf("runstate: marshal failed for run %s: %v", st.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.rdb.Set(ctx, key(st.ID), body, stateTTL).Err(); err != nil {
		log.Printf("runstate: save failed for run %s: %v", st.ID, err)
	}
}

// Get fetches a run state by id.
func (s *Store) Get(ctx context.Context, id string) (State, bool) {
	if s.rdb == nil {
		s.mu.Lock()
		st, ok := s.mem[id]
		s.mu.Unlock()
		return st, ok
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	body, err := s.rdb.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return State{}, false
	}
	if err != nil {
		log.Printf("runstate: get failed for run %s: %v", id, err)
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(body, &st); err != nil {
		log.Printf("runstate: unmarshal failed for run %s: %v", id, err)
		return State{}, false
	}
	return st, true
}
