package agent

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Errors returned by the Store.
var (
	ErrDuplicateID   = errors.New("agent id already registered")
	ErrNotFound      = errors.New("agent not found")
	ErrInvalidID     = errors.New("agent id is required")
	ErrInvalidPolicy = errors.New("policy limits must be non-negative")
)

// Store is the in-memory agent directory. It hands out copies only, so
// callers cannot mutate stored agents without going through Update.
//
// The mutex protects the map itself. Read-modify-write sequences that must
// not interleave (wallet mutations, policy merges) are serialized by the
// ledger journal, which is the only writer of wallets.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	now    func() time.Time
}

// NewStore creates an empty agent store.
func NewStore() *Store {
	return &Store{
		agents: make(map[string]*Agent),
		now:    time.Now,
	}
}

// Register adds a new agent. It fails if the ID is empty or already taken.
func (s *Store) Register(a *Agent) (*Agent, error) {
	if strings.TrimSpace(a.ID) == "" {
		return nil, ErrInvalidID
	}
	if err := a.Wallet.Validate(); err != nil {
		return nil, err
	}
	if err := a.Policy.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; ok {
		return nil, fmt.Errorf("registering agent %s: %w", a.ID, ErrDuplicateID)
	}

	stored := a.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	s.agents[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the agent with the given id.
func (s *Store) Get(id string) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Exists reports whether an agent with the given id is registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok
}

// Update replaces the stored agent wholesale.
func (s *Store) Update(a *Agent) (*Agent, error) {
	if err := a.Wallet.Validate(); err != nil {
		return nil, err
	}
	if err := a.Policy.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; !ok {
		return nil, fmt.Errorf("updating agent %s: %w", a.ID, ErrNotFound)
	}
	stored := a.Clone()
	s.agents[a.ID] = stored
	return stored.Clone(), nil
}

// Remove deletes the agent and reports whether it existed. Ledger history
// referencing the agent is left untouched.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	return true
}

// List returns a snapshot of all agents ordered by created_at, id.
func (s *Store) List() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// ListPage returns a page of agents ordered by created_at, id using
// cursor-based pagination. It returns the agents, the next cursor (empty if
// no more results), and any error.
func (s *Store) ListPage(params AgentListParams) ([]*Agent, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	all := s.sortedLocked()
	s.mu.RUnlock()

	start := 0
	if params.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		start = len(all)
		for i, a := range all {
			if a.CreatedAt.After(cursorTime) || (a.CreatedAt.Equal(cursorTime) && a.ID > cursorID) {
				start = i
				break
			}
		}
	}

	page := all[start:]
	var nextCursor string
	if len(page) > limit {
		last := page[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		page = page[:limit]
	}
	return page, nextCursor, nil
}

// Count returns the number of registered agents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Clear removes every agent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[string]*Agent)
}

// sortedLocked returns clones of all agents. Must be called with s.mu held.
func (s *Store) sortedLocked() []*Agent {
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b *Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// encodeCursor produces a base64 string from a created_at timestamp and id.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64 cursor back into its created_at and id parts.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor base64: %w", err)
	}

	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor time: %w", err)
	}

	return t, parts[1], nil
}
