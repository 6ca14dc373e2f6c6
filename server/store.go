package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genai_studio/history"
)

var (
	errNotFound  = errors.New("history item not found")
	errForbidden = errors.New("history item belongs to another user")
)

type record struct {
	owner string
	item  history.Item
}

// historyStore keeps every generation the stand-in served, keyed by id.
type historyStore struct {
	mu    sync.Mutex
	items map[string]record
	now   func() time.Time
}

func newStore() *historyStore {
	return &historyStore{items: make(map[string]record), now: time.Now}
}

func (s *historyStore) add(owner string, item history.Item) history.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = uuid.NewString()
	item.CreatedAt = s.now().UTC()
	s.items[item.ID] = record{owner: owner, item: item}
	return item
}

// list returns owner's items newest first, at most limit of them.
func (s *historyStore) list(owner string, limit int) []history.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []history.Item{}
	for _, rec := range s.items {
		if rec.owner == owner {
			out = append(out, rec.item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *historyStore) remove(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[id]
	if !ok {
		return errNotFound
	}
	if rec.owner != owner {
		return errForbidden
	}
	delete(s.items, id)
	return nil
}
