// Package history keeps the signed-in user's past generations close at hand:
// cached lists are served at once and revalidated in the background.
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"genai_studio/identity"
	"genai_studio/logger"
	"genai_studio/metrics"
)

// Limit is how many items the backend returns, newest first.
const Limit = 20

// Item is one past generation.
type Item struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	ContentType string    `json:"content_type"`
	Answer      string    `json:"answer"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fetcher is the remote side of the store.
type Fetcher interface {
	History(ctx context.Context) ([]Item, error)
	DeleteHistory(ctx context.Context, id string) error
}

// UserSource reports the signed-in user.
type UserSource interface {
	Current() (identity.User, bool)
}

// Store serves per-user history with stale-while-revalidate semantics.
type Store struct {
	fetcher Fetcher
	cache   Cache
	users   UserSource
	log     *logger.Logger

	// mu orders writes to the cache. ticket grows with every fetch start and
	// every local write; applied is the ticket of the last write that landed.
	mu      sync.Mutex
	ticket  uint64
	applied uint64

	subMu  sync.Mutex
	subs   map[int]func(userID string, items []Item)
	nextID int

	wg sync.WaitGroup
}

func NewStore(fetcher Fetcher, cache Cache, users UserSource, log *logger.Logger) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Store{
		fetcher: fetcher,
		cache:   cache,
		users:   users,
		log:     logger.OrNop(log).Named("history"),
		subs:    make(map[int]func(string, []Item)),
	}
}

// List returns the cached items of the current user, if any, and starts a
// background refresh whose result reaches subscribers.
func (s *Store) List(ctx context.Context) ([]Item, bool) {
	u, ok := s.users.Current()
	if !ok {
		return nil, false
	}
	items, hit, err := s.cache.Get(ctx, u.ID)
	if err != nil {
		s.log.Warn("read cache", zap.String("user_id", u.ID), zap.Error(err))
		hit = false
	}
	metrics.RecordCacheLookup(hit)

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Refresh(bg); err != nil {
			s.log.Debug("background refresh", zap.Error(err))
		}
	}()
	if !hit {
		return nil, false
	}
	return items, true
}

// Wait blocks until background refreshes started by List have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Refresh fetches the authoritative list and replaces the cache with it.
// The result is dropped when the user changed or a newer write landed first.
func (s *Store) Refresh(ctx context.Context) ([]Item, error) {
	u, ok := s.users.Current()
	if !ok {
		return nil, identity.ErrNotSignedIn
	}
	s.mu.Lock()
	s.ticket++
	t := s.ticket
	s.mu.Unlock()

	items, err := s.fetcher.History(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}

	s.mu.Lock()
	if cur, ok := s.users.Current(); !ok || cur.ID != u.ID {
		s.mu.Unlock()
		s.log.Debug("drop refresh for previous user", zap.String("user_id", u.ID))
		return items, nil
	}
	if t < s.applied {
		s.mu.Unlock()
		s.log.Debug("drop stale refresh", zap.Uint64("ticket", t), zap.Uint64("applied", s.applied))
		return items, nil
	}
	if err := s.cache.Set(ctx, u.ID, items); err != nil {
		s.mu.Unlock()
		return items, err
	}
	s.applied = t
	s.mu.Unlock()

	s.notify(u.ID, items)
	return items, nil
}

// Delete removes id from the cached list at once, then asks the backend.
// Nothing is cached when no list was cached before. When the backend
// refuses, the list is refetched and the delete error returned.
func (s *Store) Delete(ctx context.Context, id string) error {
	u, ok := s.users.Current()
	if !ok {
		return identity.ErrNotSignedIn
	}

	s.mu.Lock()
	items, hit, err := s.cache.Get(ctx, u.ID)
	if err != nil {
		s.log.Warn("read cache", zap.String("user_id", u.ID), zap.Error(err))
	}
	s.ticket++
	s.applied = s.ticket
	var kept []Item
	if hit {
		kept = make([]Item, 0, len(items))
		for _, it := range items {
			if it.ID != id {
				kept = append(kept, it)
			}
		}
		if err := s.cache.Set(ctx, u.ID, kept); err != nil {
			s.log.Warn("write cache", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	s.mu.Unlock()
	// A cold cache has no list on screen to change.
	if hit {
		s.notify(u.ID, kept)
	}

	if err := s.fetcher.DeleteHistory(ctx, id); err != nil {
		s.log.Warn("delete failed, refetching", zap.String("id", id), zap.Error(err))
		if _, rerr := s.Refresh(ctx); rerr != nil {
			s.log.Warn("refetch after failed delete", zap.Error(rerr))
		}
		return err
	}
	return nil
}

// Forget drops a user's cached list. Wire it to sign-out.
func (s *Store) Forget(userID string) {
	s.mu.Lock()
	s.ticket++
	s.applied = s.ticket
	err := s.cache.Delete(context.Background(), userID)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("forget user", zap.String("user_id", userID), zap.Error(err))
	}
}

// Subscribe registers fn for every list that lands in the cache.
func (s *Store) Subscribe(fn func(userID string, items []Item)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(userID string, items []Item) {
	s.subMu.Lock()
	fns := make([]func(string, []Item), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(userID, cloneItems(items))
	}
}
