package history

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"genai_studio/identity"
)

type switchUsers struct {
	mu  sync.Mutex
	cur *identity.User
}

func (s *switchUsers) Current() (identity.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return identity.User{}, false
	}
	return *s.cur, true
}

func (s *switchUsers) set(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.cur = nil
		return
	}
	s.cur = &identity.User{ID: id}
}

type fakeFetcher struct {
	mu        sync.Mutex
	byUser    map[string][]Item
	users     *switchUsers
	deleteErr error
	deleted   []string
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeFetcher) History(context.Context) ([]Item, error) {
	u, ok := f.users.Current()
	if !ok {
		return nil, identity.ErrNotSignedIn
	}
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.byUser[u.ID]...), nil
}

func (f *fakeFetcher) DeleteHistory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	u, _ := f.users.Current()
	var kept []Item
	for _, it := range f.byUser[u.ID] {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	f.byUser[u.ID] = kept
	return nil
}

func ids(items []Item) string {
	s := ""
	for i, it := range items {
		if i > 0 {
			s += ","
		}
		s += it.ID
	}
	return s
}

func setup(t *testing.T) (*Store, *fakeFetcher, *switchUsers) {
	t.Helper()
	users := &switchUsers{}
	f := &fakeFetcher{
		users: users,
		byUser: map[string][]Item{
			"alice": {{ID: "a1", Topic: "Go"}, {ID: "a2", Topic: "Rust"}},
			"bob":   {{ID: "b1", Topic: "Zig"}},
		},
	}
	return NewStore(f, NewMemoryCache(), users, nil), f, users
}

func TestListIsolatesUsers(t *testing.T) {
	s, _, users := setup(t)
	ctx := context.Background()

	users.set("alice")
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	items, ok := s.List(ctx)
	s.Wait()
	if !ok || ids(items) != "a1,a2" {
		t.Fatalf("alice items = %q %v", ids(items), ok)
	}

	users.set("bob")
	items, ok = s.List(ctx)
	if ok || items != nil {
		t.Fatalf("bob saw cached items %q", ids(items))
	}
	s.Wait()
	items, ok = s.List(ctx)
	s.Wait()
	if !ok || ids(items) != "b1" {
		t.Fatalf("bob items = %q %v", ids(items), ok)
	}

	users.set("")
	if items, ok := s.List(ctx); ok || items != nil {
		t.Fatalf("signed out user saw %q", ids(items))
	}
}

func TestListServesStaleThenRevalidates(t *testing.T) {
	s, f, users := setup(t)
	ctx := context.Background()
	users.set("alice")
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	f.mu.Lock()
	f.byUser["alice"] = append([]Item{{ID: "a0", Topic: "New"}}, f.byUser["alice"]...)
	f.mu.Unlock()

	var mu sync.Mutex
	var pushed []string
	cancel := s.Subscribe(func(uid string, items []Item) {
		mu.Lock()
		pushed = append(pushed, uid+":"+ids(items))
		mu.Unlock()
	})
	defer cancel()

	items, ok := s.List(ctx)
	if !ok || ids(items) != "a1,a2" {
		t.Fatalf("stale items = %q", ids(items))
	}
	s.Wait()
	mu.Lock()
	got := append([]string(nil), pushed...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "alice:a0,a1,a2" {
		t.Fatalf("pushed = %v", got)
	}
}

func TestDeleteIsOptimisticAndRefetchesOnFailure(t *testing.T) {
	s, f, users := setup(t)
	ctx := context.Background()
	users.set("alice")
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var pushed []string
	cancel := s.Subscribe(func(_ string, items []Item) { pushed = append(pushed, ids(items)) })
	defer cancel()

	f.deleteErr = errors.New("403 not authorized")
	if err := s.Delete(ctx, "a1"); err == nil {
		t.Fatalf("Delete succeeded")
	}
	if len(pushed) != 2 || pushed[0] != "a2" || pushed[1] != "a1,a2" {
		t.Fatalf("pushed = %v", pushed)
	}
	items, _, _ := s.cache.Get(ctx, "alice")
	if ids(items) != "a1,a2" {
		t.Fatalf("cache after failed delete = %q", ids(items))
	}

	f.deleteErr = nil
	pushed = nil
	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	items, _, _ = s.cache.Get(ctx, "alice")
	if ids(items) != "a2" || len(pushed) != 1 {
		t.Fatalf("cache = %q pushed = %v", ids(items), pushed)
	}
}

func TestDeleteOnColdCacheCachesNothing(t *testing.T) {
	s, f, users := setup(t)
	ctx := context.Background()
	users.set("alice")

	var pushed int
	cancel := s.Subscribe(func(string, []Item) { pushed++ })
	defer cancel()

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.deleted) != 1 || f.deleted[0] != "a1" {
		t.Fatalf("deleted = %v", f.deleted)
	}
	if _, ok, _ := s.cache.Get(ctx, "alice"); ok {
		t.Fatalf("delete on a cold cache stored a list")
	}
	if pushed != 0 {
		t.Fatalf("subscribers notified %d times", pushed)
	}
	items, err := s.Refresh(ctx)
	if err != nil || ids(items) != "a2" {
		t.Fatalf("Refresh = %q, %v", ids(items), err)
	}
}

func TestRefreshForPreviousUserIsDropped(t *testing.T) {
	s, f, users := setup(t)
	ctx := context.Background()
	users.set("alice")
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Refresh(ctx)
	}()
	<-f.entered
	users.set("bob")
	close(f.gate)
	<-done

	if _, ok, _ := s.cache.Get(ctx, "alice"); ok {
		t.Fatalf("refresh for a signed-out user was cached")
	}
	if _, ok, _ := s.cache.Get(ctx, "bob"); ok {
		t.Fatalf("bob cache written by alice refresh")
	}
}

func TestForgetDropsCache(t *testing.T) {
	s, _, users := setup(t)
	ctx := context.Background()
	users.set("alice")
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s.Forget("alice")
	if _, ok, _ := s.cache.Get(ctx, "alice"); ok {
		t.Fatalf("cache survived Forget")
	}
}

func TestRedisCacheKey(t *testing.T) {
	c, err := NewRedisCache("redis://localhost:6379/0", "", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer c.Close()
	if got := c.key("u1"); got != "studio:history:u1" {
		t.Fatalf("key = %q", got)
	}
	if _, err := NewRedisCache("://bad", "p", time.Minute); err == nil {
		t.Fatalf("bad url accepted")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("STUDIO_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STUDIO_TEST_REDIS_URL not set")
	}
	c, err := NewRedisCache(url, "studio-test", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Set(ctx, "u1", []Item{{ID: "x", Topic: "t"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	items, ok, err := c.Get(ctx, "u1")
	if err != nil || !ok || ids(items) != "x" {
		t.Fatalf("Get = %v %v %v", items, ok, err)
	}
	if err := c.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "u1"); ok {
		t.Fatalf("Get after Delete hit")
	}
}
