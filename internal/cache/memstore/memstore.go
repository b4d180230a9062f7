// Package memstore is an in-process, size-bounded response cache.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
)

type entry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

type Store struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	now func() time.Time
}

func New(size int) *Store {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, entry](size)
	return &Store{lru: c, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
		return nil, false, err
	}
	s.mu.Lock()
	e, ok := s.lru.Get(key)
	if ok && !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.lru.Remove(key)
		ok = false
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
	if !ok {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return err
	}
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.lru.Add(key, e)
	s.mu.Unlock()
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}

// DelPrefix removes every key starting with prefix and returns how many.
func (s *Store) DelPrefix(ctx context.Context, prefix string) (int, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("del_prefix", err, time.Since(start).Seconds())
		return 0, err
	}
	s.mu.Lock()
	n := 0
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.lru.Remove(k)
			n++
		}
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("del_prefix", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
