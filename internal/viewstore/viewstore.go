// Package viewstore keeps the mounted map views of browser sessions. The
// store is bounded; the least recently used view is unmounted when full.
package viewstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/mapview"
)

var ErrNotFound = errors.New("map view not found")

// Builder creates an unmounted controller for a new session id.
type Builder func(id string) *mapview.Controller

type Store struct {
	views  *lru.Cache[string, *mapview.Controller]
	build  Builder
	logger *slog.Logger
}

func New(size int, build Builder, logger *slog.Logger) (*Store, error) {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{build: build, logger: logger}
	c, err := lru.NewWithEvict(size, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("view store: %w", err)
	}
	s.views = c
	return s, nil
}

func (s *Store) onEvict(id string, c *mapview.Controller) {
	if err := c.Unmount(); err != nil {
		s.logger.Warn("unmount evicted view", "session_id", id, "err", err)
		return
	}
	s.logger.Debug("view released", "session_id", id)
}

// Create mounts a new view and stores it under a fresh id.
func (s *Store) Create(ctx context.Context) (*mapview.Controller, error) {
	id := mylog.NewID()
	c := s.build(id)
	if err := c.Mount(ctx); err != nil {
		return nil, err
	}
	s.views.Add(id, c)
	return c, nil
}

func (s *Store) Get(id string) (*mapview.Controller, error) {
	c, ok := s.views.Get(id)
	if !ok {
		return nil, fmt.Errorf("view %q: %w", id, ErrNotFound)
	}
	return c, nil
}

// Delete unmounts and forgets a view.
func (s *Store) Delete(id string) error {
	if !s.views.Remove(id) {
		return fmt.Errorf("view %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) Len() int { return s.views.Len() }

// Close unmounts every view.
func (s *Store) Close() { s.views.Purge() }
