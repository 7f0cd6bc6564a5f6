package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Config bounds the store. The zero value is unbounded with no expiry.
type Config struct {
	// MaxEntries caps the number of remembered ids; the least recently
	// seen id is forgotten first. Zero means unlimited.
	MaxEntries int
	// TTL forgets an id this long after it was last seen. Zero means never.
	TTL time.Duration
}

// Bounded reports whether ids can ever be forgotten
func (c Config) Bounded() bool {
	return c.MaxEntries > 0 || c.TTL > 0
}

type entry struct {
	id      string
	expires time.Time
}

// Store remembers event ids that have already been seen.
// It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]*list.Element
	order *list.List // most recently seen at front
	now   func() time.Time
}

// New creates an unbounded store
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a store with optional capacity and TTL bounds
func NewWithConfig(cfg Config) *Store {
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	return &Store{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// IsNew reports whether id has not been seen before and records it.
// The check and the insert happen under one lock, so concurrent callers
// never both get true for the same id.
func (s *Store) IsNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.items[id]; ok {
		e := el.Value.(*entry)
		if s.cfg.TTL == 0 || now.Before(e.expires) {
			s.touch(el, now)
			return false
		}
		s.remove(el)
	}

	el := s.order.PushFront(&entry{id: id, expires: s.expiry(now)})
	s.items[id] = el
	s.evict(now)
	return true
}

// Len returns the number of remembered ids
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Config returns the bounds the store was created with
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) expiry(now time.Time) time.Time {
	if s.cfg.TTL == 0 {
		return time.Time{}
	}
	return now.Add(s.cfg.TTL)
}

func (s *Store) touch(el *list.Element, now time.Time) {
	if !s.cfg.Bounded() {
		return
	}
	el.Value.(*entry).expires = s.expiry(now)
	s.order.MoveToFront(el)
}

func (s *Store) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*entry).id)
}

// evict drops entries over capacity, then expired entries from the tail.
func (s *Store) evict(now time.Time) {
	if s.cfg.MaxEntries > 0 {
		for s.order.Len() > s.cfg.MaxEntries {
			s.remove(s.order.Back())
		}
	}
	if s.cfg.TTL > 0 {
		for tail := s.order.Back(); tail != nil; tail = s.order.Back() {
			if now.Before(tail.Value.(*entry).expires) {
				break
			}
			s.remove(tail)
		}
	}
}
