package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUProvider is an in-process Provider with a bounded size. The provider TTL
// is both the default and the ceiling; a shorter per-call ttl is honoured
// per entry.
type LRUProvider struct {
	lru *expirable.LRU[string, lruEntry]
	ttl time.Duration
	now func() time.Time
}

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUProvider builds a provider holding at most size entries for at most
// ttl each.
func NewLRUProvider(size int, ttl time.Duration) *LRUProvider {
	if size <= 0 {
		size = 1024
	}
	return &LRUProvider{
		lru: expirable.NewLRU[string, lruEntry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := p.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !p.now().Before(e.expiresAt) {
		p.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value. ttl <= 0 uses the provider TTL.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 && (p.ttl <= 0 || ttl < p.ttl) {
		e.expiresAt = p.now().Add(ttl)
	}
	p.lru.Add(key, e)
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.lru.Remove(key)
	return nil
}

// Close purges all entries.
func (p *LRUProvider) Close() error {
	p.lru.Purge()
	return nil
}

// Len reports the number of entries held, including ones past a per-call ttl
// that have not been read since.
func (p *LRUProvider) Len() int {
	return p.lru.Len()
}
