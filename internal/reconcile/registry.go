// Package reconcile implements the payment reconciliation engine: it bridges
// the asynchronous, eventually-consistent Mercado Pago terminal with the
// kiosk's synchronous polling flow. The registry half caches payment
// confirmations arriving out-of-band via webhook so that a poll can resolve
// without a gateway round trip.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Entry is a confirmed payment recorded from a webhook/IPN event.
type Entry struct {
	PaymentID   int64     `json:"paymentId"`
	Amount      float64   `json:"amount"` // BRL, major units
	Status      string    `json:"status"` // approved | authorized
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// RefKey builds a reference-based reconciliation key. Preferred whenever the
// payment carries a usable external reference.
func RefKey(reference string) string {
	return "ref:" + reference
}

// AmountKey builds an amount-based reconciliation key, rounded to centavos.
// Used when the terminal dropped the reference.
func AmountKey(amount float64) string {
	return fmt.Sprintf("amount:%d", int64(math.Round(amount*100)))
}

// Store is the backend holding confirmed-payment entries. The in-memory
// implementation serves a single kiosk; the redis one lets several instances
// share webhook confirmations.
type Store interface {
	// Record inserts or overwrites the entry. Recording the same payment
	// twice must overwrite, never duplicate.
	Record(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	// Sweep removes entries confirmed before cutoff. Backends with native
	// expiry may no-op.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Registry is the confirmed-payment cache with an explicit lifecycle:
// constructed at process start, swept on a scheduled task, shared by the
// webhook receiver and every poll.
type Registry struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

func NewRegistry(store Store, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{store: store, retention: retention, now: time.Now}
}

// RecordConfirmed caches a confirmed payment under key. Idempotent.
func (r *Registry) RecordConfirmed(ctx context.Context, key string, paymentID int64, amount float64, status string) error {
	e := Entry{
		PaymentID:   paymentID,
		Amount:      amount,
		Status:      status,
		ConfirmedAt: r.now(),
	}
	return r.store.Record(ctx, key, e, r.retention)
}

// Lookup returns the cached confirmation for key, if any. Backend errors are
// logged and reported as a miss: a degraded cache must never break a status
// check, it only costs a gateway round trip.
func (r *Registry) Lookup(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := r.store.Lookup(ctx, key)
	if err != nil {
		log.Printf("reconcile: registry lookup %s: %v", key, err)
		return Entry{}, false
	}
	return e, ok
}

// Sweep evicts entries older than the retention window. Run on a fixed
// interval, independent of any order's lifecycle.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.store.Sweep(ctx, r.now().Add(-r.retention))
}

// memoryStore is the default single-instance backend.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an in-process Store.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[string]Entry)}
}

func (s *memoryStore) Record(_ context.Context, key string, e Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *memoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.ConfirmedAt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}
