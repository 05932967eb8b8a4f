package conversation

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

// ErrEmptyPhone is returned when a store operation is called without a key.
var ErrEmptyPhone = errors.New("phone number is required")

// Store keeps conversation state per phone number.
//
// Turns for one phone number run one at a time through Mutate; turns for
// different numbers run independently. Entries never expire.
type Store struct {
	shards [shardCount]shard
	now    func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// entry pairs the committed state with a turn lock.
//
// turn is a one-slot semaphore so waiting can observe context cancellation.
// mu only guards reads and writes of state and is never held across a turn.
type entry struct {
	turn    chan struct{}
	deleted atomic.Bool

	mu    sync.RWMutex
	state State
}

func NewStore() *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

// Get returns a snapshot of the state for phone.
func (s *Store) Get(phone string) (State, bool) {
	phone = NormalizePhone(phone)
	sh := s.shardFor(phone)

	sh.mu.RLock()
	e, ok := sh.entries[phone]
	sh.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	return e.snapshot(), true
}

// CreateIfAbsent returns the state for phone, creating an empty one if needed.
func (s *Store) CreateIfAbsent(phone string) State {
	phone = NormalizePhone(phone)
	if phone == "" {
		return State{}
	}
	return s.entryFor(phone).snapshot()
}

// Mutate runs fn on a copy of the state for phone and commits the copy when fn
// returns nil. The state is created if absent.
//
// Concurrent calls for the same phone are serialized; a call that is waiting
// for its turn returns ctx.Err() if ctx ends first.
func (s *Store) Mutate(ctx context.Context, phone string, fn func(*State) error) (State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	phone = NormalizePhone(phone)
	if phone == "" {
		return State{}, ErrEmptyPhone
	}

	for {
		e := s.entryFor(phone)

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case e.turn <- struct{}{}:
		}

		if e.deleted.Load() {
			// Deleted while we waited; retry against the replacement entry.
			<-e.turn
			continue
		}

		return e.runTurn(fn)
	}
}

// runTurn runs fn while the caller holds e.turn and releases it on return,
// including when fn panics.
func (e *entry) runTurn(fn func(*State) error) (State, error) {
	defer func() { <-e.turn }()

	working := e.snapshot()
	if err := fn(&working); err != nil {
		return State{}, err
	}

	e.mu.Lock()
	e.state = working.Clone()
	e.mu.Unlock()

	return working, nil
}

// Keys returns every phone number with state, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for phone := range sh.entries {
			keys = append(keys, phone)
		}
		sh.mu.RUnlock()
	}

	sort.Strings(keys)
	return keys
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// Delete removes the state for phone and reports whether it existed.
//
// A turn already in flight for phone completes against the detached entry and
// its result is discarded.
func (s *Store) Delete(phone string) bool {
	phone = NormalizePhone(phone)
	sh := s.shardFor(phone)

	sh.mu.Lock()
	e, ok := sh.entries[phone]
	if ok {
		delete(sh.entries, phone)
		e.deleted.Store(true)
	}
	sh.mu.Unlock()

	return ok
}

func (s *Store) entryFor(phone string) *entry {
	sh := s.shardFor(phone)

	sh.mu.RLock()
	e, ok := sh.entries[phone]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok = sh.entries[phone]; ok {
		return e
	}

	e = &entry{
		turn:  make(chan struct{}, 1),
		state: newState(phone, s.now()),
	}
	sh.entries[phone] = e
	return e
}

func (s *Store) shardFor(phone string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	return &s.shards[h.Sum32()%shardCount]
}

func (e *entry) snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// NormalizePhone returns the key a phone number is stored under.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}
