// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"sync"
	"unsafe"
)

// Ledger tracks the single owner of every buffer in a test. Buffers
// are identified by their backing array, so a resliced buffer is the
// same buffer.
//
// Ledger is safe for concurrent use.
type Ledger struct {
	t      TestingT
	mu     sync.Mutex
	owners map[*byte]string
}

// NewLedger returns an empty Ledger that reports violations to t.
func NewLedger(t TestingT) *Ledger {
	return &Ledger{t: t, owners: make(map[*byte]string)}
}

// Register records a new buffer owned by owner. Fails the test if the
// buffer is already registered or has zero capacity.
func (l *Ledger) Register(buffer []byte, owner string) {
	l.t.Helper()
	key := bufferKey(buffer)
	if key == nil {
		l.t.Fatalf("ledger: cannot track a zero-capacity buffer for %s", owner)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.owners[key]; ok {
		l.t.Fatalf("ledger: buffer %p registered to %s is already owned by %s", key, owner, existing)
		return
	}
	l.owners[key] = owner
}

// Transfer moves buffer from one owner to another. Fails the test if
// from is not the current owner: that is either a double hand-off or
// a component acting on a buffer it already gave away.
func (l *Ledger) Transfer(buffer []byte, from, to string) {
	l.t.Helper()
	key := bufferKey(buffer)

	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.owners[key]
	if !ok {
		l.t.Fatalf("ledger: %s handed unknown buffer %p to %s", from, key, to)
		return
	}
	if current != from {
		l.t.Fatalf("ledger: %s handed buffer %p to %s but it is owned by %s", from, key, to, current)
		return
	}
	l.owners[key] = to
}

// Owner returns the current owner of buffer, or "" if it is unknown.
func (l *Ledger) Owner(buffer []byte) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[bufferKey(buffer)]
}

// Count returns how many buffers owner currently holds.
func (l *Ledger) Count(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, current := range l.owners {
		if current == owner {
			count++
		}
	}
	return count
}

func bufferKey(buffer []byte) *byte {
	if cap(buffer) == 0 {
		return nil
	}
	return unsafe.SliceData(buffer)
}
