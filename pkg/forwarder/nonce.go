// Copyright 2025 Certen Protocol
package forwarder

import "sync"

// NonceTracker is the forwarder's process-local monotonically increasing
// nonce counter. No two submissions issued through Next may observe the same
// value; Refresh re-synchronizes against the chain's view after a
// nonce-conflict error.
type NonceTracker struct {
	mu   sync.Mutex
	next uint64
}

// NewNonceTracker starts the counter at start (typically the chain's
// PendingNonceAt for the forwarder's address at startup).
func NewNonceTracker(start uint64) *NonceTracker {
	return &NonceTracker{next: start}
}

// Next returns the next nonce to use and advances the counter.
func (t *NonceTracker) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	t.next++
	return n
}

// Refresh resets the counter to chainNonce, discarding the forwarder's own
// bookkeeping. Used after a nonce-conflict error is observed on submission.
func (t *NonceTracker) Refresh(chainNonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = chainNonce
}
