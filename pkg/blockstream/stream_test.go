// Copyright 2025 Certen Protocol
package blockstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu     sync.Mutex
	hashes map[uint32]string
	fail   map[uint32]int
}

func (f *fakeFetcher) GetBlockHash(ctx context.Context, blockNumber uint32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.fail[blockNumber]; n > 0 {
		f.fail[blockNumber] = n - 1
		return "", fmt.Errorf("transient rpc failure")
	}
	return f.hashes[blockNumber], nil
}

func TestIncrementingBlockStream_YieldsStrictlyIncreasingOrder(t *testing.T) {
	fetcher := &fakeFetcher{hashes: map[uint32]string{
		10: "0xaaa", 11: "0xbbb", 12: "0xccc",
	}}
	advance := make(chan bool, 3)
	stream := NewIncrementingBlockStream(10, fetcher, advance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, _ := stream.Blocks(ctx)

	var got []uint32
	b := <-blocks
	got = append(got, b.Number)
	advance <- true
	b = <-blocks
	got = append(got, b.Number)
	advance <- true
	b = <-blocks
	got = append(got, b.Number)
	close(advance)

	if len(got) != 3 || got[0] != 10 || got[1] != 11 || got[2] != 12 {
		t.Fatalf("expected [10 11 12], got %v", got)
	}

	if _, ok := <-blocks; ok {
		t.Fatalf("expected blocks channel closed after advance channel closes")
	}
}

func TestIncrementingBlockStream_DoesNotAdvanceOnFalseSignal(t *testing.T) {
	fetcher := &fakeFetcher{hashes: map[uint32]string{10: "0xaaa", 11: "0xbbb"}}
	advance := make(chan bool, 2)
	stream := NewIncrementingBlockStream(10, fetcher, advance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, errs := stream.Blocks(ctx)

	b := <-blocks
	if b.Number != 10 {
		t.Fatalf("expected block 10, got %d", b.Number)
	}

	advance <- false

	select {
	case b = <-blocks:
		if b.Number != 10 {
			t.Fatalf("expected block 10 to be re-yielded after advance(false), got %d", b.Number)
		}
	case <-time.After(RetryBackoff + 2*time.Second):
		t.Fatalf("timed out waiting for block 10 to be re-yielded after advance(false)")
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected a retry-signal error to be reported")
		}
	default:
		t.Fatalf("expected retry signal to be reported on errs")
	}

	close(advance)
}

func TestIncrementingBlockStream_ReportsTransientFetchErrorsWithoutTerminating(t *testing.T) {
	fetcher := &fakeFetcher{
		hashes: map[uint32]string{10: "0xaaa", 11: "0xbbb"},
		fail:   map[uint32]int{11: 1},
	}
	advance := make(chan bool, 2)
	stream := NewIncrementingBlockStream(10, fetcher, advance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, errs := stream.Blocks(ctx)

	b := <-blocks
	if b.Number != 10 {
		t.Fatalf("expected block 10, got %d", b.Number)
	}
	advance <- true

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected transient fetch error reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transient error report")
	}

	close(advance)
}
