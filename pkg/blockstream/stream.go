// Copyright 2025 Certen Protocol
//
// Finalized block stream: a lazy, restartable sequence of blocks gated by an
// external advance signal. Fetches each block's hash over JSON-RPC one at a
// time and only proceeds to the next block number once the consumer signals
// true on the advance channel.
package blockstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// RetryBackoff is the minimum delay between chain_getBlockHash retries.
const RetryBackoff = 1 * time.Second

// Block is a fetched block: its number and its hash, as reported by the
// chain_getBlockHash RPC.
type Block struct {
	Number uint32
	Hash   string
}

// HashFetcher retrieves the hash of a block by number, returning ("", nil)
// when the chain does not yet have a block at that number.
type HashFetcher interface {
	GetBlockHash(ctx context.Context, blockNumber uint32) (string, error)
}

// RPCHashFetcher fetches block hashes via the chain_getBlockHash JSON-RPC
// method exposed by the origin chain.
type RPCHashFetcher struct {
	client *rpc.Client
}

// DialRPCHashFetcher connects to url and returns a fetcher backed by it.
func DialRPCHashFetcher(ctx context.Context, url string) (*RPCHashFetcher, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("blockstream: dial %s: %w", url, err)
	}
	return &RPCHashFetcher{client: client}, nil
}

// GetBlockHash calls chain_getBlockHash(blockNumber).
func (f *RPCHashFetcher) GetBlockHash(ctx context.Context, blockNumber uint32) (string, error) {
	var result *string
	if err := f.client.CallContext(ctx, &result, "chain_getBlockHash", blockNumber); err != nil {
		return "", fmt.Errorf("blockstream: chain_getBlockHash(%d): %w", blockNumber, err)
	}
	if result == nil {
		return "", nil
	}
	return *result, nil
}

// Close releases the underlying RPC connection.
func (f *RPCHashFetcher) Close() { f.client.Close() }

// IncrementingBlockStream yields blocks one at a time starting at StartBlock,
// advancing to the next number only after the consumer sends true on its
// advance channel. Sending false re-yields the same block after RetryBackoff.
// Closing the channel terminates the stream. The receiver is guarded by a
// mutex so only one consumer may be awaiting the next block at a time,
// enforcing strict per-block ordering.
type IncrementingBlockStream struct {
	startBlock uint32
	fetcher    HashFetcher
	advance    <-chan bool
	recvMu     sync.Mutex
}

// NewIncrementingBlockStream returns a stream that begins at startBlock and
// fetches hashes through fetcher, advancing on signals received from advance.
func NewIncrementingBlockStream(startBlock uint32, fetcher HashFetcher, advance <-chan bool) *IncrementingBlockStream {
	return &IncrementingBlockStream{startBlock: startBlock, fetcher: fetcher, advance: advance}
}

// Blocks returns a channel of fetched blocks. It yields the first block
// immediately, then blocks on the advance channel before fetching each
// subsequent one. The returned channel is closed when the advance channel is
// closed or ctx is done. Errors fetching a hash, and a block that has no hash
// yet, are reported on errs without terminating the stream; the fetch is
// retried after RetryBackoff until it succeeds or ctx is done.
func (s *IncrementingBlockStream) Blocks(ctx context.Context) (<-chan Block, <-chan error) {
	out := make(chan Block)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		current := s.startBlock
		if !s.fetchAndEmit(ctx, current, out, errs) {
			return
		}

		for {
			s.recvMu.Lock()
			select {
			case <-ctx.Done():
				s.recvMu.Unlock()
				return
			case signal, ok := <-s.advance:
				s.recvMu.Unlock()
				if !ok {
					return
				}
				if signal {
					current++
					if !s.fetchAndEmit(ctx, current, out, errs) {
						return
					}
				} else {
					select {
					case errs <- fmt.Errorf("blockstream: received retry signal for block %d", current):
					default:
					}
					select {
					case <-ctx.Done():
						return
					case <-time.After(RetryBackoff):
					}
					if !s.fetchAndEmit(ctx, current, out, errs) {
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(RetryBackoff):
			}
		}
	}()

	return out, errs
}

// fetchAndEmit fetches blockNumber's hash and emits the block on out. A failed
// fetch or a missing hash is reported on errs and the fetch is retried after
// RetryBackoff. It returns false only when ctx has been cancelled, to signal
// the caller to stop the stream.
func (s *IncrementingBlockStream) fetchAndEmit(ctx context.Context, blockNumber uint32, out chan<- Block, errs chan<- error) bool {
	hash, err := s.fetcher.GetBlockHash(ctx, blockNumber)
	for err != nil || hash == "" {
		if err == nil {
			err = fmt.Errorf("blockstream: no hash found for block %d", blockNumber)
		}
		select {
		case errs <- err:
		default:
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(RetryBackoff):
		}
		hash, err = s.fetcher.GetBlockHash(ctx, blockNumber)
	}

	select {
	case <-ctx.Done():
		return false
	case out <- Block{Number: blockNumber, Hash: hash}:
		return true
	}
}
