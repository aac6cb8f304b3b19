// Package mock provides a test double for the stt.Retranscriber interface.
//
// Example:
//
//	r := &mock.Retranscriber{Result: &types.Transcription{Text: "hola"}}
//	tr, _ := r.Retranscribe(ctx, audio)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
)

// Ensure Retranscriber implements stt.Retranscriber at compile time.
var _ stt.Retranscriber = (*Retranscriber)(nil)

// RetranscribeCall records a single invocation of Retranscriber.Retranscribe.
type RetranscribeCall struct {
	// Audio is a copy of the bytes passed to Retranscribe.
	Audio []byte
}

// Retranscriber is a mock implementation of stt.Retranscriber.
type Retranscriber struct {
	mu sync.Mutex

	// Result is returned by Retranscribe when Err is nil. A nil Result means
	// "no speech recognised".
	Result *types.Transcription

	// Err, if non-nil, is returned as the error from Retranscribe.
	Err error

	// Block, if non-nil, makes Retranscribe wait until the channel is closed
	// or ctx is done.
	Block chan struct{}

	calls []RetranscribeCall
}

// Retranscribe records the call and returns a copy of Result, Err.
func (r *Retranscriber) Retranscribe(ctx context.Context, audio []byte) (*types.Transcription, error) {
	r.mu.Lock()
	r.calls = append(r.calls, RetranscribeCall{Audio: append([]byte(nil), audio...)})
	block, res, err := r.Block, r.Result, r.Err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	cp := *res
	cp.Words = append([]types.WordConfidence(nil), res.Words...)
	return &cp, nil
}

// Calls returns a copy of all recorded calls. Thread-safe.
func (r *Retranscriber) Calls() []RetranscribeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RetranscribeCall(nil), r.calls...)
}

// CallCount returns the number of Retranscribe calls. Thread-safe.
func (r *Retranscriber) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Retranscriber) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
