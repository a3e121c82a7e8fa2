// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"sync"
	"time"
)

// ResponseStream is the consumer-side handle returned by SendRequest and
// SendOrder: a bounded-lifetime sequence of payloads for one correlation
// id, FIFO within that id, with timeout and cancellation (spec.md §4.7).
type ResponseStream struct {
	id    int32
	kind  idSpace
	table *routerTable
	sink  *sink

	defaultTimeout time.Duration

	cancelOnce sync.Once
}

func newResponseStream(id int32, kind idSpace, table *routerTable, s *sink, defaultTimeout time.Duration) *ResponseStream {
	return &ResponseStream{
		id:             id,
		kind:           kind,
		table:          table,
		sink:           s,
		defaultTimeout: defaultTimeout,
	}
}

// Next blocks up to timeout for the next payload. It returns (payload, nil)
// on delivery, (nil, nil) if the stream has been closed (transport failure
// or Cancel), and (nil, context.DeadlineExceeded) on timeout. A timeout
// does not end the stream — only the iterator form NextOrEnd and Cancel do.
func (s *ResponseStream) Next(timeout time.Duration) ([]byte, error) {
	select {
	case payload, ok := <-s.sink.ch:
		if !ok {
			return nil, nil
		}
		return payload, nil
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// NextContext is Next with cancellation via ctx instead of a fixed timeout.
func (s *ResponseStream) NextContext(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-s.sink.ch:
		if !ok {
			return nil, nil
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextOrEnd (the iterator form) uses the Bus's configured default per-yield
// timeout (10s unless overridden). On timeout it ends the stream: it
// unregisters from the router and returns (nil, nil), matching spec.md
// §4.7's "on timeout, ends the stream (returns None) and unregisters".
func (s *ResponseStream) NextOrEnd() ([]byte, error) {
	payload, err := s.Next(s.defaultTimeout)
	if err == context.DeadlineExceeded {
		s.Cancel()
		return nil, nil
	}
	return payload, err
}

// Cancel unregisters this stream's id from the router and closes its sink.
// Idempotent — a second Cancel is a no-op. Replies arriving after Cancel
// are logged and discarded by the router (the sink is already closed).
func (s *ResponseStream) Cancel() {
	s.cancelOnce.Do(func() {
		s.table.removeIfSame(s.kind, s.id, s.sink)
		s.sink.close()
	})
}
