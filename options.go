// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"os"
	"strconv"
	"time"
)

// DefaultMaxFrame is the default ceiling on a frame's payload length (16MiB),
// per spec. Overridable per-Bus with WithMaxFrame, or globally via
// IBAPI_MAX_FRAME_BYTES.
const DefaultMaxFrame = 16 << 20

// DefaultStreamTimeout is the per-yield timeout a ResponseStream's iterator
// form uses when the caller doesn't supply one. Overridable with
// WithStreamTimeout, or globally via IBAPI_DEFAULT_TIMEOUT.
const DefaultStreamTimeout = 10 * time.Second

// options configures a Bus. See With* functions.
type options struct {
	maxFrame      int64
	retryDelay    time.Duration
	streamTimeout time.Duration
	sinkCapacity  int
	recordDir     string
}

func defaultOptions() options {
	o := options{
		maxFrame:      DefaultMaxFrame,
		retryDelay:    0, // cooperative blocking by default: IB Gateway sockets are blocking TCP
		streamTimeout: DefaultStreamTimeout,
		sinkCapacity:  256,
		recordDir:     os.Getenv("IBAPI_RECORDING_DIR"),
	}
	if v := os.Getenv("IBAPI_MAX_FRAME_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			o.maxFrame = n
		}
	}
	if v := os.Getenv("IBAPI_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			o.streamTimeout = d
		}
	}
	return o
}

// Option configures a Bus at construction time.
type Option func(*options)

// WithMaxFrame overrides the maximum accepted frame payload length.
func WithMaxFrame(n int64) Option {
	return func(o *options) { o.maxFrame = n }
}

// WithBlock makes the reader/writer cooperatively yield-and-retry on
// iox.ErrWouldBlock rather than surfacing it to the caller. This is the
// default; it's exposed for callers that changed it via WithNonblock and
// want to switch back.
func WithBlock() Option {
	return func(o *options) { o.retryDelay = 0 }
}

// WithNonblock makes the reader/writer return iox.ErrWouldBlock immediately
// instead of retrying. Useful when the Bus is driven over a non-blocking
// net.Conn (e.g. embedded behind a proxy's event loop); ordinary IB Gateway
// connections never need this.
func WithNonblock() Option {
	return func(o *options) { o.retryDelay = -1 }
}

// WithRetryDelay sets an explicit sleep-and-retry policy on iox.ErrWouldBlock.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithStreamTimeout overrides the default per-yield timeout used by a
// ResponseStream's iterator form.
func WithStreamTimeout(d time.Duration) Option {
	return func(o *options) { o.streamTimeout = d }
}

// WithSinkCapacity overrides the buffered channel capacity backing each
// ResponseStream. The dispatcher never blocks on a full sink; it evicts the
// oldest queued payload to make room for the new one and logs the eviction,
// per spec's drop-oldest backpressure policy.
func WithSinkCapacity(n int) Option {
	return func(o *options) { o.sinkCapacity = n }
}

// WithRecordingDir forces the Recorder on, overriding IBAPI_RECORDING_DIR.
func WithRecordingDir(dir string) Option {
	return func(o *options) { o.recordDir = dir }
}
