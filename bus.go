// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Bus assembles every other component into the thing spec.md calls "the
// bus": it owns the connection, the framer, the router table, the
// dispatcher's single-slot notification channels, and the reader task's
// lifecycle. Grounded on original_source/src/client/transport.rs's
// TcpMessageBus, translated from a Sender/Receiver-channel model to Go
// channels and goroutines.

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is the minimal transport the Bus needs: a duplex byte stream it can
// frame over and close on shutdown. net.Conn and net.Pipe() connections
// both satisfy it; tests use the latter.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Bus multiplexes a single connection into many concurrent
// request/response and order-notification streams. See package doc and
// spec.md for the full contract.
type Bus struct {
	conn  Conn
	codec *frameCodec
	table *routerTable
	rec   *recorder
	log   *logrus.Entry
	opts  options

	writeMu sync.Mutex
	closed  atomic.Bool

	serverVersion  atomic.Int32
	connectionTime string

	nextOrderID  chan int32
	managedAccts chan string
	connErrs     chan *ProtocolError

	disp *dispatcher

	readerDone chan struct{}
}

// New wraps conn in a Bus without performing a handshake or starting the
// reader task — useful for tests that drive dispatch() directly, or for
// callers that perform their own handshake before calling Start.
func New(conn Conn, opts ...Option) *Bus {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	log := logrus.WithField("component", "bus")

	b := &Bus{
		conn:         conn,
		table:        newRouterTable(),
		rec:          newRecorder(o.recordDir, log),
		log:          log,
		opts:         o,
		nextOrderID:  make(chan int32, 1),
		managedAccts: make(chan string, 1),
		connErrs:     make(chan *ProtocolError, 16),
		readerDone:   make(chan struct{}),
	}
	b.codec = newFrameCodec(conn, conn, o)
	b.disp = &dispatcher{
		table:         b.table,
		nextOrderID:   b.nextOrderID,
		managedAccts:  b.managedAccts,
		connErrs:      b.connErrs,
		serverVersion: func() int32 { return b.serverVersion.Load() },
		log:           log,
	}
	return b
}

// Connect performs the IB handshake over conn: an unframed write of the
// magic+version-range string, then reads the server's first frame
// (length-framed) and parses it as "serverVersion\x00connectionTime\x00",
// per spec.md §6. It then starts the reader task and returns a ready Bus.
func Connect(conn Conn, handshake []byte, opts ...Option) (*Bus, error) {
	b := New(conn, opts...)

	if err := b.SendRaw(handshake); err != nil {
		return nil, err
	}

	payload, err := b.codec.readFrame()
	if err != nil {
		return nil, err
	}
	r := NewFieldReader(payload)
	version, err := r.NextInt32()
	if err != nil {
		return nil, err
	}
	connTime, err := r.NextString()
	if err != nil {
		return nil, err
	}
	b.serverVersion.Store(version)
	b.connectionTime = connTime

	b.Start()
	return b, nil
}

// Start launches the single reader task. Safe to call only once; Connect
// calls it automatically. Exposed for callers that build a Bus with New
// and perform a custom handshake first.
func (b *Bus) Start() {
	go b.readerLoop()
}

func (b *Bus) readerLoop() {
	defer close(b.readerDone)
	for {
		payload, err := b.codec.readFrame()
		if err != nil {
			b.log.WithError(err).Error("bus: reader task terminating, transport failed")
			b.failTransport()
			return
		}
		b.rec.recordResponse(payload)
		b.disp.dispatch(payload)
	}
}

// failTransport marks the bus permanently closed and drains every
// registered sink with a terminal signal, without touching the socket
// (readerLoop calls this after its own read already failed; SendRaw and
// writeFrame call it after a failed write). Close does the same marking and
// draining itself, then closes the socket.
func (b *Bus) failTransport() {
	if b.closed.CompareAndSwap(false, true) {
		b.table.closeAll()
	}
}

// SendRequest registers requestID in the request map, writes the framed
// payload, and returns a ResponseStream for its replies. Registration
// happens strictly before the frame is written, so no reply can race past
// it (spec.md §4.6, §9).
func (b *Bus) SendRequest(requestID int32, payload []byte) (*ResponseStream, error) {
	return b.send(idSpaceRequest, requestID, payload)
}

// SendOrder is SendRequest against the order-id namespace.
func (b *Bus) SendOrder(orderID int32, payload []byte) (*ResponseStream, error) {
	return b.send(idSpaceOrder, orderID, payload)
}

func (b *Bus) send(kind idSpace, id int32, payload []byte) (*ResponseStream, error) {
	if b.closed.Load() {
		return nil, ErrTransportClosed
	}

	s := newSink(b.opts.sinkCapacity)
	if prior := b.table.insert(kind, id, s); prior != nil {
		prior.close() // orphaned: a second send reused an id still in flight
	}

	if err := b.writeFrame(payload); err != nil {
		b.table.removeIfSame(kind, id, s)
		s.close()
		return nil, err
	}

	b.rec.recordRequest(payload)
	return newResponseStream(id, kind, b.table, s, b.opts.streamTimeout), nil
}

// SendRaw writes payload without any framing and without registering a
// correlation id: fire-and-forget, used for the initial handshake bytes
// (spec.md §4.6, §6). No ResponseStream is returned.
func (b *Bus) SendRaw(payload []byte) error {
	if b.closed.Load() {
		return ErrTransportClosed
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.codec.writeExact(payload); err != nil {
		b.failTransport()
		return ErrTransportClosed
	}
	return nil
}

// writeFrame serializes one framed write under the writer lock. The lock
// protects only frame atomicity — registration already happened outside it.
func (b *Bus) writeFrame(payload []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.codec.writeFrame(payload); err != nil {
		b.failTransport()
		return err
	}
	return nil
}

// NextOrderID blocks up to timeout for the most recently published
// NextValidId notification.
func (b *Bus) NextOrderID(timeout time.Duration) (int32, bool) {
	select {
	case v := <-b.nextOrderID:
		return v, true
	case <-time.After(timeout):
		return 0, false
	}
}

// ManagedAccounts blocks up to timeout for the most recently published
// ManagedAccounts notification.
func (b *Bus) ManagedAccounts(timeout time.Duration) (string, bool) {
	select {
	case v := <-b.managedAccts:
		return v, true
	case <-time.After(timeout):
		return "", false
	}
}

// ConnectionErrors returns the channel connection-level ProtocolErrors
// (IncomingKind.Error with request_id == -1) are published on.
func (b *Bus) ConnectionErrors() <-chan *ProtocolError { return b.connErrs }

// ServerVersion returns the negotiated server version, fixed for the
// connection's lifetime after handshake.
func (b *Bus) ServerVersion() int32 { return b.serverVersion.Load() }

// SetServerVersion is exposed for callers using New()+Start() with a custom
// handshake that determines the server version out of band.
func (b *Bus) SetServerVersion(v int32) { b.serverVersion.Store(v) }

// ConnectionTime returns the server-reported connection time from the
// handshake response.
func (b *Bus) ConnectionTime() string { return b.connectionTime }

// SetConnectionTime is exposed alongside SetServerVersion for custom
// handshake callers.
func (b *Bus) SetConnectionTime(t string) { b.connectionTime = t }

// Closed reports whether the bus has permanently failed (transport error or
// explicit Close). Further sends fail with ErrTransportClosed.
func (b *Bus) Closed() bool { return b.closed.Load() }

// Close marks the bus closed, closes the underlying connection (which
// unblocks the reader task with a read error), and drains every registered
// sink so consumers observe stream end. No in-flight request is retried.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.table.closeAll()
	return b.conn.Close()
}

// WaitReaderDone blocks until the reader task has exited (transport failure
// or Close). Useful in tests to avoid racing on shutdown.
func (b *Bus) WaitReaderDone() {
	<-b.readerDone
}
