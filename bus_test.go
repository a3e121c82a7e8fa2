// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer plays the IB Gateway side of a net.Pipe connection in tests: it
// reads the raw handshake bytes, then speaks framed payloads like the real
// bus does, using the package's own codec since tests live in package bus.
type fakeServer struct {
	conn     Conn
	codec    *frameCodec
	incoming chan []byte
}

func newFakeServer(conn Conn) *fakeServer {
	return &fakeServer{conn: conn, codec: newFrameCodec(conn, conn, defaultOptions()), incoming: make(chan []byte, 16)}
}

func (f *fakeServer) readHandshake(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(f.conn, buf)
	return buf, err
}

func (f *fakeServer) writeFrame(payload []byte) error {
	return f.codec.writeFrame(payload)
}

// run drains frames from the client until the pipe closes, publishing each
// to incoming so a test can assert on what the Bus sent.
func (f *fakeServer) run() {
	for {
		payload, err := f.codec.readFrame()
		if err != nil {
			close(f.incoming)
			return
		}
		f.incoming <- payload
	}
}

func connectTestBus(t *testing.T, opts ...Option) (*Bus, *fakeServer) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	fs := newFakeServer(serverConn)

	handshake := []byte("API\x00v100..187")
	handshakeDone := make(chan struct{})
	go func() {
		_, err := fs.readHandshake(len(handshake))
		require.NoError(t, err)
		reply := NewFieldWriter().Int32(176).String("20230101 08:00:00 EST").Bytes()
		require.NoError(t, fs.writeFrame(reply))
		close(handshakeDone)
		fs.run()
	}()

	b, err := Connect(clientConn, handshake, opts...)
	require.NoError(t, err)
	<-handshakeDone

	t.Cleanup(func() { _ = b.Close() })
	return b, fs
}

func TestBusConnectParsesHandshakeResponse(t *testing.T) {
	b, _ := connectTestBus(t)
	assert.Equal(t, int32(176), b.ServerVersion())
	assert.Equal(t, "20230101 08:00:00 EST", b.ConnectionTime())
}

func TestBusSendRequestRoundTrip(t *testing.T) {
	b, fs := connectTestBus(t)

	stream, err := b.SendRequest(42, NewFieldWriter().Int(10).Int32(42).String("AAPL").Bytes())
	require.NoError(t, err)

	select {
	case got := <-fs.incoming:
		r := NewFieldReader(got)
		kind, _ := r.NextInt()
		id, _ := r.NextInt32()
		sym, _ := r.NextString()
		assert.Equal(t, 10, kind)
		assert.Equal(t, int32(42), id)
		assert.Equal(t, "AAPL", sym)
	case <-time.After(time.Second):
		t.Fatal("server never received the request")
	}

	reply := fieldPayload("77", "42", "some result")
	require.NoError(t, fs.writeFrame(reply))

	got, err := stream.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

// Routing uniqueness: a reply addressed to one request id is delivered only
// to that request's stream, never to a concurrently open sibling.
func TestBusRoutingUniquenessAcrossConcurrentStreams(t *testing.T) {
	b, fs := connectTestBus(t)

	stream42, err := b.SendRequest(42, fieldPayload("10", "42"))
	require.NoError(t, err)
	<-fs.incoming

	stream43, err := b.SendRequest(43, fieldPayload("10", "43"))
	require.NoError(t, err)
	<-fs.incoming

	require.NoError(t, fs.writeFrame(fieldPayload("77", "43", "for 43 only")))

	got, err := stream43.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, fieldPayload("77", "43", "for 43 only"), got)

	_, err = stream42.Next(20 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusSendOrderRoutesOrderLifecycle(t *testing.T) {
	b, fs := connectTestBus(t)

	stream, err := b.SendOrder(13, fieldPayload("3", "13", "MKT", "100"))
	require.NoError(t, err)
	<-fs.incoming

	openOrder := fieldPayload("5", "13", "76792991", "TSLA", "STK")
	orderStatus := fieldPayload("3", "13", "PreSubmitted", "0", "100", "0")
	require.NoError(t, fs.writeFrame(openOrder))
	require.NoError(t, fs.writeFrame(orderStatus))

	got, err := stream.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, openOrder, got)

	got, err = stream.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, orderStatus, got)
}

func TestBusCloseEndsOpenStreamsAndRejectsFurtherSends(t *testing.T) {
	b, fs := connectTestBus(t)

	stream, err := b.SendRequest(1, fieldPayload("10", "1"))
	require.NoError(t, err)
	<-fs.incoming

	require.NoError(t, b.Close())
	b.WaitReaderDone()

	got, err := stream.Next(time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = b.SendRequest(2, fieldPayload("10", "2"))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestBusReaderLoopFailsTransportOnPeerClose(t *testing.T) {
	b, fs := connectTestBus(t)

	require.NoError(t, fs.conn.Close())
	b.WaitReaderDone()

	assert.True(t, b.Closed())
	_, err := b.SendRequest(5, fieldPayload("10", "5"))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestBusConnectionErrorsChannelReceivesBroadcastErrors(t *testing.T) {
	b, fs := connectTestBus(t)

	require.NoError(t, fs.writeFrame(fieldPayload("4", "2", "-1", "1100", "Connectivity between IB and TWS has been lost.")))

	select {
	case pe := <-b.ConnectionErrors():
		assert.Equal(t, UnspecifiedID, pe.RequestID)
		assert.Equal(t, 1100, pe.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a connection error notification")
	}
}

func TestBusNextOrderIDAndManagedAccounts(t *testing.T) {
	b, fs := connectTestBus(t)

	require.NoError(t, fs.writeFrame(fieldPayload("9", "1", "5000")))
	id, ok := b.NextOrderID(time.Second)
	require.True(t, ok)
	assert.Equal(t, int32(5000), id)

	require.NoError(t, fs.writeFrame(fieldPayload("15", "1", "DU1236109")))
	accts, ok := b.ManagedAccounts(time.Second)
	require.True(t, ok)
	assert.Equal(t, "DU1236109", accts)
}
