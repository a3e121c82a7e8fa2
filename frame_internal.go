// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"encoding/binary"
	"io"
	"runtime"
	"time"

	"code.hybscloud.com/iox"
)

// These are re-exported so callers of Bus can recognize the non-blocking
// control-flow signals without importing iox directly, mirroring the
// framer library's own aliasing convention.
var (
	// ErrWouldBlock means "no further progress without waiting". Only ever
	// surfaced when the Bus is configured with WithNonblock over a
	// non-blocking transport; ordinary IB Gateway connections never produce it.
	ErrWouldBlock = iox.ErrWouldBlock

	// ErrMore means "this completion is usable, more will follow on the
	// same logical read/write". See ErrWouldBlock.
	ErrMore = iox.ErrMore
)

// frameCodec reads and writes length-prefixed frames over a single
// connection, with the teacher library's cooperative retry-on-ErrWouldBlock
// discipline: readExact/writeExact retry transparently unless the Bus was
// configured with WithNonblock, in which case the sentinel error is returned
// as is; the number of bytes already transferred is not reported.
type frameCodec struct {
	rd io.Reader
	wr io.Writer

	maxFrame   int64
	retryDelay time.Duration

	header [frameHeaderLen]byte
}

func newFrameCodec(rd io.Reader, wr io.Writer, o options) *frameCodec {
	return &frameCodec{rd: rd, wr: wr, maxFrame: o.maxFrame, retryDelay: o.retryDelay}
}

func (c *frameCodec) waitOnceOnWouldBlock() bool {
	if c.retryDelay < 0 {
		return false
	}
	if c.retryDelay == 0 {
		runtime.Gosched()
		return true
	}
	time.Sleep(c.retryDelay)
	return true
}

// readExact fills p completely, retrying on ErrWouldBlock per policy.
// A clean EOF with zero bytes read is returned as io.EOF; a partial read
// followed by EOF is io.ErrUnexpectedEOF — the frame stream was truncated.
func (c *frameCodec) readExact(p []byte) error {
	got := 0
	for got < len(p) {
		n, err := c.rd.Read(p[got:])
		if n > 0 {
			got += n
		}
		if err != nil {
			if err == ErrWouldBlock || err == ErrMore {
				if c.waitOnceOnWouldBlock() {
					continue
				}
				return err
			}
			if err == io.EOF {
				if got == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n == 0 {
			return io.ErrNoProgress
		}
	}
	return nil
}

func (c *frameCodec) writeExact(p []byte) error {
	off := 0
	for off < len(p) {
		n, err := c.wr.Write(p[off:])
		if n > 0 {
			off += n
		}
		if err != nil {
			if err == ErrWouldBlock || err == ErrMore {
				if c.waitOnceOnWouldBlock() {
					continue
				}
				return err
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// readFrame blocks for exactly one frame: a 4-byte big-endian length prefix
// then that many payload bytes. A length exceeding maxFrame is fatal
// (ErrFrameTooLarge); a socket closing mid-frame is fatal (ErrTransportClosed).
func (c *frameCodec) readFrame() ([]byte, error) {
	if err := c.readExact(c.header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTransportClosed
		}
		return nil, err
	}
	length := int64(binary.BigEndian.Uint32(c.header[:]))
	if length > c.maxFrame {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if err := c.readExact(payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, ErrTransportClosed
			}
			return nil, err
		}
	}
	return payload, nil
}

// writeFrame encodes and writes one frame atomically from the caller's
// point of view (no interleaving within this call); the Bus additionally
// serializes calls to writeFrame across goroutines with a writer lock.
func (c *frameCodec) writeFrame(payload []byte) error {
	framed, err := encodeFrame(payload, c.maxFrame)
	if err != nil {
		return err
	}
	if err := c.writeExact(framed); err != nil {
		return ErrTransportClosed
	}
	return nil
}
