// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Wire framing: every message after the handshake is a 4-byte big-endian
// length prefix followed by that many payload bytes. Unlike a generic
// framing library, the IB wire protocol has exactly one frame shape — no
// variable-width header, no boundary-preserving transport — so the codec
// here is narrower than a general-purpose framer: encode/decode, nothing
// pluggable about the header itself.
//
// encodeFrame is the pure encoder; frameCodec (frame_internal.go) wraps it
// around a net.Conn-shaped reader/writer pair, decodes incoming frames in
// readFrame, and adds the retry-on-ErrWouldBlock machinery a non-blocking
// transport may need.

import "encoding/binary"

const frameHeaderLen = 4

// encodeFrame prepends a 4-byte big-endian length prefix to payload.
// Fails with ErrFrameTooLarge if len(payload) exceeds maxFrame.
func encodeFrame(payload []byte, maxFrame int64) ([]byte, error) {
	if int64(len(payload)) > maxFrame {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(out[:frameHeaderLen], uint32(len(payload)))
	copy(out[frameHeaderLen:], payload)
	return out, nil
}
