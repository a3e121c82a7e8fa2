// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bus implements the concurrent message bus for the TWS/Gateway
// wire protocol: framing, field codec, request/order correlation, and
// dispatch of an incoming, length-prefixed, null-delimited message stream.
//
// The bus is transport-agnostic above net.Conn: it frames and dispatches,
// it does not know about contracts, orders, or market data. Those are the
// job of collaborators built on top of SendRequest/SendOrder/SendRaw and
// the Payload codec.
package bus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport layer. TransportClosed and FrameTooLarge
// are fatal: once returned from the reader task, every registered stream
// observes termination and the Bus refuses further sends.
var (
	// ErrTransportClosed means the underlying connection is gone (EOF, reset,
	// or explicit Close). Fatal.
	ErrTransportClosed = errors.New("bus: transport closed")

	// ErrFrameTooLarge means a frame's length prefix exceeds MaxFrame. Fatal.
	ErrFrameTooLarge = errors.New("bus: frame too large")

	// ErrInvalidArgument reports a nil connection or malformed configuration.
	ErrInvalidArgument = errors.New("bus: invalid argument")

	errFieldMissing = errors.New("field missing")
	errInvalidBool  = errors.New("invalid bool field")
)

// DecodeError reports a field-parse failure at a specific field index. It
// never tears down the connection; the dispatcher logs it and moves on to
// the next frame.
type DecodeError struct {
	FieldIndex int
	Kind       string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bus: decode error at field %d (%s): %v", e.FieldIndex, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError represents a server-originated IncomingKind.Error message.
// Connection-scoped errors (RequestID == -1) are published on the Bus's
// connection-error channel; request-scoped errors are routed as a normal
// reply and never become a ProtocolError value the caller sees directly.
type ProtocolError struct {
	RequestID               int32
	Code                    int
	Message                 string
	AdvancedOrderRejectJSON string
}

func (e *ProtocolError) Error() string {
	if e.RequestID == UnspecifiedID {
		return fmt.Sprintf("bus: connection error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bus: request %d error %d: %s", e.RequestID, e.Code, e.Message)
}
