// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Dispatcher: classify each incoming payload by its first field
// (IncomingKind) and route it to the correct sink, per spec.md §4.4. The
// dispatcher is a classifier, not a decoder — it peeks at field indices
// with FieldReader and leaves full decoding to collaborators on the
// consumer side (spec.md §4.9).

import (
	"github.com/sirupsen/logrus"
)

// IncomingKind is the inbound message-type discriminator: the payload's
// first field. Only the values the dispatcher must classify on are named;
// every other kind routes by the default rule and needs no constant.
type IncomingKind int

const (
	KindOrderStatus       IncomingKind = 3
	KindError             IncomingKind = 4
	KindOpenOrder         IncomingKind = 5
	KindNextValidId       IncomingKind = 9
	KindExecutionData     IncomingKind = 11
	KindManagedAccounts   IncomingKind = 15
	KindOpenOrderEnd      IncomingKind = 53
	KindExecutionDataEnd  IncomingKind = 55
	KindCommissionsReport IncomingKind = 59
)

// dispatcher owns everything dispatch needs to classify and route one
// payload: the router table, the single-slot notification channels, the
// connection-level error channel, and the negotiated server version.
type dispatcher struct {
	table         *routerTable
	nextOrderID   chan int32
	managedAccts  chan string
	connErrs      chan *ProtocolError
	serverVersion func() int32
	log           *logrus.Entry
}

// dispatch classifies payload and routes it. It never blocks and never
// panics: a malformed field surfaces as a logged DecodeError, a routing
// miss is logged and discarded (spec.md §7).
func (d *dispatcher) dispatch(payload []byte) {
	r := NewFieldReader(payload)
	kindVal, ok := r.PeekInt(0)
	if !ok {
		d.log.WithField("payload_len", len(payload)).Warn("bus: cannot classify payload, missing message kind field")
		return
	}
	kind := IncomingKind(kindVal)

	switch kind {
	case KindError:
		d.dispatchError(payload)
	case KindNextValidId:
		d.dispatchNextValidID(payload)
	case KindManagedAccounts:
		d.dispatchManagedAccounts(payload)
	case KindOrderStatus, KindOpenOrder, KindExecutionData,
		KindOpenOrderEnd, KindExecutionDataEnd, KindCommissionsReport:
		d.dispatchOrderNotification(kind, payload)
	default:
		d.dispatchDefault(payload)
	}
}

// dispatchError implements spec.md §4.4's Error rule: request_id lives at
// field index 2. RequestID == -1 means a connection-level event; otherwise
// route as a normal reply so the requesting consumer surfaces it itself.
func (d *dispatcher) dispatchError(payload []byte) {
	r := NewFieldReader(payload)
	requestID, ok := r.PeekInt32(2)
	if !ok {
		requestID = UnspecifiedID
	}

	if requestID != UnspecifiedID {
		if !d.routeRequestThenOrder(requestID, payload) {
			d.log.WithField("request_id", requestID).Warn("bus: routing miss for error reply")
		}
		return
	}

	d.emitConnectionError(payload)
}

func (d *dispatcher) emitConnectionError(payload []byte) {
	r := NewFieldReader(payload)
	r.Skip() // message kind
	version, err := r.NextInt()
	if err != nil {
		d.log.WithError(err).Warn("bus: malformed connection error message")
		return
	}

	var pe *ProtocolError
	if version < 2 {
		message, err := r.NextString()
		if err != nil {
			d.log.WithError(err).Warn("bus: malformed connection error message")
			return
		}
		pe = &ProtocolError{RequestID: UnspecifiedID, Message: message}
	} else {
		requestID, _ := r.NextInt32()
		code, _ := r.NextInt()
		message, err := r.NextString()
		if err != nil {
			d.log.WithError(err).Warn("bus: malformed connection error message")
			return
		}
		pe = &ProtocolError{RequestID: requestID, Code: code, Message: message}
		if int(d.serverVersion()) >= ServerVersionAdvancedOrderReject {
			if blob, err := r.NextString(); err == nil {
				pe.AdvancedOrderRejectJSON = blob
			}
		}
	}

	d.log.WithFields(logrus.Fields{
		"code":    pe.Code,
		"message": pe.Message,
	}).Error("bus: connection-level protocol error")

	select {
	case d.connErrs <- pe:
	default:
		d.log.Warn("bus: connection error channel full, dropping oldest notification")
		select {
		case <-d.connErrs:
		default:
		}
		select {
		case d.connErrs <- pe:
		default:
		}
	}
}

// dispatchNextValidID extracts the next order id and publishes it on the
// single-slot channel; no request/order stream is ever touched.
func (d *dispatcher) dispatchNextValidID(payload []byte) {
	r := NewFieldReader(payload)
	r.Skip() // message kind
	r.Skip() // version
	orderID, err := r.NextInt32()
	if err != nil {
		d.log.WithError(err).Warn("bus: malformed next valid id message")
		return
	}
	publishLatest(d.nextOrderID, orderID)
}

// dispatchManagedAccounts extracts the comma-separated account list and
// publishes it on the single-slot channel.
func (d *dispatcher) dispatchManagedAccounts(payload []byte) {
	r := NewFieldReader(payload)
	r.Skip() // message kind
	r.Skip() // version
	accounts, err := r.NextString()
	if err != nil {
		d.log.WithError(err).Warn("bus: malformed managed accounts message")
		return
	}
	publishLatest(d.managedAccts, accounts)
}

// dispatchOrderNotification implements spec.md §4.4's order-notification
// rule: prefer order_id, fall back to request_id, else log and discard.
// The field index to peek at is fixed per kind; see extractOrderOrRequestID.
func (d *dispatcher) dispatchOrderNotification(kind IncomingKind, payload []byte) {
	orderID, requestID, ok := extractOrderOrRequestID(kind, payload)
	if !ok {
		d.log.WithField("kind", kind).Warn("bus: order notification has neither order_id nor request_id")
		return
	}
	if orderID != nil {
		if !d.table.route(idSpaceOrder, *orderID, payload) {
			d.log.WithField("order_id", *orderID).Warn("bus: routing miss for order notification")
		}
		return
	}
	if !d.table.route(idSpaceRequest, *requestID, payload) {
		d.log.WithField("request_id", *requestID).Warn("bus: routing miss for order notification")
	}
}

// dispatchDefault implements spec.md §4.4's default rule: route by
// request_id, trying the request map first, then the order map — the
// tie-break rule that must be observable when an id exists in both.
func (d *dispatcher) dispatchDefault(payload []byte) {
	r := NewFieldReader(payload)
	requestID, ok := r.PeekInt32(1)
	if !ok {
		d.log.Warn("bus: default-routed message missing request_id field")
		return
	}
	if !d.routeRequestThenOrder(requestID, payload) {
		d.log.WithField("request_id", requestID).Warn("bus: routing miss")
	}
}

// routeRequestThenOrder is the tie-break primitive: the request map wins
// when an id is present in both maps.
func (d *dispatcher) routeRequestThenOrder(id int32, payload []byte) bool {
	if d.table.contains(idSpaceRequest, id) {
		return d.table.route(idSpaceRequest, id, payload)
	}
	if d.table.contains(idSpaceOrder, id) {
		return d.table.route(idSpaceOrder, id, payload)
	}
	return false
}

// extractOrderOrRequestID locates order_id and request_id for the
// order-notification kinds. Field positions vary by kind (the wire schema
// each business message uses), so the dispatcher — which only classifies,
// never fully decodes — hardcodes just the positions it needs per
// spec.md §4.9:
//
//	OrderStatus / OpenOrder:          order_id at field 1
//	ExecutionData:                    request_id at field 1, order_id at field 2
//	OpenOrderEnd / ExecutionDataEnd / CommissionsReport (terminal markers):
//	                                  no order_id; request_id at field 1
func extractOrderOrRequestID(kind IncomingKind, payload []byte) (orderID, requestID *int32, ok bool) {
	r := NewFieldReader(payload)
	switch kind {
	case KindOrderStatus, KindOpenOrder:
		if v, present := r.PeekInt32(1); present {
			return &v, nil, true
		}
		return nil, nil, false
	case KindExecutionData:
		if v, present := r.PeekInt32(2); present {
			return &v, nil, true
		}
		if v, present := r.PeekInt32(1); present {
			return nil, &v, true
		}
		return nil, nil, false
	default: // OpenOrderEnd, ExecutionDataEnd, CommissionsReport
		if v, present := r.PeekInt32(1); present {
			return nil, &v, true
		}
		return nil, nil, false
	}
}

// publishLatest overwrites a single-slot channel's pending value, so a slow
// consumer always observes the most recent publication rather than a
// backlog of stale ones.
func publishLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
