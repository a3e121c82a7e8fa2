// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Server version gates, the handful the dispatcher itself needs to decide
// optional trailing fields. The full table of negotiated feature gates
// belongs to the business-message collaborators (spec.md §1); the bus only
// needs the one gate that affects its own classification of error frames.
const (
	// ServerVersionAdvancedOrderReject is the minimum negotiated server
	// version carrying a trailing advanced-order-reject JSON blob on
	// connection-level error messages.
	ServerVersionAdvancedOrderReject = 151
)
