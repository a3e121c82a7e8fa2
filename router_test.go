// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterTableInsertThenRoute(t *testing.T) {
	table := newRouterTable()
	s := newSink(4)
	table.insert(idSpaceRequest, 42, s)

	assert.True(t, table.contains(idSpaceRequest, 42))
	assert.False(t, table.contains(idSpaceOrder, 42))

	ok := table.route(idSpaceRequest, 42, []byte("payload"))
	require.True(t, ok)

	got := <-s.ch
	assert.Equal(t, []byte("payload"), got)
}

func TestRouterTableRouteMissDoesNotPanic(t *testing.T) {
	table := newRouterTable()
	ok := table.route(idSpaceOrder, 999, []byte("3|999|Filled|"))
	assert.False(t, ok)
}

func TestRouterTableInsertOverwriteReturnsPrior(t *testing.T) {
	table := newRouterTable()
	first := newSink(4)
	second := newSink(4)

	prior := table.insert(idSpaceRequest, 1, first)
	assert.Nil(t, prior)

	prior = table.insert(idSpaceRequest, 1, second)
	assert.Same(t, first, prior)

	// Only the second sink is reachable now.
	table.route(idSpaceRequest, 1, []byte("x"))
	select {
	case <-first.ch:
		t.Fatal("first sink should not have received anything")
	default:
	}
	assert.Len(t, second.ch, 1)
}

func TestRouterTableRemove(t *testing.T) {
	table := newRouterTable()
	s := newSink(4)
	table.insert(idSpaceOrder, 7, s)
	require.True(t, table.contains(idSpaceOrder, 7))

	got := table.remove(idSpaceOrder, 7)
	assert.Same(t, s, got)
	assert.False(t, table.contains(idSpaceOrder, 7))
}

func TestRouterTableRemoveIfSameRefusesStaleSink(t *testing.T) {
	table := newRouterTable()
	stale := newSink(4)
	fresh := newSink(4)

	table.insert(idSpaceRequest, 1, stale)
	table.insert(idSpaceRequest, 1, fresh) // overwrite; stale is now orphaned

	removed := table.removeIfSame(idSpaceRequest, 1, stale)
	assert.False(t, removed, "must not remove a fresh registration using a stale handle")
	assert.True(t, table.contains(idSpaceRequest, 1))

	removed = table.removeIfSame(idSpaceRequest, 1, fresh)
	assert.True(t, removed)
	assert.False(t, table.contains(idSpaceRequest, 1))
}

func TestRouterTableTieBreakRequestsWinOverOrders(t *testing.T) {
	table := newRouterTable()
	reqSink := newSink(4)
	ordSink := newSink(4)
	table.insert(idSpaceRequest, 13, reqSink)
	table.insert(idSpaceOrder, 13, ordSink)

	// Mirrors dispatcher.routeRequestThenOrder's tie-break rule.
	if table.contains(idSpaceRequest, 13) {
		table.route(idSpaceRequest, 13, []byte("reply"))
	} else {
		table.route(idSpaceOrder, 13, []byte("reply"))
	}

	assert.Len(t, reqSink.ch, 1)
	assert.Len(t, ordSink.ch, 0)
}

func TestSinkSendAfterCloseIsDropped(t *testing.T) {
	s := newSink(4)
	s.close()
	ok := s.send([]byte("late"))
	assert.False(t, ok)
}

// A full sink evicts its oldest queued payload rather than dropping the
// incoming one or blocking the caller (spec.md §4.7/§9's drop-oldest
// backpressure contract).
func TestSinkSendFullDropsOldestRatherThanBlocksOrDropsNewest(t *testing.T) {
	s := newSink(1)
	assert.True(t, s.send([]byte("a")))
	assert.True(t, s.send([]byte("b")))

	got := <-s.ch
	assert.Equal(t, []byte("b"), got)
}

func TestSinkSendFullEvictsOldestAcrossMultipleOverflows(t *testing.T) {
	s := newSink(2)
	assert.True(t, s.send([]byte("a")))
	assert.True(t, s.send([]byte("b")))
	assert.True(t, s.send([]byte("c")))

	assert.Equal(t, []byte("b"), <-s.ch)
	assert.Equal(t, []byte("c"), <-s.ch)
}

func TestRouterTableCloseAllUnregistersEverything(t *testing.T) {
	table := newRouterTable()
	table.insert(idSpaceRequest, 1, newSink(4))
	table.insert(idSpaceOrder, 2, newSink(4))

	table.closeAll()

	assert.False(t, table.contains(idSpaceRequest, 1))
	assert.False(t, table.contains(idSpaceOrder, 2))
}
