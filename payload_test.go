// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldWriterBytesTerminatesEveryField(t *testing.T) {
	w := NewFieldWriter().Int(3).Int32(13).String("TSLA").Bool(true).Bool(false).MaxInt()
	got := w.Bytes()
	want := "3\x0013\x00TSLA\x001\x000\x00\x00"
	assert.Equal(t, want, string(got))
}

func TestFieldReaderRoundTrip(t *testing.T) {
	payload := NewFieldWriter().
		Int(9).
		String("hello").
		Float(196.52).
		Bool(true).
		MaxInt().
		String("").
		Bytes()

	r := NewFieldReader(payload)
	kind, err := r.NextInt()
	require.NoError(t, err)
	assert.Equal(t, 9, kind)

	s, err := r.NextString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	f, err := r.NextFloat()
	require.NoError(t, err)
	assert.Equal(t, 196.52, f)

	b, err := r.NextBool()
	require.NoError(t, err)
	assert.True(t, b)

	empty, err := r.NextIntOrDefault()
	require.NoError(t, err)
	assert.Equal(t, 0, empty)

	trailing, err := r.NextString()
	require.NoError(t, err)
	assert.Equal(t, "", trailing)
}

func TestFieldReaderPreservesTrailingEmptyFields(t *testing.T) {
	payload := []byte("4\x002\x0042\x00321\x00some failure\x00\x00\x00")
	r := NewFieldReader(payload)
	assert.Equal(t, 7, r.Len())
}

func TestFieldReaderSkip(t *testing.T) {
	payload := NewFieldWriter().Int(9).Int(1).Int32(100).Bytes()
	r := NewFieldReader(payload)
	r.SkipN(2)
	orderID, err := r.NextInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(100), orderID)
}

func TestFieldReaderPeekIntDoesNotConsume(t *testing.T) {
	payload := NewFieldWriter().Int(4).Int(2).Int32(42).Bytes()
	r := NewFieldReader(payload)

	v, ok := r.PeekInt32(2)
	require.True(t, ok)
	assert.Equal(t, int32(42), v)

	// PeekInt must not have advanced the cursor.
	kind, err := r.NextInt()
	require.NoError(t, err)
	assert.Equal(t, 4, kind)
}

func TestFieldReaderPeekIntOutOfRange(t *testing.T) {
	payload := NewFieldWriter().Int(4).Bytes()
	r := NewFieldReader(payload)
	_, ok := r.PeekInt(5)
	assert.False(t, ok)
}

func TestFieldReaderNextIntDecodeError(t *testing.T) {
	payload := []byte("notanumber\x00")
	r := NewFieldReader(payload)
	_, err := r.NextInt()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, de.FieldIndex)
	assert.Equal(t, "int", de.Kind)
}

func TestFieldReaderNextFieldMissing(t *testing.T) {
	r := NewFieldReader(nil)
	_, err := r.NextString()
	require.Error(t, err)
}
