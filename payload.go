// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Payload codec: a payload is a sequence of 0x00-terminated UTF-8 fields.
// The codec itself is schema-free — it knows how to split/join fields and
// parse typed primitives, nothing about what message type expects which
// field. Schema lives with the collaborators (business-message encoders
// and decoders), per spec.md §4.2/§4.9.

import (
	"strconv"
	"strings"
)

// UnspecifiedID is the sentinel RequestId meaning "unspecified / broadcast".
const UnspecifiedID int32 = -1

// FieldWriter builds an outbound payload by appending typed, 0x00-terminated
// fields in order.
type FieldWriter struct {
	buf strings.Builder
}

// NewFieldWriter returns an empty outbound field builder.
func NewFieldWriter() *FieldWriter { return &FieldWriter{} }

func (w *FieldWriter) append(s string) *FieldWriter {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
	return w
}

// Int appends a signed integer field.
func (w *FieldWriter) Int(v int) *FieldWriter { return w.append(strconv.Itoa(v)) }

// Int32 appends a signed 32-bit integer field (request ids, order ids).
func (w *FieldWriter) Int32(v int32) *FieldWriter { return w.append(strconv.FormatInt(int64(v), 10)) }

// Long appends a 64-bit integer field.
func (w *FieldWriter) Long(v int64) *FieldWriter { return w.append(strconv.FormatInt(v, 10)) }

// Float appends a floating point field using the shortest round-trip decimal.
func (w *FieldWriter) Float(v float64) *FieldWriter {
	return w.append(strconv.FormatFloat(v, 'g', -1, 64))
}

// Bool appends a boolean field encoded as "0" or "1".
func (w *FieldWriter) Bool(v bool) *FieldWriter {
	if v {
		return w.append("1")
	}
	return w.append("0")
}

// String appends a string field verbatim.
func (w *FieldWriter) String(v string) *FieldWriter { return w.append(v) }

// MaxInt appends the "unset"/"max" sentinel: an empty field.
func (w *FieldWriter) MaxInt() *FieldWriter { return w.append("") }

// OptionalFloat appends an empty field if v is nil, else the float value.
func (w *FieldWriter) OptionalFloat(v *float64) *FieldWriter {
	if v == nil {
		return w.append("")
	}
	return w.Float(*v)
}

// OptionalString appends an empty field if v is nil, else the string value.
func (w *FieldWriter) OptionalString(v *string) *FieldWriter {
	if v == nil {
		return w.append("")
	}
	return w.String(*v)
}

// Bytes returns the encoded payload, ready to hand to Bus.SendRequest,
// Bus.SendOrder, or Bus.SendRaw.
func (w *FieldWriter) Bytes() []byte { return []byte(w.buf.String()) }

// FieldReader is an inbound field-by-field cursor over a decoded payload.
// Fields are extracted in order; parse failures surface as *DecodeError
// and still advance the cursor past the failing field.
type FieldReader struct {
	fields []string
	pos    int
}

// NewFieldReader splits payload on 0x00 into fields, preserving trailing
// empty fields: "a\x00b\x00" yields ["a", "b"], and "a\x00b\x00\x00"
// yields ["a", "b", ""].
func NewFieldReader(payload []byte) *FieldReader {
	s := string(payload)
	var fields []string
	if s == "" {
		fields = nil
	} else {
		fields = strings.Split(s, "\x00")
		// strings.Split on a string ending in the separator produces a
		// trailing "" element; payloads are built with every field
		// 0x00-terminated, so drop that synthetic trailing empty field.
		if len(fields) > 0 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
	}
	return &FieldReader{fields: fields}
}

// Len returns the number of remaining unconsumed fields.
func (r *FieldReader) Len() int { return len(r.fields) - r.pos }

// Skip advances the cursor by one field without parsing it.
func (r *FieldReader) Skip() { r.pos++ }

// SkipN advances the cursor by n fields without parsing them.
func (r *FieldReader) SkipN(n int) { r.pos += n }

func (r *FieldReader) next(kind string) (string, error) {
	if r.pos >= len(r.fields) {
		return "", &DecodeError{FieldIndex: r.pos, Kind: kind, Err: errFieldMissing}
	}
	v := r.fields[r.pos]
	r.pos++
	return v, nil
}

// NextString returns the next field verbatim.
func (r *FieldReader) NextString() (string, error) { return r.next("string") }

// NextInt parses the next field as a signed integer.
func (r *FieldReader) NextInt() (int, error) {
	idx := r.pos
	s, err := r.next("int")
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &DecodeError{FieldIndex: idx, Kind: "int", Err: err}
	}
	return v, nil
}

// NextIntOrDefault parses the next field as an integer, treating an empty
// field as zero rather than a parse error (the schema's "unset" sentinel).
func (r *FieldReader) NextIntOrDefault() (int, error) {
	idx := r.pos
	s, err := r.next("int")
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &DecodeError{FieldIndex: idx, Kind: "int", Err: err}
	}
	return v, nil
}

// NextInt32 parses the next field as a signed 32-bit integer.
func (r *FieldReader) NextInt32() (int32, error) {
	idx := r.pos
	s, err := r.next("int32")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, &DecodeError{FieldIndex: idx, Kind: "int32", Err: err}
	}
	return int32(v), nil
}

// NextLong parses the next field as a 64-bit integer.
func (r *FieldReader) NextLong() (int64, error) {
	idx := r.pos
	s, err := r.next("long")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &DecodeError{FieldIndex: idx, Kind: "long", Err: err}
	}
	return v, nil
}

// NextFloat parses the next field as a float64.
func (r *FieldReader) NextFloat() (float64, error) {
	idx := r.pos
	s, err := r.next("float")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &DecodeError{FieldIndex: idx, Kind: "float", Err: err}
	}
	return v, nil
}

// NextBool parses the next field as "0"/"1" (empty treated as false).
func (r *FieldReader) NextBool() (bool, error) {
	idx := r.pos
	s, err := r.next("bool")
	if err != nil {
		return false, err
	}
	switch s {
	case "", "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, &DecodeError{FieldIndex: idx, Kind: "bool", Err: errInvalidBool}
	}
}

// PeekInt reads the field at absolute index k as an integer without
// consuming it — the classifier primitive the dispatcher uses to decide
// routing before handing the payload to a collaborator decoder. Returns
// the default (0, false) if k is out of range or not a valid integer, so
// callers can treat "no such field" the same as "not present" for
// classification purposes (spec.md §4.4, §4.9).
func (r *FieldReader) PeekInt(k int) (int, bool) {
	if k < 0 || k >= len(r.fields) {
		return 0, false
	}
	s := r.fields[k]
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PeekInt32 is PeekInt at 32-bit width, for request/order id fields.
func (r *FieldReader) PeekInt32(k int) (int32, bool) {
	v, ok := r.PeekInt(k)
	return int32(v), ok
}
