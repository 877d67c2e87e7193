// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package rowenc implements the order-preserving encoding of primary key
// tuples into byte strings, and the "increment" operation that turns an
// inclusive key bound into an exclusive one. The byte format must agree
// byte-for-byte with the server-side partitioner, since the client prunes
// and continues scans against server-assigned partition bounds.
package rowenc

import (
	"fmt"
	"math"
)

// ColumnType enumerates the value types allowed in primary key columns.
type ColumnType int

const (
	// Int8 is a signed 8-bit integer column.
	Int8 ColumnType = iota
	// Int16 is a signed 16-bit integer column.
	Int16
	// Int32 is a signed 32-bit integer column.
	Int32
	// Int64 is a signed 64-bit integer column.
	Int64
	// UnixMicros is a timestamp column, microseconds since the epoch,
	// encoded like Int64.
	UnixMicros
	// String is a variable-length UTF-8 column.
	String
	// Binary is a variable-length byte column.
	Binary
)

func (t ColumnType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case UnixMicros:
		return "unixtime_micros"
	case String:
		return "string"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// FixedWidth returns whether values of this type encode to a fixed number
// of bytes.
func (t ColumnType) FixedWidth() bool {
	switch t {
	case String, Binary:
		return false
	default:
		return true
	}
}

func typeMin(t ColumnType) int64 {
	switch t {
	case Int8:
		return math.MinInt8
	case Int16:
		return math.MinInt16
	case Int32:
		return math.MinInt32
	default:
		return math.MinInt64
	}
}

func typeMax(t ColumnType) int64 {
	switch t {
	case Int8:
		return math.MaxInt8
	case Int16:
		return math.MaxInt16
	case Int32:
		return math.MaxInt32
	default:
		return math.MaxInt64
	}
}

// Datum is one typed primary key column value. Fixed-width values live in
// the integer field and variable-length values in the byte field; the type
// tag decides which is meaningful.
type Datum struct {
	typ ColumnType
	i   int64
	b   []byte
}

// NewInt8Datum returns an Int8 Datum.
func NewInt8Datum(v int8) Datum { return Datum{typ: Int8, i: int64(v)} }

// NewInt16Datum returns an Int16 Datum.
func NewInt16Datum(v int16) Datum { return Datum{typ: Int16, i: int64(v)} }

// NewInt32Datum returns an Int32 Datum.
func NewInt32Datum(v int32) Datum { return Datum{typ: Int32, i: int64(v)} }

// NewInt64Datum returns an Int64 Datum.
func NewInt64Datum(v int64) Datum { return Datum{typ: Int64, i: v} }

// NewUnixMicrosDatum returns a UnixMicros Datum.
func NewUnixMicrosDatum(micros int64) Datum { return Datum{typ: UnixMicros, i: micros} }

// NewStringDatum returns a String Datum.
func NewStringDatum(v string) Datum { return Datum{typ: String, b: []byte(v)} }

// NewBinaryDatum returns a Binary Datum. The bytes are not copied; the
// caller must not mutate them afterwards.
func NewBinaryDatum(v []byte) Datum { return Datum{typ: Binary, b: v} }

// MinDatum returns the smallest representable value of the given type:
// the minimum integer for fixed-width types, the empty value for
// variable-length ones.
func MinDatum(t ColumnType) Datum {
	if t.FixedWidth() {
		return Datum{typ: t, i: typeMin(t)}
	}
	return Datum{typ: t}
}

// Type returns the datum's column type.
func (d Datum) Type() ColumnType { return d.typ }

// Int returns the value of a fixed-width datum.
func (d Datum) Int() int64 { return d.i }

// Bytes returns the value of a variable-length datum. Callers must treat
// the returned slice as read-only.
func (d Datum) Bytes() []byte { return d.b }

func (d Datum) String() string {
	if d.typ.FixedWidth() {
		return fmt.Sprintf("%s %d", d.typ, d.i)
	}
	return fmt.Sprintf("%s %q", d.typ, d.b)
}
