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

package rowenc

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/kestreldb/kestrel-go/pkg/kestrelpb"
)

// Variable-length columns that are not the last key column are terminated
// with \x00\x00 so that no value's encoding is a prefix of another's in a
// way that breaks ordering. An embedded \x00 is escaped as \x00\x01, which
// keeps the terminator unambiguous while preserving byte order:
//
//	""       -> \x00\x00
//	"a"      -> a \x00\x00
//	"a\x00b" -> a \x00\x01 b \x00\x00
const (
	escapeByte     byte = 0x00
	escapedZero    byte = 0x01
	terminatorByte byte = 0x00
)

// EncodePrimaryKey encodes an ordered tuple of typed column values into a
// single byte string whose byte-wise order equals the tuple's logical
// primary-key order. The last column, if variable-length, is appended raw:
// nothing follows it, so no terminator is needed and none must be added,
// or the encoding would disagree with the server's partition bounds.
func EncodePrimaryKey(cols []Datum) (kestrelpb.EncodedKey, error) {
	if len(cols) == 0 {
		return nil, errors.New("cannot encode an empty primary key tuple")
	}
	var buf []byte
	for i, d := range cols {
		buf = encodeColumn(buf, d, i == len(cols)-1)
	}
	return buf, nil
}

func encodeColumn(b []byte, d Datum, isLast bool) []byte {
	switch d.typ {
	case Int8:
		return append(b, byte(uint8(d.i))^0x80)
	case Int16:
		v := uint16(d.i) ^ 0x8000
		return append(b, byte(v>>8), byte(v))
	case Int32:
		return encodeUint32(b, uint32(d.i)^0x80000000)
	case Int64, UnixMicros:
		return encodeUint64(b, uint64(d.i)^0x8000000000000000)
	case String, Binary:
		if isLast {
			return append(b, d.b...)
		}
		return encodeEscapedBytes(b, d.b)
	default:
		panic(errors.AssertionFailedf("unhandled column type %s", d.typ))
	}
}

// encodeUint32 encodes v using a big-endian 4 byte representation,
// appending to the supplied buffer.
func encodeUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// encodeUint64 encodes v using a big-endian 8 byte representation,
// appending to the supplied buffer.
func encodeUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func encodeEscapedBytes(b []byte, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, escapeByte)
		if i == -1 {
			break
		}
		b = append(b, data[:i]...)
		b = append(b, escapeByte, escapedZero)
		data = data[i+1:]
	}
	b = append(b, data...)
	return append(b, escapeByte, terminatorByte)
}
