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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, cols ...Datum) []byte {
	t.Helper()
	key, err := EncodePrimaryKey(cols)
	require.NoError(t, err)
	return key
}

func TestEncodePrimaryKeyBytes(t *testing.T) {
	testCases := []struct {
		cols     []Datum
		expected []byte
	}{
		{[]Datum{NewInt8Datum(0)}, []byte{0x80}},
		{[]Datum{NewInt8Datum(-128)}, []byte{0x00}},
		{[]Datum{NewInt8Datum(127)}, []byte{0xff}},
		{[]Datum{NewInt16Datum(1)}, []byte{0x80, 0x01}},
		{[]Datum{NewInt32Datum(1000)}, []byte{0x80, 0x00, 0x03, 0xe8}},
		{[]Datum{NewInt64Datum(-1)}, []byte{0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{[]Datum{NewUnixMicrosDatum(0)}, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}},
		// A terminal string column is encoded raw.
		{[]Datum{NewStringDatum("abc")}, []byte("abc")},
		{[]Datum{NewBinaryDatum([]byte{0x00, 0xff})}, []byte{0x00, 0xff}},
		// A non-terminal string column is terminated with \x00\x00 and
		// embedded zeros are escaped as \x00\x01.
		{
			[]Datum{NewStringDatum("ab"), NewInt8Datum(0)},
			[]byte{'a', 'b', 0x00, 0x00, 0x80},
		},
		{
			[]Datum{NewStringDatum("a\x00b"), NewInt8Datum(0)},
			[]byte{'a', 0x00, 0x01, 'b', 0x00, 0x00, 0x80},
		},
		{
			[]Datum{NewStringDatum(""), NewStringDatum("x")},
			[]byte{0x00, 0x00, 'x'},
		},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, mustEncode(t, tc.cols...), "encoding %v", tc.cols)
	}
}

func TestEncodePrimaryKeyEmptyTuple(t *testing.T) {
	_, err := EncodePrimaryKey(nil)
	require.Error(t, err)
}

// TestEncodePrimaryKeyOrdering checks that byte-wise comparison of encoded
// keys reproduces the tuples' logical order. The tuples below are listed in
// strictly increasing logical order.
func TestEncodePrimaryKeyOrdering(t *testing.T) {
	ordered := [][]Datum{
		{NewInt32Datum(math.MinInt32), NewStringDatum("")},
		{NewInt32Datum(-5), NewStringDatum("z")},
		{NewInt32Datum(0), NewStringDatum("")},
		{NewInt32Datum(0), NewStringDatum("a")},
		// "a\x00..." must sort between "a" and "aa": the escape must not
		// push a value with an embedded zero past its neighbors.
		{NewInt32Datum(0), NewStringDatum("a\x00x")},
		{NewInt32Datum(0), NewStringDatum("aa")},
		{NewInt32Datum(1), NewStringDatum("")},
		{NewInt32Datum(math.MaxInt32), NewStringDatum("x")},
	}
	var prev []byte
	for i, cols := range ordered {
		// Append a trailing column so every listed column is non-terminal.
		key := mustEncode(t, append(cols, NewInt8Datum(0))...)
		if i > 0 {
			require.Equalf(t, -1, bytes.Compare(prev, key),
				"tuple %d did not encode strictly greater than its predecessor", i)
		}
		prev = key
	}
}
