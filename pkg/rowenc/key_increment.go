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

// IncrementPrimaryKey replaces cols, in place, with the lexicographically
// smallest tuple strictly greater than it, and reports whether such a tuple
// exists. It is used to turn an inclusive bound into an exclusive one when
// pruning partitions or continuing a scan past a tablet boundary.
//
// Carry propagates right to left over the key columns:
//
//   - A fixed-width column is incremented by one; overflow wraps it to the
//     type's minimum and carries into the previous column.
//   - A variable-length column cannot overflow: appending a single zero
//     byte always yields the immediate successor, so it absorbs any carry.
//
// If the carry passes the leftmost column, every column has wrapped to its
// minimum and IncrementPrimaryKey returns false: the input was the maximum
// representable tuple and the all-minimum tuple left in cols is NOT a valid
// exclusive bound. Callers must check the result before using it.
func IncrementPrimaryKey(cols []Datum) bool {
	for i := len(cols) - 1; i >= 0; i-- {
		d := &cols[i]
		if !d.typ.FixedWidth() {
			// Copy rather than extend in place: the datum may alias bytes
			// owned by the caller.
			next := make([]byte, len(d.b)+1)
			copy(next, d.b)
			d.b = next
			return true
		}
		if d.i == typeMax(d.typ) {
			d.i = typeMin(d.typ)
			continue
		}
		d.i++
		return true
	}
	return false
}
