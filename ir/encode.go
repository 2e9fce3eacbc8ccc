// Copyright 2024 The PDL Compiler Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

import (
	"github.com/google/pdl-compiler/align"
	"github.com/google/pdl-compiler/ast"
)

// EncodeOpKind discriminates one step of an Encode routine.
type EncodeOpKind uint8

const (
	OpEncodePacked    EncodeOpKind = iota // write one PackedBits chunk as a single little/big-endian store
	OpEncodeArray                         // write an array's elements, then any header targeting it has already been written
	OpEncodeTypedef                       // delegate to the referenced struct's own Encode
	OpEncodePayload                       // write the open payload: either the specialized child's encoding, or raw bytes
	OpEncodeBody                          // write the closed body: must consume exactly the declared remainder
	OpWriteSizeHeader                     // compute and write a Size/Count/ElementSize header's wire value
	OpWriteChecksum                       // invoke the checksum function over Target's byte span and write its result
)

// EncodeOp is one step of a DeclPlan's Encode routine, in emission order.
type EncodeOp struct {
	Kind  EncodeOpKind
	Field ast.Field    // the field this op writes, or the header/checksum field for OpWriteSizeHeader/OpWriteChecksum
	Chunk *align.Chunk // valid for OpEncodePacked
}

// BuildEncodePlan walks d's chunk sequence and produces the ordered list of
// write operations its Encode routine performs: one op per chunk, plus an
// OpWriteSizeHeader/OpWriteChecksum op interleaved wherever a header or
// checksum field's own chunk is reached (its value is computed from
// whatever it targets, which comes later in chunk order, since headers
// precede the field or payload they describe; the target's length is
// taken from the value being encoded, not from bytes already written).
func BuildEncodePlan(d *DeclPlan) []EncodeOp {
	var ops []EncodeOp
	for i := range d.Chunks {
		c := &d.Chunks[i]
		switch {
		case c.Packed != nil:
			ops = append(ops, packedEncodeOps(c)...)
		case c.ByteItem != nil:
			if op, ok := byteEncodeOp(c); ok {
				ops = append(ops, op)
			}
		}
	}
	if d.PayloadKind == PayloadClosedBody {
		ops = append(ops, EncodeOp{Kind: OpEncodeBody, Field: d.PayloadField})
	} else if d.PayloadKind == PayloadOpen {
		ops = append(ops, EncodeOp{Kind: OpEncodePayload, Field: d.PayloadField})
	}
	return ops
}

func packedEncodeOps(c *align.Chunk) []EncodeOp {
	var ops []EncodeOp
	seen := map[ast.FieldKey]bool{}
	for _, e := range c.Packed.Entries {
		if seen[e.Field.Key()] {
			continue
		}
		seen[e.Field.Key()] = true
		switch e.Field.(type) {
		case *ast.SizeField, *ast.CountField, *ast.ElementSizeField:
			ops = append(ops, EncodeOp{Kind: OpWriteSizeHeader, Field: e.Field})
		}
	}
	ops = append(ops, EncodeOp{Kind: OpEncodePacked, Chunk: c})
	return ops
}

// byteEncodeOp maps one byte-aligned chunk to its encode op. ok is false for
// a Payload/Body field's own chunk: BuildEncodePlan appends the authoritative
// OpEncodePayload/OpEncodeBody op once, after this loop, so the placeholder
// the alignment planner produces for it here is dropped rather than
// double-emitted.
func byteEncodeOp(c *align.Chunk) (EncodeOp, bool) {
	switch x := c.ByteItem.Field.(type) {
	case *ast.ArrayField:
		return EncodeOp{Kind: OpEncodeArray, Field: x}, true
	case *ast.TypedefField:
		return EncodeOp{Kind: OpEncodeTypedef, Field: x}, true
	case *ast.ChecksumField:
		return EncodeOp{Kind: OpWriteChecksum, Field: x}, true
	case *ast.PayloadField, *ast.BodyField:
		return EncodeOp{}, false
	default:
		return EncodeOp{Kind: OpEncodeArray, Field: c.ByteItem.Field}, true
	}
}
