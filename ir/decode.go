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

// DecodeOpKind discriminates one step of a Decode routine.
type DecodeOpKind uint8

const (
	OpDecodePacked       DecodeOpKind = iota // read one PackedBits chunk as a single load, then distribute bits to fields
	OpDecodeArray                            // read an array, bounded by a prior header value, a literal count/size, or end-of-buffer
	OpDecodeTypedef                          // delegate to the referenced struct's own Decode
	OpDecodePayload                          // read the open payload, then Specialize
	OpDecodeBody                             // read the closed body: must consume exactly the declared remainder
	OpCheckFixedValue                        // compare a decoded Fixed field against its declared constant
	OpCheckConstraint                        // compare a decoded field against a child's Constraint (part of Specialize)
	OpVerifyChecksum                         // recompute Target's checksum and compare against the decoded value
	OpVerifyTrailingBytes                    // after the last field, assert no bytes remain (top-level decode only)
)

// DecodeOp is one step of a DeclPlan's Decode routine, in consumption order.
type DecodeOp struct {
	Kind  DecodeOpKind
	Field ast.Field
	Chunk *align.Chunk // valid for OpDecodePacked
}

// BuildDecodePlan walks d's chunk sequence and produces the ordered list of
// read operations its Decode routine performs, mirroring BuildEncodePlan:
// a header's value must be read before the field it bounds is reached,
// which chunk order already guarantees since PDL requires headers to
// precede what they describe.
func BuildDecodePlan(d *DeclPlan) []DecodeOp {
	var ops []DecodeOp
	for i := range d.Chunks {
		c := &d.Chunks[i]
		switch {
		case c.Packed != nil:
			ops = append(ops, packedDecodeOps(c)...)
		case c.ByteItem != nil:
			if op, ok := byteDecodeOp(c); ok {
				ops = append(ops, op)
			}
		}
	}
	switch d.PayloadKind {
	case PayloadClosedBody:
		ops = append(ops, DecodeOp{Kind: OpDecodeBody, Field: d.PayloadField})
	case PayloadOpen:
		ops = append(ops, DecodeOp{Kind: OpDecodePayload, Field: d.PayloadField})
	}
	if len(d.Children) == 0 && d.PayloadKind == PayloadNone {
		ops = append(ops, DecodeOp{Kind: OpVerifyTrailingBytes})
	}
	return ops
}

func packedDecodeOps(c *align.Chunk) []DecodeOp {
	ops := []DecodeOp{{Kind: OpDecodePacked, Chunk: c}}
	seen := map[ast.FieldKey]bool{}
	for _, e := range c.Packed.Entries {
		if seen[e.Field.Key()] {
			continue
		}
		seen[e.Field.Key()] = true
		switch e.Field.(type) {
		case *ast.FixedScalarField, *ast.FixedEnumField:
			ops = append(ops, DecodeOp{Kind: OpCheckFixedValue, Field: e.Field})
		}
	}
	return ops
}

// byteDecodeOp maps one byte-aligned chunk to its decode op. ok is false for
// a Payload/Body field's own chunk: BuildDecodePlan appends the authoritative
// OpDecodePayload/OpDecodeBody op once, after this loop (see byteEncodeOp's
// encode-side counterpart for why the planner's own placeholder chunk for it
// is dropped here instead of double-emitted).
func byteDecodeOp(c *align.Chunk) (DecodeOp, bool) {
	switch x := c.ByteItem.Field.(type) {
	case *ast.ArrayField:
		return DecodeOp{Kind: OpDecodeArray, Field: x}, true
	case *ast.TypedefField:
		return DecodeOp{Kind: OpDecodeTypedef, Field: x}, true
	case *ast.ChecksumField:
		return DecodeOp{Kind: OpVerifyChecksum, Field: x}, true
	case *ast.PayloadField, *ast.BodyField:
		return DecodeOp{}, false
	default:
		return DecodeOp{Kind: OpDecodeArray, Field: c.ByteItem.Field}, true
	}
}

// SpecializePlan is the decision procedure a Packet's Decode uses to narrow
// into the most specific matching child, per spec §4.4's open-polymorphism
// rule: try each declared child in order, accept the first whose every
// Constraint matches the already-decoded ancestor fields, recursing into
// that child's own Children before stopping there. A Packet with no
// Children decodes its payload as an opaque byte slice (or, if it is itself
// a chosen child, does not recurse further).
type SpecializePlan struct {
	Candidates []ChildPlan // in declaration order; first full match wins
}

// BuildSpecializePlan returns the candidate list a Packet's Decode tries, in
// the order Specialize must check them.
func BuildSpecializePlan(d *DeclPlan) SpecializePlan {
	return SpecializePlan{Candidates: d.Children}
}
