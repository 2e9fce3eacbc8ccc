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
	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
)

// SizeTermKind discriminates one addend of a declaration's encoded_len
// expression.
type SizeTermKind uint8

const (
	SizeTermLiteral  SizeTermKind = iota // a compile-time-known number of bytes
	SizeTermField                        // a field's own runtime encoded length (variable-width array/typedef)
	SizeTermPayload                      // the payload/body's runtime length
)

// SizeTerm is one addend of a DeclPlan's total encoded length.
type SizeTerm struct {
	Kind    SizeTermKind
	Bytes   uint64    // valid when Kind == SizeTermLiteral
	Field   ast.Field // valid when Kind == SizeTermField
}

// SizePlan is the additive decomposition of a declaration's encoded_len:
// sum the Bytes of every Literal term, plus the runtime length of every
// Field/Payload term. Static declarations consist of Literal terms only,
// one per chunk.
type SizePlan struct {
	Terms []SizeTerm
}

// Static reports the plan's total length when every term is a compile-time
// literal.
func (p SizePlan) Static() (uint64, bool) {
	var total uint64
	for _, t := range p.Terms {
		if t.Kind != SizeTermLiteral {
			return 0, false
		}
		total += t.Bytes
	}
	return total, true
}

// BuildSizePlan walks a DeclPlan's chunk sequence and produces the additive
// size expression its encoded_len routine evaluates. PackedBits chunks
// always contribute a literal (their WidthBytes); Bytes chunks contribute a
// literal when the schema already knows the field's static byte width
// (a fixed-size array, or a typedef of a static-sized struct), and a Field
// term otherwise.
func BuildSizePlan(d *DeclPlan, schema *analyzer.Schema) SizePlan {
	var plan SizePlan
	for _, c := range d.Chunks {
		switch {
		case c.Packed != nil:
			plan.Terms = append(plan.Terms, SizeTerm{Kind: SizeTermLiteral, Bytes: c.Packed.WidthBytes})
		case c.ByteItem != nil:
			switch c.ByteItem.Field.(type) {
			case *ast.PayloadField, *ast.BodyField:
				// Counted once below via the explicit SizeTermPayload term,
				// not via the planner's own placeholder chunk for it.
			default:
				plan.Terms = append(plan.Terms, byteChunkSizeTerm(c.ByteItem, schema))
			}
		}
	}
	if d.PayloadKind != PayloadNone {
		plan.Terms = append(plan.Terms, SizeTerm{Kind: SizeTermPayload, Field: d.PayloadField})
	}
	return plan
}

func byteChunkSizeTerm(b *align.Bytes, schema *analyzer.Schema) SizeTerm {
	if fs, ok := schema.Fields[b.Field.Key()]; ok {
		if bits, static := fs.Static(); static {
			bytes := bits / 8
			if fs.HasPadding && fs.PaddedBits/8 > bytes {
				bytes = fs.PaddedBits / 8
			}
			return SizeTerm{Kind: SizeTermLiteral, Bytes: bytes}
		}
	}
	return SizeTerm{Kind: SizeTermField, Field: b.Field}
}
