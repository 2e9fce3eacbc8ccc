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

// Package ir builds the backend core of spec §4.4: for every Packet and
// Struct, a target-language-agnostic plan for its Size, Encode, Decode and
// Specialize routines, derived from the analyzer's Schema and the
// alignment planner's chunk sequence. Rendering glue (render/rust,
// render/java) walks this plan to emit concrete source text; nothing in
// this package produces text itself, the same separation of concerns
// internal/cgen's funk (a per-function plan assembled before any C text is
// written) keeps between planning and rendering.
package ir

import (
	"github.com/google/pdl-compiler/align"
	"github.com/google/pdl-compiler/ast"
)

// ErrorKind is a stable identifier for one of the runtime error kinds a
// generated encoder/decoder can surface (spec §7). These are never Go
// errors: they are rendered as the exhaustive error enum/sealed-exception
// hierarchy of the generated Rust/Java text.
type ErrorKind string

const (
	ErrInvalidLength              ErrorKind = "InvalidLength"
	ErrInvalidEnumValue           ErrorKind = "InvalidEnumValue"
	ErrInvalidFixedValue          ErrorKind = "InvalidFixedValue"
	ErrInvalidFieldValue          ErrorKind = "InvalidFieldValue"
	ErrInvalidArraySize           ErrorKind = "InvalidArraySize"
	ErrTrailingBytes              ErrorKind = "TrailingBytes"
	ErrInvalidChildVariant        ErrorKind = "InvalidChildVariant"
	ErrInvalidScalarValue         ErrorKind = "InvalidScalarValue"
	ErrCountOverflow              ErrorKind = "CountOverflow"
	ErrSizeOverflow               ErrorKind = "SizeOverflow"
	ErrInvalidArrayElementSize    ErrorKind = "InvalidArrayElementSize"
	ErrInconsistentConditionValue ErrorKind = "InconsistentConditionValue"
)

// PayloadKind classifies how (if at all) a declaration's polymorphic
// region is shaped.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadOpen             // a Payload field: framed by a Size/Count header or runs to end-of-buffer
	PayloadClosedBody       // a Body field: must consume exactly the remainder of the buffer
)

// HeaderSource classifies what determines a payload/array region's byte
// extent.
type HeaderSource uint8

const (
	SourceEndOfBuffer HeaderSource = iota
	SourceSizeHeader
	SourceCountHeader
	SourceElementSizeHeader
	SourceLiteral
)

// RegionExtent describes how many bytes (or elements) a variable-length
// region spans.
type RegionExtent struct {
	Source  HeaderSource
	Header  ast.Field // the Size/Count/ElementSize field, when Source is one of those
	Literal uint64    // valid when Source == SourceLiteral
}

// ChildPlan is one candidate variant a Packet may specialize into.
type ChildPlan struct {
	Child             *ast.Packet
	Constraints       []ast.Constraint
	StaticSizeBits    uint64
	HasStaticSizeBits bool
}

// DeclPlan is the full backend-core plan for one Packet or Struct.
type DeclPlan struct {
	Decl   ast.Decl
	Fields []ast.Field // scope.IterFields(Decl): inherited then local, in order
	Chunks []align.Chunk

	PayloadKind   PayloadKind
	PayloadField  ast.Field // the Payload or Body field, if PayloadKind != PayloadNone
	PayloadExtent RegionExtent

	// HeaderStaticBits is the compile-time-known bit width of every field
	// up to (not including) the payload/body, used by encoded_len to
	// account for a parent's static header prefix even when the whole
	// declaration's total size is Dynamic or Unknown.
	HeaderStaticBits uint64

	// Size is the additive decomposition of this declaration's encoded
	// length, derived from Chunks; see BuildSizePlan.
	Size SizePlan

	// Encode and Decode are the ordered operation lists BuildEncodePlan and
	// BuildDecodePlan derive from Chunks; rendering glue walks these rather
	// than re-deriving them from Chunks itself.
	Encode []EncodeOp
	Decode []DecodeOp

	Children   []ChildPlan // only for Packets; declaration order
	Specialize SpecializePlan
}

// Module is the backend-core plan for an entire File.
type Module struct {
	File  *ast.File
	Decls []*DeclPlan // one per Packet/Struct, in file order
}

func (m *Module) Lookup(key ast.DeclKey) *DeclPlan {
	for _, d := range m.Decls {
		if d.Decl.Key() == key {
			return d
		}
	}
	return nil
}
