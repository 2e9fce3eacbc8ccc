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

package analyzer

import "github.com/google/pdl-compiler/ast"

// SizeKind classifies whether a field's or declaration's encoded length is
// known at compile time, computed from another field at runtime, or
// unknowable ahead of decoding (consumes the rest of the buffer).
type SizeKind uint8

const (
	SizeStatic SizeKind = iota
	SizeDynamic
	SizeUnknown
)

func (k SizeKind) String() string {
	switch k {
	case SizeStatic:
		return "static"
	case SizeDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// FieldSize is the Schema entry for a single field.
type FieldSize struct {
	Kind       SizeKind
	Bits       uint64  // valid when Kind == SizeStatic
	PaddedBits uint64  // valid, nonzero, when the field is an array padded to a fixed byte size
	HasPadding bool
}

// Static reports (bits, true) when the field's size is known at compile
// time, mirroring the planner's use of "field_size.static_()".
func (fs FieldSize) Static() (uint64, bool) {
	if fs.Kind == SizeStatic {
		return fs.Bits, true
	}
	return 0, false
}

// DeclSize is the Schema entry for a whole declaration.
type DeclSize struct {
	Kind SizeKind
	Bits uint64 // valid when Kind == SizeStatic
}

// Schema is the Analyzer's output: a size classification for every field
// and declaration in a File. It is built once, then read-only.
type Schema struct {
	Fields map[ast.FieldKey]FieldSize
	Decls  map[ast.DeclKey]DeclSize
}

func newSchema() *Schema {
	return &Schema{
		Fields: make(map[ast.FieldKey]FieldSize),
		Decls:  make(map[ast.DeclKey]DeclSize),
	}
}
