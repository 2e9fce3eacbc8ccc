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

// Package analyzer runs the single validation pass over a parsed ast.File:
// it resolves names, checks every invariant in spec §3/§4.2, and computes
// the size Schema the alignment planner and backend both depend on. Unlike
// the teacher's lang/check.Check (which returns on the first phase error),
// Analyze keeps validating after a recoverable error so that one call
// reports every independent problem it can find; a Schema is only returned
// once no SeverityError diagnostic was recorded.
package analyzer

import (
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/scope"
)

// Result is everything downstream components (the alignment planner, the
// backend) need: the group-inlined File, a Scope built over it, and the
// size Schema.
type Result struct {
	File   *ast.File
	Scope  *scope.Scope
	Schema *Schema
}

// Analyze validates f and computes its Schema. On any SeverityError
// diagnostic, Result is nil; diagnostics may still contain warnings
// alongside errors, and analysis always finishes the whole validation pass
// before deciding.
func Analyze(f *ast.File) (*Result, []Diagnostic) {
	var diags []Diagnostic

	in := newInliner(f, &diags)
	flat := in.Inline(f)

	sc := scope.New(flat)
	v := &validator{file: flat, sc: sc}
	v.run()
	diags = append(diags, v.diags...)

	if HasErrors(diags) {
		return nil, diags
	}

	schema := computeSchema(flat, sc)
	return &Result{File: flat, Scope: sc, Schema: schema}, diags
}

// computeSchema fills in FieldSize for every field and DeclSize for every
// declaration, per the rules of spec §4.2 "Size computation". It assumes
// the File already passed validation (no cycles, no dangling references),
// so lookups here are unconditional.
func computeSchema(f *ast.File, sc *scope.Scope) *Schema {
	s := newSchema()

	// Fields are independent of declaration order beyond within-declaration
	// Array/Padding adjacency, so a single forward pass per declaration
	// suffices; cross-declaration Typedef/Checksum references are resolved
	// through decl sizes, computed lazily and memoized in s.Decls.
	var declSize func(d ast.Decl) DeclSize
	declSize = func(d ast.Decl) DeclSize {
		if cached, ok := s.Decls[d.Key()]; ok {
			return cached
		}
		var result DeclSize
		switch x := d.(type) {
		case *ast.Enum:
			result = DeclSize{Kind: SizeStatic, Bits: uint64(x.Width)}
		case *ast.CustomField:
			if x.Width != nil {
				result = DeclSize{Kind: SizeStatic, Bits: uint64(*x.Width)}
			} else {
				result = DeclSize{Kind: SizeUnknown}
			}
		case *ast.Checksum:
			result = DeclSize{Kind: SizeStatic, Bits: uint64(x.Width)}
		case *ast.Packet:
			result = sumFields(sc.IterFields(x), sc, s, declSize)
		case *ast.Struct:
			result = sumFields(sc.IterFields(x), sc, s, declSize)
		default:
			result = DeclSize{Kind: SizeUnknown}
		}
		s.Decls[d.Key()] = result
		return result
	}

	for _, d := range f.Decls {
		declSize(d)
		for _, field := range localFieldsOf(d) {
			fieldSize(field, sc, s, declSize)
		}
	}
	for _, d := range f.Decls {
		applyHeaderAndPaddingBounds(localFieldsOf(d), s)
	}
	return s
}

// applyHeaderAndPaddingBounds upgrades an Array field's schema entry from
// Unknown to Dynamic when a Count/Size/ElementSize header elsewhere in the
// same declaration targets it, or when it is immediately followed by a
// Padding field, in which case the padded bound is also recorded in
// HasPadding/PaddedBits (spec §4.3 point 4).
func applyHeaderAndPaddingBounds(fields []ast.Field, s *Schema) {
	targeted := map[ast.FieldKey]bool{}
	for _, f := range fields {
		switch h := f.(type) {
		case *ast.SizeField:
			targeted[h.Target] = true
		case *ast.CountField:
			targeted[h.Target] = true
		case *ast.ElementSizeField:
			targeted[h.Target] = true
		}
	}
	for i, f := range fields {
		arr, ok := f.(*ast.ArrayField)
		if !ok {
			continue
		}
		fs := s.Fields[f.Key()]
		if fs.Kind == SizeUnknown && targeted[f.Key()] {
			fs.Kind = SizeDynamic
			s.Fields[f.Key()] = fs
		}
		if i+1 < len(fields) {
			if pad, ok := fields[i+1].(*ast.PaddingField); ok {
				fs = s.Fields[f.Key()]
				if fs.Kind == SizeUnknown {
					fs.Kind = SizeDynamic
				}
				fs.HasPadding = true
				fs.PaddedBits = pad.Size * 8
				s.Fields[f.Key()] = fs
				// arr is the same *ast.ArrayField node ir.Build and the
				// renderers read PaddedSizeBytes from directly, so this is
				// the one place that field gets populated: neither Build nor
				// render consult the Schema map for it (ast.ArrayField's own
				// doc comment: "set by the analyzer/planner when followed by
				// Padding").
				if arr.PaddedSizeBytes == nil {
					size := pad.Size
					arr.PaddedSizeBytes = &size
				}
			}
		}
	}
}

// sumFields computes a Packet/Struct's total size over its full inherited
// field list (fields should come from scope.Scope.IterFields): static iff
// every field is static, Dynamic if at least one field is Dynamic and none
// are Unknown, otherwise Unknown. A Body field or an open Payload field is
// always Unknown, matching "a parent with an open payload contributes its
// header's static prefix only" — callers that need the static header-only
// prefix read HeaderBits below instead of DeclSize.Bits.
func sumFields(fields []ast.Field, sc *scope.Scope, s *Schema, declSize func(ast.Decl) DeclSize) DeclSize {
	kind := SizeStatic
	var bits uint64
	for _, f := range fields {
		fs := fieldSize(f, sc, s, declSize)
		switch fs.Kind {
		case SizeStatic:
			bits += fs.Bits
		case SizeDynamic:
			if kind == SizeStatic {
				kind = SizeDynamic
			}
		case SizeUnknown:
			kind = SizeUnknown
		}
	}
	return DeclSize{Kind: kind, Bits: bits}
}

// HeaderBits returns the static bit-width of every field in fields up to
// (not including) the first Payload/Body/Unknown-sized field — the
// compile-time-known header prefix of a declaration whose total size is
// not fully static.
func HeaderBits(fields []ast.Field, s *Schema) uint64 {
	var bits uint64
	for _, f := range fields {
		switch f.(type) {
		case *ast.PayloadField, *ast.BodyField:
			return bits
		}
		fs := s.Fields[f.Key()]
		if fs.Kind != SizeStatic {
			return bits
		}
		bits += fs.Bits
	}
	return bits
}

func fieldSize(f ast.Field, sc *scope.Scope, s *Schema, declSize func(ast.Decl) DeclSize) FieldSize {
	if cached, ok := s.Fields[f.Key()]; ok {
		return cached
	}
	var result FieldSize
	switch x := f.(type) {
	case *ast.ScalarField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.EnumField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.FlagField:
		result = FieldSize{Kind: SizeStatic, Bits: 1}
	case *ast.ReservedField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.FixedScalarField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.FixedEnumField:
		if d, ok := sc.LookupKey(x.EnumID); ok {
			result = FieldSize{Kind: SizeStatic, Bits: uint64(d.(*ast.Enum).Width)}
		} else {
			result = FieldSize{Kind: SizeUnknown}
		}
	case *ast.SizeField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.CountField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.ElementSizeField:
		result = FieldSize{Kind: SizeStatic, Bits: uint64(x.Width)}
	case *ast.ChecksumField:
		result = FieldSize{Kind: SizeUnknown}
		if d, ok := sc.LookupKey(x.ChecksumID); ok {
			if cs, ok := d.(*ast.Checksum); ok {
				result = FieldSize{Kind: SizeStatic, Bits: uint64(cs.Width)}
			}
		}
	case *ast.TypedefField:
		d, _ := sc.LookupKey(x.TypeID)
		ds := declSize(d)
		result = FieldSize{Kind: ds.Kind, Bits: ds.Bits}
	case *ast.PayloadField, *ast.BodyField:
		result = FieldSize{Kind: SizeUnknown}
	case *ast.PaddingField:
		result = FieldSize{Kind: SizeStatic, Bits: x.Size * 8}
	case *ast.ArrayField:
		result = arrayFieldSize(x, sc, s, declSize)
	default:
		result = FieldSize{Kind: SizeUnknown}
	}
	s.Fields[f.Key()] = result
	return result
}

func arrayFieldSize(x *ast.ArrayField, sc *scope.Scope, s *Schema, declSize func(ast.Decl) DeclSize) FieldSize {
	elemBits, elemStatic := elementWidthBits(x, sc, declSize)

	switch x.SizeKind {
	case ast.ArraySizeCount:
		if elemStatic {
			return FieldSize{Kind: SizeStatic, Bits: x.Count * elemBits}
		}
		return FieldSize{Kind: SizeDynamic}
	case ast.ArraySizeByteSize:
		return FieldSize{Kind: SizeStatic, Bits: x.ByteSize * 8}
	default:
		// Unbounded in the field's own declaration; a separate Count or
		// Size header targeting this array (checked in validate.go) makes
		// it Dynamic. The planner/backend resolve that via the owning
		// declaration's header fields, not via this per-field schema
		// entry, so conservatively report Unknown here.
		return FieldSize{Kind: SizeUnknown}
	}
}

func elementWidthBits(x *ast.ArrayField, sc *scope.Scope, declSize func(ast.Decl) DeclSize) (uint64, bool) {
	if x.ElementWidth != nil {
		return uint64(*x.ElementWidth), true
	}
	if x.ElementTypeID != nil {
		if d, ok := sc.LookupKey(*x.ElementTypeID); ok {
			ds := declSize(d)
			if ds.Kind == SizeStatic {
				return ds.Bits, true
			}
		}
	}
	return 0, false
}
