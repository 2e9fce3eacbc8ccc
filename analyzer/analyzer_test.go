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

package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
)

func TestAnalyzeChildDeclSizeIncludesInheritedHeader(t *testing.T) {
	kind := ast.NewScalarField(0, "kind", 8, nil, ast.Range{})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	parent := ast.NewPacket(0, "header", nil, []ast.Field{kind, payload}, nil, ast.Range{})

	parentKey := ast.DeclKey(0)
	value := ast.NewScalarField(2, "value", 16, nil, ast.Range{})
	child := ast.NewPacket(1, "hello", &parentKey, []ast.Field{value}, []ast.Constraint{
		{FieldName: "kind", IntValue: 1},
	}, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{parent, child}}
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)

	parentSize := result.Schema.Decls[0]
	require.Equal(t, analyzer.SizeUnknown, parentSize.Kind, "header's total size kind (open payload)")
	require.EqualValues(t, 8, parentSize.Bits, "header's static prefix")

	childSize := result.Schema.Decls[1]
	require.Equal(t, analyzer.SizeStatic, childSize.Kind, "hello's total size kind")
	require.EqualValues(t, 24, childSize.Bits, "hello's total size (8 inherited + 16 own)")
}

func TestAnalyzeRejectsAmbiguousArraySize(t *testing.T) {
	elemWidth := uint8(8)
	arr := ast.NewArrayField(0, "payload", &elemWidth, nil, ast.ArraySizeUnbounded, 0, 0, nil, ast.Range{})
	count := ast.NewCountField(1, "count", 8, 0, 0, nil, ast.Range{})
	size := ast.NewSizeField(2, "size", 8, 0, 0, nil, ast.Range{})
	pkt := ast.NewPacket(0, "ambiguous", nil, []ast.Field{count, size, arr}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{pkt}}
	_, diags := analyzer.Analyze(f)
	found := false
	for _, d := range diags {
		if d.Kind == analyzer.KindAmbiguousArraySize {
			found = true
		}
	}
	require.True(t, found, "want a KindAmbiguousArraySize diagnostic, got %v", diags)
}

func TestAnalyzeRejectsCountHeaderTargetingNonArrayField(t *testing.T) {
	// A Count header only has meaning against an Array (it records an
	// element count, which ir.Encode only ever computes for ArrayFields);
	// targeting any other field, here a plain 16-bit Scalar, must be
	// rejected.
	checksum := ast.NewScalarField(0, "crc", 16, nil, ast.Range{})
	count := ast.NewCountField(1, "count", 8, 0, 0, nil, ast.Range{})
	pkt := ast.NewPacket(0, "bad", nil, []ast.Field{count, checksum}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{pkt}}
	_, diags := analyzer.Analyze(f)
	found := false
	for _, d := range diags {
		if d.Kind == analyzer.KindSizeFieldTargetInvalid {
			found = true
		}
	}
	require.True(t, found, "want a KindSizeFieldTargetInvalid diagnostic, got %v", diags)
}

func TestAnalyzeAllowsSizeHeaderTargetingTypedefField(t *testing.T) {
	// A Size header's broader target set (Array, Typedef, Checksum) must
	// still be accepted; only Count/ElementSize are restricted to Array.
	custom := ast.NewCustomField(0, "Crc32", nil, "crc32", ast.Range{})
	size := ast.NewSizeField(0, "size", 8, 1, 0, nil, ast.Range{})
	typedef := ast.NewTypedefField(1, "crc", custom.Key(), nil, ast.Range{})
	pkt := ast.NewPacket(1, "ok", nil, []ast.Field{size, typedef}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{custom, pkt}}
	_, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
}

func TestAnalyzeInlinesGroupFlagConditionAcrossTwoUseSites(t *testing.T) {
	// The group declares a flag guarding a conditionally-present field; both
	// carry keys that only make sense within the group's own declaration.
	// Inlining must rewrite the condition's Flag reference to whichever new
	// key the flag field gets at each use site, not leave it pointing at the
	// group's original key.
	flag := ast.NewFlagField(10, "has_extra", []ast.FieldKey{11}, 1, nil, ast.Range{})
	extra := ast.NewScalarField(11, "extra", 8, &ast.Condition{Flag: 10, Value: 1}, ast.Range{})
	group := ast.NewGroup(0, "maybe_extra", []ast.Field{flag, extra}, ast.Range{})

	use1 := ast.NewGroupField(0, group.Key(), nil, ast.Range{})
	pkt1 := ast.NewPacket(1, "first", nil, []ast.Field{use1}, nil, ast.Range{})

	use2 := ast.NewGroupField(1, group.Key(), nil, ast.Range{})
	pkt2 := ast.NewPacket(2, "second", nil, []ast.Field{use2}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{group, pkt1, pkt2}}
	_, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	for _, d := range diags {
		require.NotEqual(t, analyzer.KindOrphanFlagReference, d.Kind, "unexpected orphan-flag diagnostic: %v", d)
	}
}
