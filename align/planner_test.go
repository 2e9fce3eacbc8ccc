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

package align_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/align"
	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/scope"
)

// TestPlanComplexScalarChunk builds the a:3,b:8,c:5,d:24,e:12,f:4 packet
// from the universal property scenario and checks that the planner emits
// exactly three PackedBits chunks, flushing on every byte boundary rather
// than greedily filling to 64 bits.
func TestPlanComplexScalarChunk(t *testing.T) {
	fields := []ast.Field{
		ast.NewScalarField(0, "a", 3, nil, ast.Range{}),
		ast.NewScalarField(1, "b", 8, nil, ast.Range{}),
		ast.NewScalarField(2, "c", 5, nil, ast.Range{}),
		ast.NewScalarField(3, "d", 24, nil, ast.Range{}),
		ast.NewScalarField(4, "e", 12, nil, ast.Range{}),
		ast.NewScalarField(5, "f", 4, nil, ast.Range{}),
	}
	pkt := ast.NewPacket(0, "complex_scalar", nil, fields, nil, ast.Range{})
	f := &ast.File{Decls: []ast.Decl{pkt}}
	sc := scope.New(f)

	schema := &analyzer.Schema{Fields: map[ast.FieldKey]analyzer.FieldSize{}, Decls: map[ast.DeclKey]analyzer.DeclSize{}}
	for _, field := range fields {
		sf := field.(*ast.ScalarField)
		schema.Fields[sf.Key()] = analyzer.FieldSize{Kind: analyzer.SizeStatic, Bits: uint64(sf.Width)}
	}

	chunks, err := align.Plan(fields, schema, sc)
	require.NoError(t, err)

	// a(3)+b(8)+c(5) = 16 bits -> first chunk.
	// d(24) = 24 bits, byte-aligned on its own -> second chunk.
	// e(12)+f(4) = 16 bits -> third chunk.
	require.Len(t, chunks, 3)
	wantBytes := []uint64{2, 3, 2}
	for i, c := range chunks {
		require.NotNil(t, c.Packed, "chunk %d: want a PackedBits chunk", i)
		require.Equal(t, wantBytes[i], c.Packed.WidthBytes, "chunk %d width bytes", i)
	}
	require.Len(t, chunks[0].Packed.Entries, 3, "chunk 0 entries")
	require.Len(t, chunks[2].Packed.Entries, 2, "chunk 2 entries")
}

// TestChunkWidthBytesHandles24Bits checks the spec's explicit 24-bit
// exception to power-of-two rounding.
func TestChunkWidthBytesHandles24Bits(t *testing.T) {
	cases := map[uint64]uint64{
		1:  1,
		8:  1,
		9:  2,
		16: 2,
		17: 4,
		24: 3,
		32: 4,
		33: 8,
		64: 8,
	}
	for bits, want := range cases {
		require.Equal(t, want, align.ChunkWidthBytes(bits), "ChunkWidthBytes(%d)", bits)
	}
}

// TestPlanSplitsFieldAcrossChunkBoundary exercises a bit-field whose width
// does not fit in the remaining room of the current 64-bit chunk: it must
// be split into a low piece finishing the current chunk and a high piece
// starting the next one.
func TestPlanSplitsFieldAcrossChunkBoundary(t *testing.T) {
	fields := []ast.Field{
		ast.NewScalarField(0, "lead", 60, nil, ast.Range{}),
		ast.NewScalarField(1, "split", 20, nil, ast.Range{}),
	}
	pkt := ast.NewPacket(0, "split_case", nil, fields, nil, ast.Range{})
	f := &ast.File{Decls: []ast.Decl{pkt}}
	sc := scope.New(f)

	schema := &analyzer.Schema{Fields: map[ast.FieldKey]analyzer.FieldSize{}, Decls: map[ast.DeclKey]analyzer.DeclSize{}}
	schema.Fields[0] = analyzer.FieldSize{Kind: analyzer.SizeStatic, Bits: 60}
	schema.Fields[1] = analyzer.FieldSize{Kind: analyzer.SizeStatic, Bits: 20}

	chunks, err := align.Plan(fields, schema, sc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	first := chunks[0].Packed
	require.NotNil(t, first, "chunk 0: want a PackedBits chunk")
	require.EqualValues(t, 64, first.WidthBits, "chunk 0: want a 64-bit PackedBits chunk")
	last := first.Entries[len(first.Entries)-1]
	require.True(t, last.IsPartial && last.PartialLow && last.Width == 4, "chunk 0's split entry = %+v, want a 4-bit low partial", last)

	second := chunks[1].Packed
	require.NotNil(t, second, "chunk 1: want a PackedBits chunk")
	require.EqualValues(t, 16, second.WidthBits, "chunk 1: want a 16-bit PackedBits chunk")
	head := second.Entries[0]
	require.True(t, head.IsPartial && !head.PartialLow && head.Width == 16 && head.SymbolOffset == 4,
		"chunk 1's split entry = %+v, want a 16-bit high partial at symbol offset 4", head)
}
