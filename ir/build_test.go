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

package ir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/ir"
)

// buildFile assembles a parent Packet "header" with an 8-bit scalar "kind"
// field and an open payload, plus two children dispatched by a constraint
// on "kind": "hello" (kind == 1, a single static 16-bit field) and
// "world" (kind == 2, no extra fields, same static size as its parent's
// header alone). This mirrors the "child dispatch by scalar constraint"
// scenario.
func buildFile(t *testing.T) *ast.File {
	t.Helper()
	kindField := ast.NewScalarField(0, "kind", 8, nil, ast.Range{})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	parent := ast.NewPacket(0, "header", nil, []ast.Field{kindField, payload}, nil, ast.Range{})

	helloField := ast.NewScalarField(2, "value", 16, nil, ast.Range{})
	parentKey := ast.DeclKey(0)
	hello := ast.NewPacket(1, "hello", &parentKey, []ast.Field{helloField}, []ast.Constraint{
		{FieldName: "kind", IntValue: 1},
	}, ast.Range{})

	world := ast.NewPacket(2, "world", &parentKey, nil, []ast.Constraint{
		{FieldName: "kind", IntValue: 2},
	}, ast.Range{})

	return &ast.File{Decls: []ast.Decl{parent, hello, world}}
}

func TestBuildModuleChildDispatch(t *testing.T) {
	f := buildFile(t)
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)

	mod, err := ir.Build(result)
	require.NoError(t, err)

	parentPlan := mod.Lookup(0)
	require.NotNil(t, parentPlan, "no plan for header")
	require.Equal(t, ir.PayloadOpen, parentPlan.PayloadKind)
	require.Len(t, parentPlan.Children, 2)
	require.Equal(t, "hello", parentPlan.Children[0].Child.Name())
	require.Equal(t, "world", parentPlan.Children[1].Child.Name())
	// hello's total size is its inherited "kind" header (8 bits) plus its
	// own "value" field (16 bits): the inherited Payload placeholder is
	// dropped because hello supplies fields of its own to fill it.
	require.True(t, parentPlan.Children[0].HasStaticSizeBits)
	require.EqualValues(t, 24, parentPlan.Children[0].StaticSizeBits)
	// world declares no fields of its own, so its total size is just the
	// inherited "kind" header.
	require.True(t, parentPlan.Children[1].HasStaticSizeBits)
	require.EqualValues(t, 8, parentPlan.Children[1].StaticSizeBits)

	helloPlan := mod.Lookup(1)
	require.NotNil(t, helloPlan, "no plan for hello")
	// hello inherits "kind" from header (its trailing Payload placeholder
	// dropped in favor of hello's own fields), then its own "value" field.
	require.Len(t, helloPlan.Fields, 2, "hello fields (kind, value)")
	require.Equal(t, "kind", helloPlan.Fields[0].Name())
	require.Equal(t, "value", helloPlan.Fields[1].Name())

	spec := ir.BuildSpecializePlan(parentPlan)
	require.Len(t, spec.Candidates, 2)
}

func TestBuildEncodeAndDecodePlansAgree(t *testing.T) {
	f := buildFile(t)
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	mod, err := ir.Build(result)
	require.NoError(t, err)

	helloPlan := mod.Lookup(1)
	require.NotEmpty(t, helloPlan.Encode, "hello: Encode plan is empty")
	require.NotEmpty(t, helloPlan.Decode, "hello: Decode plan is empty")
	// hello has no payload and no children, so its Decode plan must end by
	// asserting no trailing bytes remain.
	last := helloPlan.Decode[len(helloPlan.Decode)-1]
	require.Equal(t, ir.OpVerifyTrailingBytes, last.Kind)
}

func TestBuildSizePlanStaticDeclarationIsAllLiterals(t *testing.T) {
	f := buildFile(t)
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	mod, err := ir.Build(result)
	require.NoError(t, err)

	helloPlan := mod.Lookup(1)
	bytes, static := helloPlan.Size.Static()
	require.True(t, static, "hello: want a static size plan")
	require.EqualValues(t, 3, bytes, "hello: static bytes (1 for kind + 2 for value)")
}
