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

package testvec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/ir"
	"github.com/google/pdl-compiler/testvec"
)

func buildFooModule(t *testing.T) *ir.Module {
	t.Helper()
	a := ast.NewScalarField(0, "a", 8, nil, ast.Range{})
	pkt := ast.NewPacket(0, "Foo", nil, []ast.Field{a}, nil, ast.Range{})
	f := &ast.File{Decls: []ast.Decl{pkt}}
	result, diags := analyzer.Analyze(f)
	require.False(t, analyzer.HasErrors(diags), "Analyze produced errors: %v", diags)
	mod, err := ir.Build(result)
	require.NoError(t, err)
	return mod
}

func TestParseRejectsOddLengthHex(t *testing.T) {
	_, err := testvec.Parse([]byte(`[{"packet":"Foo","tests":[{"packed":"abc","unpacked":{}}]}]`))
	require.Error(t, err, "Parse accepted an odd-length packed hex string")
}

func TestParseAcceptsWellFormedVectors(t *testing.T) {
	packets, err := testvec.Parse([]byte(`[{"packet":"Foo","tests":[{"packed":"2a","unpacked":{"a":42}}]}]`))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Len(t, packets[0].Tests, 1)
	require.Equal(t, "2a", packets[0].Tests[0].Packed)
}

func TestGenerateRustSkipsUnknownPackets(t *testing.T) {
	mod := buildFooModule(t)
	packets, err := testvec.Parse([]byte(`[
		{"packet":"Foo","tests":[{"packed":"2a","unpacked":{"a":42}}]},
		{"packet":"Bogus","tests":[{"packed":"01","unpacked":{"a":1}}]}
	]`))
	require.NoError(t, err)

	out, err := testvec.GenerateRust(mod, packets)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "test_parse_Foo_vector_1_0x2a"), "GenerateRust output missing Foo test:\n%s", out)
	require.False(t, strings.Contains(out, "Bogus"), "GenerateRust should skip vectors for undeclared packets, got:\n%s", out)
}

func TestGenerateJavaEmitsParseAndSerializeTestsWithFieldAssertions(t *testing.T) {
	mod := buildFooModule(t)
	packets, err := testvec.Parse([]byte(`[{"packet":"Foo","tests":[{"packed":"2a","unpacked":{"a":42}}]}]`))
	require.NoError(t, err)

	out, err := testvec.GenerateJava(mod, packets, "", "GeneratedTests")
	require.NoError(t, err)
	require.Contains(t, out, "void testParseFooVector1Hex2a() throws Exception {")
	require.Contains(t, out, "Foo actual = Foo.decodeFoo(packed);")
	// The decoded scalar field "a" is asserted against the vector's literal
	// value, not just checked for non-null.
	require.Contains(t, out, "assertEquals(42L, (long) actual.getA());")
	require.Contains(t, out, "void testSerializeFooVector1Hex2a() throws Exception {")
	require.Contains(t, out, "assertArrayEquals(packed, actual.encodeFoo());")
}
