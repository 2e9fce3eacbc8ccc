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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/ast"
)

func TestExcludeDeclsDropsNamedDeclarations(t *testing.T) {
	a := ast.NewPacket(0, "Foo", nil, nil, nil, ast.Range{})
	b := ast.NewPacket(1, "Bar", nil, nil, nil, ast.Range{})
	out := excludeDecls([]ast.Decl{a, b}, []string{"Bar"})
	require.Len(t, out, 1)
	require.Equal(t, "Foo", out[0].Name())
}

func TestExcludeDeclsNoOpWhenNothingExcluded(t *testing.T) {
	a := ast.NewPacket(0, "Foo", nil, nil, nil, ast.Range{})
	out := excludeDecls([]ast.Decl{a}, nil)
	require.Len(t, out, 1)
}

func TestWriteOutputCreatesDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested")
	require.NoError(t, writeOutput(target, "out.txt", []byte("hello")))
	data, err := os.ReadFile(filepath.Join(target, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestStringListAccumulates(t *testing.T) {
	var s stringList
	require.NoError(t, s.Set("a"))
	require.NoError(t, s.Set("b"))
	require.Equal(t, stringList{"a", "b"}, s)
}
