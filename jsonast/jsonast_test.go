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

package jsonast_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/jsonast"
)

func TestDumpPacketFieldsAndKinds(t *testing.T) {
	kindField := ast.NewScalarField(0, "kind", 8, nil, ast.Range{File: "x.pdl", StartLine: 1})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	parent := ast.NewPacket(0, "header", nil, []ast.Field{kindField, payload}, nil, ast.Range{})

	parentKey := ast.DeclKey(0)
	value := ast.NewScalarField(2, "value", 16, nil, ast.Range{})
	child := ast.NewPacket(1, "hello", &parentKey, []ast.Field{value}, []ast.Constraint{
		{FieldName: "kind", IntValue: 1},
	}, ast.Range{})

	f := &ast.File{
		Endian:   ast.LittleEndian,
		Decls:    []ast.Decl{parent, child},
		Comments: []ast.Comment{{Text: "hello world"}},
	}

	dump := jsonast.Dump(f)
	require.Equal(t, "little_endian", dump.Endian)
	require.Len(t, dump.Declarations, 2)
	require.Len(t, dump.Comments, 1)
	require.Equal(t, "hello world", dump.Comments[0].Text)

	headerDecl := dump.Declarations[0]
	require.Equal(t, "packet_declaration", headerDecl.Kind)
	require.Len(t, headerDecl.Fields, 2)
	require.Equal(t, "scalar_field", headerDecl.Fields[0].Kind)
	require.Equal(t, "payload_field", headerDecl.Fields[1].Kind)
	require.NotNil(t, headerDecl.Fields[0].Width)
	require.EqualValues(t, 8, *headerDecl.Fields[0].Width)

	childDecl := dump.Declarations[1]
	require.Equal(t, "header", childDecl.Parent)
	require.Len(t, childDecl.Constraints, 1)
	require.Equal(t, "kind", childDecl.Constraints[0].FieldName)

	// Marshal must produce valid, stable JSON.
	raw, err := jsonast.Marshal(f)
	require.NoError(t, err)
	var roundTrip map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &roundTrip), "Marshal produced invalid JSON")
}

func TestLoadIsInverseOfMarshal(t *testing.T) {
	kindField := ast.NewScalarField(0, "kind", 8, nil, ast.Range{})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	parent := ast.NewPacket(0, "header", nil, []ast.Field{kindField, payload}, nil, ast.Range{})

	parentKey := ast.DeclKey(0)
	value := ast.NewScalarField(2, "value", 16, nil, ast.Range{})
	child := ast.NewPacket(1, "hello", &parentKey, []ast.Field{value}, []ast.Constraint{
		{FieldName: "kind", IntValue: 1},
	}, ast.Range{})

	f := &ast.File{Endian: ast.LittleEndian, Decls: []ast.Decl{parent, child}}

	raw, err := jsonast.Marshal(f)
	require.NoError(t, err)

	loaded, err := jsonast.Load(raw)
	require.NoError(t, err)
	require.Len(t, loaded.Decls, 2)
	require.Equal(t, "header", loaded.Decls[0].Name())
	require.Equal(t, "hello", loaded.Decls[1].Name())

	loadedChild, ok := loaded.Decls[1].(*ast.Packet)
	require.True(t, ok, "hello loaded as %T, want *ast.Packet", loaded.Decls[1])
	require.NotNil(t, loadedChild.Parent)
	require.Equal(t, ast.DeclKey(0), *loadedChild.Parent)
	require.Len(t, loadedChild.Constraints, 1)
	require.Equal(t, "kind", loadedChild.Constraints[0].FieldName)

	// Re-dumping the loaded file should reproduce the same declaration kinds
	// and field shapes (keys are reassigned, so full byte-equality is not
	// expected, but the semantic shape must match).
	raw2, err := jsonast.Marshal(loaded)
	require.NoError(t, err)
	loaded2, err := jsonast.Load(raw2)
	require.NoError(t, err)
	require.Len(t, loaded2.Decls, len(loaded.Decls), "round-trip changed declaration count")
}

func TestDumpSizeFieldTargetsPayloadPlaceholder(t *testing.T) {
	size := ast.NewSizeField(0, "size", 8, ast.PayloadTargetKey, 1, nil, ast.Range{})
	payload := ast.NewPayloadField(1, nil, ast.Range{})
	pkt := ast.NewPacket(0, "framed", nil, []ast.Field{size, payload}, nil, ast.Range{})
	f := &ast.File{Decls: []ast.Decl{pkt}}

	dump := jsonast.Dump(f)
	sizeField := dump.Declarations[0].Fields[0]
	require.Equal(t, "_payload_", sizeField.Target)
	require.EqualValues(t, 1, sizeField.Modifier)
}

func TestDumpAndLoadRoundTripFlagFieldOptionalFieldReferences(t *testing.T) {
	// A Flag's OptionalFieldIDs must round-trip through field *names*, like
	// every other cross-field reference (Condition.Flag, Size/Count/
	// ElementSize/Checksum Target) — not raw internal keys, which Load
	// reassigns from scratch in file order and so would point at the wrong
	// field after reloading.
	extra := ast.NewScalarField(1, "extra", 8, &ast.Condition{Flag: 0, Value: 1}, ast.Range{})
	flag := ast.NewFlagField(0, "has_extra", []ast.FieldKey{1}, 1, nil, ast.Range{})
	pkt := ast.NewPacket(0, "framed", nil, []ast.Field{flag, extra}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{pkt}}

	dump := jsonast.Dump(f)
	flagJSON := dump.Declarations[0].Fields[0]
	require.Equal(t, "flag_field", flagJSON.Kind)
	require.Equal(t, []string{"extra"}, flagJSON.OptionalFieldNames)

	raw, err := jsonast.Marshal(f)
	require.NoError(t, err)
	loaded, err := jsonast.Load(raw)
	require.NoError(t, err)

	loadedPkt, ok := loaded.Decls[0].(*ast.Packet)
	require.True(t, ok, "framed loaded as %T, want *ast.Packet", loaded.Decls[0])
	loadedFlag, ok := loadedPkt.Fields[0].(*ast.FlagField)
	require.True(t, ok, "field loaded as %T, want *ast.FlagField", loadedPkt.Fields[0])
	require.Len(t, loadedFlag.OptionalFieldIDs, 1)
	loadedExtra := loadedPkt.Fields[1]
	require.Equal(t, loadedExtra.Key(), loadedFlag.OptionalFieldIDs[0], "OptionalFieldIDs[0] should resolve to the reloaded extra field's new key")
}

func TestDumpAndLoadRoundTripGroupFieldConstraints(t *testing.T) {
	// GroupField.Constraints is a per-use-site annotation on the placeholder
	// field itself (distinct from a Packet/Struct's own Constraints), and
	// must survive a dump/load round trip even though expandGroup does not
	// currently act on it.
	flag := ast.NewScalarField(0, "kind", 8, nil, ast.Range{})
	group := ast.NewGroup(0, "body", []ast.Field{flag}, ast.Range{})

	use := ast.NewGroupField(1, group.Key(), []ast.Constraint{{FieldName: "kind", IntValue: 7}}, ast.Range{})
	pkt := ast.NewPacket(1, "framed", nil, []ast.Field{use}, nil, ast.Range{})

	f := &ast.File{Decls: []ast.Decl{group, pkt}}

	dump := jsonast.Dump(f)
	groupFieldJSON := dump.Declarations[1].Fields[0]
	require.Equal(t, "group_field", groupFieldJSON.Kind)
	require.Len(t, groupFieldJSON.Constraints, 1)
	require.Equal(t, "kind", groupFieldJSON.Constraints[0].FieldName)
	require.EqualValues(t, 7, groupFieldJSON.Constraints[0].IntValue)

	raw, err := jsonast.Marshal(f)
	require.NoError(t, err)
	loaded, err := jsonast.Load(raw)
	require.NoError(t, err)

	loadedPkt, ok := loaded.Decls[1].(*ast.Packet)
	require.True(t, ok, "framed loaded as %T, want *ast.Packet", loaded.Decls[1])
	loadedGroupField, ok := loadedPkt.Fields[0].(*ast.GroupField)
	require.True(t, ok, "field loaded as %T, want *ast.GroupField", loadedPkt.Fields[0])
	require.Len(t, loadedGroupField.Constraints, 1)
	require.Equal(t, "kind", loadedGroupField.Constraints[0].FieldName)
	require.EqualValues(t, 7, loadedGroupField.Constraints[0].IntValue)
}

func TestLoadRejectsUnresolvedTarget(t *testing.T) {
	// "count" targets a field name that doesn't exist in this declaration;
	// Load must report it rather than silently resolving to field key 0.
	raw := []byte(`{
		"endian": "little_endian",
		"declarations": [
			{
				"kind": "packet_declaration",
				"name": "framed",
				"fields": [
					{"kind": "count_field", "name": "count", "width": 8, "target": "elems"},
					{"kind": "array_field", "name": "items", "element_width": 8, "size_kind": "unbounded"}
				]
			}
		]
	}`)
	_, err := jsonast.Load(raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "elems")
}
