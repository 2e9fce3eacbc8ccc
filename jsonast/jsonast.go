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

// Package jsonast renders an ast.File as the bit-exact JSON AST dump
// produced by the driver's `json` command. Every declaration and
// field carries its own "kind" discriminant string plus a source Range; the
// shape mirrors the declared and field variants one-for-one rather than
// reflecting over the ast package's Go types, so adding a Go-only helper
// method to ast never perturbs the dump.
package jsonast

import (
	"encoding/json"

	"github.com/google/pdl-compiler/ast"
)

// Position is a zero-based offset/line/column triple.
type Position struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open source span.
type Range struct {
	File  string   `json:"file"`
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func dumpRange(r ast.Range) Range {
	return Range{
		File:  r.File,
		Start: Position{Offset: r.StartOffset, Line: r.StartLine, Column: r.StartColumn},
		End:   Position{Offset: r.EndOffset, Line: r.EndLine, Column: r.EndColumn},
	}
}

// Comment is a top-level source comment, a sibling of the declaration array.
type Comment struct {
	Text  string `json:"text"`
	Range Range  `json:"range"`
}

// File is the root of the JSON AST dump.
type File struct {
	Endian       string    `json:"endian"`
	Declarations []*Decl   `json:"declarations"`
	Comments     []Comment `json:"comments"`
}

// Tag is one variant of an enum_declaration's "tags" array.
type Tag struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Value  uint64 `json:"value,omitempty"`
	Lo     uint64 `json:"lo,omitempty"`
	Hi     uint64 `json:"hi,omitempty"`
	Nested []Tag  `json:"nested,omitempty"`
	Range  Range  `json:"range"`
}

// Constraint is a child packet's equality assertion on an inherited field.
type Constraint struct {
	FieldName string `json:"field_name"`
	IsEnumTag bool   `json:"is_enum_tag,omitempty"`
	IntValue  uint64 `json:"int_value,omitempty"`
	TagName   string `json:"tag_name,omitempty"`
	Range     Range  `json:"range"`
}

// Condition is a field's optional presence predicate.
type Condition struct {
	Flag  string `json:"flag"`
	Value uint8  `json:"value"`
}

// TestCase is one (packed, unpacked) vector attached to a test_declaration.
type TestCase struct {
	Packed   string          `json:"packed"`
	Unpacked json.RawMessage `json:"unpacked"`
	Packet   string          `json:"packet,omitempty"`
}

// Decl is the JSON shape of every declaration variant: the discriminant and
// identifier are always present, every other field is present only for the
// kinds that declare it.
type Decl struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Range Range  `json:"range"`

	// enum_declaration
	Width *uint8 `json:"width,omitempty"`
	Tags  []Tag  `json:"tags,omitempty"`

	// packet_declaration, struct_declaration
	Parent      string       `json:"parent,omitempty"`
	Fields      []*FieldJSON `json:"fields,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`

	// group_declaration
	// (reuses Fields above)

	// custom_field_declaration, checksum_declaration
	Function string `json:"function,omitempty"`

	// test_declaration
	Target    string     `json:"target,omitempty"`
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// FieldJSON is the JSON shape of every field variant.
type FieldJSON struct {
	Kind      string     `json:"kind"`
	Name      string     `json:"name,omitempty"`
	Range     Range      `json:"range"`
	Condition *Condition `json:"condition,omitempty"`

	Width *uint8 `json:"width,omitempty"`

	// enum_field, typedef_field, fixed_field (enum variant), checksum_field
	TypeName string `json:"type_name,omitempty"`

	// flag_field
	OptionalFieldNames []string `json:"optional_field_names,omitempty"`
	SetValue           uint8    `json:"set_value,omitempty"`

	// array_field
	ElementWidth    *uint8 `json:"element_width,omitempty"`
	ElementTypeName string `json:"element_type_name,omitempty"`
	SizeKind        string `json:"size_kind,omitempty"`
	Count           uint64 `json:"count,omitempty"`
	ByteSize        uint64 `json:"byte_size,omitempty"`
	PaddedSizeBytes *uint64 `json:"padded_size_bytes,omitempty"`

	// size_field, count_field, elementsize_field
	Target   string `json:"target,omitempty"`
	Modifier int64  `json:"modifier,omitempty"`

	// padding_field
	Size uint64 `json:"size,omitempty"`

	// fixed_field (scalar variant)
	Value uint64 `json:"value,omitempty"`

	// fixed_field (enum variant)
	TagName string `json:"tag_name,omitempty"`

	// checksum_field
	ChecksumName string `json:"checksum_name,omitempty"`

	// group_field
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Dump renders f into the bit-exact JSON AST shape.
func Dump(f *ast.File) *File {
	names := make(map[ast.DeclKey]string, len(f.Decls))
	for _, d := range f.Decls {
		names[d.Key()] = d.Name()
	}

	out := &File{Endian: f.Endian.String()}
	for _, c := range f.Comments {
		out.Comments = append(out.Comments, Comment{Text: c.Text, Range: dumpRange(c.Range)})
	}
	for _, d := range f.Decls {
		out.Declarations = append(out.Declarations, dumpDecl(d, names))
	}
	return out
}

// Marshal renders f as indented JSON bytes, matching the driver's
// `json` command.
func Marshal(f *ast.File) ([]byte, error) {
	return json.MarshalIndent(Dump(f), "", "  ")
}

func dumpDecl(d ast.Decl, names map[ast.DeclKey]string) *Decl {
	out := &Decl{Kind: d.Kind().String(), Name: d.Name(), Range: dumpRange(d.SourceRange())}

	switch x := d.(type) {
	case *ast.Enum:
		w := x.Width
		out.Width = &w
		out.Tags = dumpTags(x.Tags)
	case *ast.Packet:
		if x.Parent != nil {
			out.Parent = names[*x.Parent]
		}
		out.Fields = dumpFields(x.Fields, names)
		out.Constraints = dumpConstraints(x.Constraints)
	case *ast.Struct:
		if x.Parent != nil {
			out.Parent = names[*x.Parent]
		}
		out.Fields = dumpFields(x.Fields, names)
		out.Constraints = dumpConstraints(x.Constraints)
	case *ast.Group:
		out.Fields = dumpFields(x.Fields, names)
	case *ast.CustomField:
		out.Width = x.Width
		out.Function = x.Function
	case *ast.Checksum:
		w := x.Width
		out.Width = &w
		out.Function = x.Function
	case *ast.Test:
		out.Target = names[x.Target]
		for _, tc := range x.Cases {
			out.TestCases = append(out.TestCases, TestCase{
				Packed:   tc.PackedHex,
				Unpacked: json.RawMessage(tc.UnpackedRaw),
				Packet:   tc.ChildName,
			})
		}
	}
	return out
}

func dumpTags(tags []ast.Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		jt := Tag{Kind: tagKindString(t.Kind), Name: t.Name, Range: dumpRange(t.Range)}
		switch t.Kind {
		case ast.TagValue:
			jt.Value = t.Value
		case ast.TagRange:
			jt.Lo, jt.Hi = t.Lo, t.Hi
			jt.Nested = dumpTags(t.Nested)
		}
		out = append(out, jt)
	}
	return out
}

func tagKindString(k ast.TagKind) string {
	switch k {
	case ast.TagValue:
		return "value"
	case ast.TagRange:
		return "range"
	default:
		return "other"
	}
}

func dumpConstraints(cs []ast.Constraint) []Constraint {
	out := make([]Constraint, 0, len(cs))
	for _, c := range cs {
		out = append(out, Constraint{
			FieldName: c.FieldName,
			IsEnumTag: c.IsEnumTag,
			IntValue:  c.IntValue,
			TagName:   c.TagName,
			Range:     dumpRange(c.Range),
		})
	}
	return out
}

func dumpCondition(c *ast.Condition, fieldNames map[ast.FieldKey]string) *Condition {
	if c == nil {
		return nil
	}
	return &Condition{Flag: fieldNames[c.Flag], Value: c.Value}
}

func dumpFields(fields []ast.Field, names map[ast.DeclKey]string) []*FieldJSON {
	fieldNames := make(map[ast.FieldKey]string, len(fields))
	for _, f := range fields {
		fieldNames[f.Key()] = f.Name()
	}

	out := make([]*FieldJSON, 0, len(fields))
	for _, f := range fields {
		out = append(out, dumpField(f, names, fieldNames))
	}
	return out
}

func targetName(key ast.FieldKey, fieldNames map[ast.FieldKey]string) string {
	if key == ast.PayloadTargetKey {
		return "_payload_"
	}
	return fieldNames[key]
}

func dumpField(f ast.Field, declNames map[ast.DeclKey]string, fieldNames map[ast.FieldKey]string) *FieldJSON {
	out := &FieldJSON{
		Kind:      f.Kind().String(),
		Name:      f.Name(),
		Range:     dumpRange(f.SourceRange()),
		Condition: dumpCondition(f.Condition(), fieldNames),
	}

	switch x := f.(type) {
	case *ast.ScalarField:
		out.Width = &x.Width
	case *ast.EnumField:
		out.Width = &x.Width
		out.TypeName = declNames[x.EnumID]
	case *ast.FlagField:
		for _, id := range x.OptionalFieldIDs {
			out.OptionalFieldNames = append(out.OptionalFieldNames, fieldNames[id])
		}
		out.SetValue = x.SetValue
	case *ast.TypedefField:
		out.TypeName = declNames[x.TypeID]
	case *ast.ArrayField:
		out.ElementWidth = x.ElementWidth
		if x.ElementTypeID != nil {
			out.ElementTypeName = declNames[*x.ElementTypeID]
		}
		out.SizeKind = arraySizeKindString(x.SizeKind)
		out.Count = x.Count
		out.ByteSize = x.ByteSize
		out.PaddedSizeBytes = x.PaddedSizeBytes
	case *ast.SizeField:
		out.Width = &x.Width
		out.Target = targetName(x.Target, fieldNames)
		out.Modifier = int64(x.Modifier)
	case *ast.CountField:
		out.Width = &x.Width
		out.Target = targetName(x.Target, fieldNames)
		out.Modifier = int64(x.Modifier)
	case *ast.ElementSizeField:
		out.Width = &x.Width
		out.Target = targetName(x.Target, fieldNames)
		out.Modifier = int64(x.Modifier)
	case *ast.PaddingField:
		out.Size = x.Size
	case *ast.ReservedField:
		out.Width = &x.Width
	case *ast.FixedScalarField:
		out.Width = &x.Width
		out.Value = x.Value
	case *ast.FixedEnumField:
		out.TypeName = declNames[x.EnumID]
		out.TagName = x.TagName
	case *ast.ChecksumField:
		out.ChecksumName = declNames[x.ChecksumID]
		out.Target = targetName(x.Target, fieldNames)
	case *ast.GroupField:
		out.TypeName = declNames[x.GroupID]
		out.Constraints = dumpConstraints(x.Constraints)
	}
	return out
}

func arraySizeKindString(k ast.ArraySizeKind) string {
	switch k {
	case ast.ArraySizeCount:
		return "count"
	case ast.ArraySizeByteSize:
		return "byte_size"
	default:
		return "unbounded"
	}
}
