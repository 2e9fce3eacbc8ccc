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

package jsonast

import (
	"encoding/json"
	"fmt"

	"github.com/google/pdl-compiler/ast"
)

// Load is the inverse of Dump/Marshal: it reconstructs an ast.File from the
// JSON AST shape. The concrete PDL surface syntax and its parser are outside
// this module's scope (spec §2), so the JSON AST dump doubles as the
// driver's only supported textual input format — Load is what makes the
// `json` command's output usable as a subsequent `-input` file.
// Declaration and field keys are assigned here, in file order, exactly as a
// real parser would.
func Load(data []byte) (*ast.File, error) {
	var raw File
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("jsonast: parsing JSON AST: %w", err)
	}

	declKeys := make(map[string]ast.DeclKey, len(raw.Declarations))
	for i, d := range raw.Declarations {
		declKeys[d.Name] = ast.DeclKey(i)
	}

	f := &ast.File{Endian: endianFromString(raw.Endian)}
	for _, c := range raw.Comments {
		f.Comments = append(f.Comments, ast.Comment{Text: c.Text, Range: loadRange(c.Range)})
	}

	nextFieldKey := ast.FieldKey(0)
	for i, d := range raw.Declarations {
		decl, err := loadDecl(ast.DeclKey(i), d, declKeys, &nextFieldKey)
		if err != nil {
			return nil, fmt.Errorf("jsonast: declaration %q: %w", d.Name, err)
		}
		f.Decls = append(f.Decls, decl)
	}
	return f, nil
}

func endianFromString(s string) ast.Endian {
	if s == "big_endian" {
		return ast.BigEndian
	}
	return ast.LittleEndian
}

func loadRange(r Range) ast.Range {
	return ast.Range{
		File:        r.File,
		StartOffset: r.Start.Offset, StartLine: r.Start.Line, StartColumn: r.Start.Column,
		EndOffset: r.End.Offset, EndLine: r.End.Line, EndColumn: r.End.Column,
	}
}

func loadDecl(key ast.DeclKey, d *Decl, declKeys map[string]ast.DeclKey, nextFieldKey *ast.FieldKey) (ast.Decl, error) {
	rng := loadRange(d.Range)
	switch d.Kind {
	case "enum_declaration":
		w := uint8(0)
		if d.Width != nil {
			w = *d.Width
		}
		return ast.NewEnum(key, d.Name, w, loadTags(d.Tags), rng), nil
	case "packet_declaration", "struct_declaration":
		var parent *ast.DeclKey
		if d.Parent != "" {
			pk, ok := declKeys[d.Parent]
			if !ok {
				return nil, fmt.Errorf("references unknown parent declaration %q", d.Parent)
			}
			parent = &pk
		}
		fields, err := loadFields(d.Fields, declKeys, nextFieldKey)
		if err != nil {
			return nil, err
		}
		constraints := loadConstraints(d.Constraints)
		if d.Kind == "struct_declaration" {
			return ast.NewStruct(key, d.Name, parent, fields, constraints, rng), nil
		}
		return ast.NewPacket(key, d.Name, parent, fields, constraints, rng), nil
	case "group_declaration":
		fields, err := loadFields(d.Fields, declKeys, nextFieldKey)
		if err != nil {
			return nil, err
		}
		return ast.NewGroup(key, d.Name, fields, rng), nil
	case "custom_field_declaration":
		return ast.NewCustomField(key, d.Name, d.Width, d.Function, rng), nil
	case "checksum_declaration":
		w := uint8(0)
		if d.Width != nil {
			w = *d.Width
		}
		return ast.NewChecksum(key, d.Name, w, d.Function, rng), nil
	case "test_declaration":
		target, err := lookupDecl(d.Target, declKeys)
		if err != nil {
			return nil, err
		}
		var cases []ast.TestCase
		for _, tc := range d.TestCases {
			cases = append(cases, ast.TestCase{PackedHex: tc.Packed, UnpackedRaw: string(tc.Unpacked), ChildName: tc.Packet})
		}
		return ast.NewTest(key, d.Name, target, cases, rng), nil
	default:
		return nil, fmt.Errorf("unknown declaration kind %q", d.Kind)
	}
}

func loadTags(tags []Tag) []ast.Tag {
	out := make([]ast.Tag, 0, len(tags))
	for _, t := range tags {
		at := ast.Tag{Name: t.Name, Value: t.Value, Lo: t.Lo, Hi: t.Hi, Range: loadRange(t.Range)}
		switch t.Kind {
		case "value":
			at.Kind = ast.TagValue
		case "range":
			at.Kind = ast.TagRange
			at.Nested = loadTags(t.Nested)
		default:
			at.Kind = ast.TagOther
		}
		out = append(out, at)
	}
	return out
}

func loadConstraints(cs []Constraint) []ast.Constraint {
	out := make([]ast.Constraint, 0, len(cs))
	for _, c := range cs {
		out = append(out, ast.Constraint{
			FieldName: c.FieldName,
			IsEnumTag: c.IsEnumTag,
			IntValue:  c.IntValue,
			TagName:   c.TagName,
			Range:     loadRange(c.Range),
		})
	}
	return out
}

func loadFields(fields []*FieldJSON, declKeys map[string]ast.DeclKey, nextFieldKey *ast.FieldKey) ([]ast.Field, error) {
	fieldKeys := make(map[string]ast.FieldKey, len(fields))
	keys := make([]ast.FieldKey, len(fields))
	for i, f := range fields {
		keys[i] = *nextFieldKey
		*nextFieldKey++
		if f.Name != "" {
			fieldKeys[f.Name] = keys[i]
		}
	}

	out := make([]ast.Field, 0, len(fields))
	for i, f := range fields {
		field, err := loadField(keys[i], f, declKeys, fieldKeys)
		if err != nil {
			return nil, err
		}
		out = append(out, field)
	}
	return out, nil
}

func loadCondition(c *Condition, fieldKeys map[string]ast.FieldKey) (*ast.Condition, error) {
	if c == nil {
		return nil, nil
	}
	flag, ok := fieldKeys[c.Flag]
	if !ok {
		return nil, fmt.Errorf("condition references unknown field %q", c.Flag)
	}
	return &ast.Condition{Flag: flag, Value: c.Value}, nil
}

func loadTarget(name string, fieldKeys map[string]ast.FieldKey) (ast.FieldKey, error) {
	if name == "_payload_" {
		return ast.PayloadTargetKey, nil
	}
	k, ok := fieldKeys[name]
	if !ok {
		return 0, fmt.Errorf("references unknown field %q", name)
	}
	return k, nil
}

func lookupDecl(name string, declKeys map[string]ast.DeclKey) (ast.DeclKey, error) {
	k, ok := declKeys[name]
	if !ok {
		return 0, fmt.Errorf("references unknown declaration %q", name)
	}
	return k, nil
}

func loadField(key ast.FieldKey, f *FieldJSON, declKeys map[string]ast.DeclKey, fieldKeys map[string]ast.FieldKey) (ast.Field, error) {
	cond, err := loadCondition(f.Condition, fieldKeys)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	rng := loadRange(f.Range)

	switch f.Kind {
	case "scalar_field":
		return ast.NewScalarField(key, f.Name, widthOr(f.Width, 0), cond, rng), nil
	case "enum_field":
		enumID, err := lookupDecl(f.TypeName, declKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewEnumField(key, f.Name, widthOr(f.Width, 0), enumID, cond, rng), nil
	case "flag_field":
		var optional []ast.FieldKey
		for _, name := range f.OptionalFieldNames {
			k, ok := fieldKeys[name]
			if !ok {
				return nil, fmt.Errorf("field %q: references unknown field %q", f.Name, name)
			}
			optional = append(optional, k)
		}
		return ast.NewFlagField(key, f.Name, optional, f.SetValue, cond, rng), nil
	case "typedef_field":
		typeID, err := lookupDecl(f.TypeName, declKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewTypedefField(key, f.Name, typeID, cond, rng), nil
	case "array_field":
		var elementTypeID *ast.DeclKey
		if f.ElementTypeName != "" {
			id, err := lookupDecl(f.ElementTypeName, declKeys)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			elementTypeID = &id
		}
		sizeKind := ast.ArraySizeUnbounded
		switch f.SizeKind {
		case "count":
			sizeKind = ast.ArraySizeCount
		case "byte_size":
			sizeKind = ast.ArraySizeByteSize
		}
		arr := ast.NewArrayField(key, f.Name, f.ElementWidth, elementTypeID, sizeKind, f.Count, f.ByteSize, cond, rng)
		arr.PaddedSizeBytes = f.PaddedSizeBytes
		return arr, nil
	case "size_field":
		target, err := loadTarget(f.Target, fieldKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewSizeField(key, f.Name, widthOr(f.Width, 0), target, ast.SizeModifier(f.Modifier), cond, rng), nil
	case "count_field":
		target, err := loadTarget(f.Target, fieldKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewCountField(key, f.Name, widthOr(f.Width, 0), target, ast.SizeModifier(f.Modifier), cond, rng), nil
	case "elementsize_field":
		target, err := loadTarget(f.Target, fieldKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewElementSizeField(key, f.Name, widthOr(f.Width, 0), target, ast.SizeModifier(f.Modifier), cond, rng), nil
	case "payload_field":
		return ast.NewPayloadField(key, cond, rng), nil
	case "body_field":
		return ast.NewBodyField(key, rng), nil
	case "padding_field":
		return ast.NewPaddingField(key, f.Size, rng), nil
	case "reserved_field":
		return ast.NewReservedField(key, widthOr(f.Width, 0), rng), nil
	case "fixed_field":
		if f.TypeName != "" {
			enumID, err := lookupDecl(f.TypeName, declKeys)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			return ast.NewFixedEnumField(key, enumID, f.TagName, rng), nil
		}
		return ast.NewFixedScalarField(key, widthOr(f.Width, 0), f.Value, rng), nil
	case "checksum_field":
		checksumID, err := lookupDecl(f.ChecksumName, declKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		target, err := loadTarget(f.Target, fieldKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewChecksumField(key, f.Name, checksumID, target, rng), nil
	case "group_field":
		groupID, err := lookupDecl(f.TypeName, declKeys)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return ast.NewGroupField(key, groupID, loadConstraints(f.Constraints), rng), nil
	default:
		return nil, fmt.Errorf("unknown field kind %q", f.Kind)
	}
}

func widthOr(w *uint8, fallback uint8) uint8 {
	if w == nil {
		return fallback
	}
	return *w
}
