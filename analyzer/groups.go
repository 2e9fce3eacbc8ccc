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

package analyzer

import "github.com/google/pdl-compiler/ast"

// inliner copies Group fields into their usage sites, assigning fresh keys
// to the copies so that the "Field keys are unique within a file" invariant
// survives inlining. The original File is never mutated; inlining produces
// a new File whose Packets and Structs carry flattened Fields slices and no
// GroupField nodes, exactly the shape scope.Scope and the alignment planner
// require ("Group fields are already inlined by the Analyzer").
type inliner struct {
	byKey    map[ast.DeclKey]ast.Decl
	nextKey  ast.FieldKey
	visiting map[ast.DeclKey]bool
	diags    *[]Diagnostic
}

func newInliner(f *ast.File, diags *[]Diagnostic) *inliner {
	in := &inliner{
		byKey:    make(map[ast.DeclKey]ast.Decl, len(f.Decls)),
		visiting: make(map[ast.DeclKey]bool),
		diags:    diags,
	}
	var maxKey ast.FieldKey
	for _, d := range f.Decls {
		in.byKey[d.Key()] = d
		for _, field := range localFieldsOf(d) {
			if field.Key() > maxKey {
				maxKey = field.Key()
			}
		}
	}
	in.nextKey = maxKey + 1
	return in
}

func localFieldsOf(d ast.Decl) []ast.Field {
	switch x := d.(type) {
	case *ast.Packet:
		return x.Fields
	case *ast.Struct:
		return x.Fields
	case *ast.Group:
		return x.Fields
	}
	return nil
}

// Inline returns a File with every GroupField expanded in place.
func (in *inliner) Inline(f *ast.File) *ast.File {
	out := &ast.File{SourceID: f.SourceID, Endian: f.Endian, Comments: f.Comments}
	for _, d := range f.Decls {
		switch x := d.(type) {
		case *ast.Packet:
			fields := in.expand(x.Fields, x.SourceRange())
			out.Decls = append(out.Decls, ast.NewPacket(x.Key(), x.Name(), x.Parent, fields, x.Constraints, x.SourceRange()))
		case *ast.Struct:
			fields := in.expand(x.Fields, x.SourceRange())
			out.Decls = append(out.Decls, ast.NewStruct(x.Key(), x.Name(), x.Parent, fields, x.Constraints, x.SourceRange()))
		case *ast.Group:
			// Groups do not survive into the flattened file.
		default:
			out.Decls = append(out.Decls, d)
		}
	}
	return out
}

func (in *inliner) expand(fields []ast.Field, rng ast.Range) []ast.Field {
	out := make([]ast.Field, 0, len(fields))
	for _, f := range fields {
		gf, ok := f.(*ast.GroupField)
		if !ok {
			out = append(out, f)
			continue
		}
		out = append(out, in.expandGroup(gf, rng)...)
	}
	return out
}

func (in *inliner) expandGroup(gf *ast.GroupField, rng ast.Range) []ast.Field {
	if in.visiting[gf.GroupID] {
		*in.diags = append(*in.diags, errf(KindGroupCycle, rng, "group %d is used, directly or indirectly, inside itself", gf.GroupID))
		return nil
	}
	d, ok := in.byKey[gf.GroupID]
	if !ok {
		*in.diags = append(*in.diags, errf(KindUnknownTypeID, rng, "group field references unknown declaration %d", gf.GroupID))
		return nil
	}
	g, ok := d.(*ast.Group)
	if !ok {
		*in.diags = append(*in.diags, errf(KindUnknownTypeID, rng, "%q is not a group", d.Name()))
		return nil
	}
	in.visiting[gf.GroupID] = true
	defer delete(in.visiting, gf.GroupID)

	expanded := in.expand(g.Fields, rng)

	// Assign every expanded field's new key up front so that remap can
	// rewrite intra-group references (a Condition.Flag, a Size/Count/
	// ElementSize/Checksum Target, a Flag's OptionalFieldIDs) to the
	// corresponding new key instead of leaving them pointing at the
	// group's original, now-reused keys.
	keyMap := make(map[ast.FieldKey]ast.FieldKey, len(expanded))
	newKeys := make([]ast.FieldKey, len(expanded))
	for i, f := range expanded {
		newKeys[i] = in.nextKey
		keyMap[f.Key()] = in.nextKey
		in.nextKey++
	}
	out := make([]ast.Field, len(expanded))
	for i, f := range expanded {
		out[i] = in.remap(f, newKeys[i], keyMap)
	}
	return out
}

// remap copies a field under its freshly allocated key (so a group used at
// two different sites never produces two fields sharing one key), rewriting
// any field key it carries that refers to another field inlined from the
// same group use. A key with no entry in keyMap refers outside the group
// (e.g. a Size header inside the group targeting a field declared on the
// packet itself) and passes through unchanged.
func (in *inliner) remap(f ast.Field, key ast.FieldKey, keyMap map[ast.FieldKey]ast.FieldKey) ast.Field {
	remapKey := func(k ast.FieldKey) ast.FieldKey {
		if nk, ok := keyMap[k]; ok {
			return nk
		}
		return k
	}
	remapCond := func(c *ast.Condition) *ast.Condition {
		if c == nil {
			return nil
		}
		nc := *c
		nc.Flag = remapKey(c.Flag)
		return &nc
	}
	rng := f.SourceRange()
	switch x := f.(type) {
	case *ast.ScalarField:
		return ast.NewScalarField(key, x.Name(), x.Width, remapCond(x.Condition()), rng)
	case *ast.EnumField:
		return ast.NewEnumField(key, x.Name(), x.Width, x.EnumID, remapCond(x.Condition()), rng)
	case *ast.FlagField:
		opts := make([]ast.FieldKey, len(x.OptionalFieldIDs))
		for i, k := range x.OptionalFieldIDs {
			opts[i] = remapKey(k)
		}
		return ast.NewFlagField(key, x.Name(), opts, x.SetValue, remapCond(x.Condition()), rng)
	case *ast.TypedefField:
		return ast.NewTypedefField(key, x.Name(), x.TypeID, remapCond(x.Condition()), rng)
	case *ast.ArrayField:
		return ast.NewArrayField(key, x.Name(), x.ElementWidth, x.ElementTypeID, x.SizeKind, x.Count, x.ByteSize, remapCond(x.Condition()), rng)
	case *ast.SizeField:
		return ast.NewSizeField(key, x.Name(), x.Width, remapKey(x.Target), x.Modifier, remapCond(x.Condition()), rng)
	case *ast.CountField:
		return ast.NewCountField(key, x.Name(), x.Width, remapKey(x.Target), x.Modifier, remapCond(x.Condition()), rng)
	case *ast.ElementSizeField:
		return ast.NewElementSizeField(key, x.Name(), x.Width, remapKey(x.Target), x.Modifier, remapCond(x.Condition()), rng)
	case *ast.PayloadField:
		return ast.NewPayloadField(key, remapCond(x.Condition()), rng)
	case *ast.BodyField:
		return ast.NewBodyField(key, rng)
	case *ast.PaddingField:
		return ast.NewPaddingField(key, x.Size, rng)
	case *ast.ReservedField:
		return ast.NewReservedField(key, x.Width, rng)
	case *ast.FixedScalarField:
		return ast.NewFixedScalarField(key, x.Width, x.Value, rng)
	case *ast.FixedEnumField:
		return ast.NewFixedEnumField(key, x.EnumID, x.TagName, rng)
	case *ast.ChecksumField:
		return ast.NewChecksumField(key, x.Name(), x.ChecksumID, remapKey(x.Target), rng)
	case *ast.GroupField:
		return ast.NewGroupField(key, x.GroupID, x.Constraints, rng)
	}
	return f
}
