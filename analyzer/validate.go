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

import (
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/scope"
)

// validator runs the 8 ordered validations of spec §4.2 over an
// already-group-inlined File, appending to a shared diagnostics slice. Each
// validation step runs in full even if an earlier one produced errors, so
// that a single Analyze call reports as many independent problems as it
// can; only the final decision of whether to emit a Schema depends on
// whether any SeverityError diagnostic was recorded.
type validator struct {
	file  *ast.File
	sc    *scope.Scope
	diags []Diagnostic
}

func (v *validator) run() {
	v.checkDuplicateNames()
	v.checkTypeReferences()
	v.checkCycles()
	v.checkEnums()
	v.checkConstraints()
	v.checkFlags()
	v.checkSizeHeaders()
	v.checkPayloads()
}

// 1. Duplicate declaration names within a file.
func (v *validator) checkDuplicateNames() {
	seen := map[string]ast.Decl{}
	for _, d := range v.file.Decls {
		if prev, ok := seen[d.Name()]; ok {
			v.diags = append(v.diags, Diagnostic{
				Kind: KindDuplicateDeclaration, Severity: SeverityError,
				Message:   "duplicate declaration name " + d.Name(),
				Primary:   d.SourceRange(),
				Secondary: []ast.Range{prev.SourceRange()},
			})
			continue
		}
		seen[d.Name()] = d
	}
}

// 2. Every referenced type id resolves.
func (v *validator) checkTypeReferences() {
	for _, d := range v.file.Decls {
		switch x := d.(type) {
		case *ast.Packet:
			v.requireDecl(x.Parent, x.SourceRange())
			v.checkFieldTypeReferences(x.Fields)
		case *ast.Struct:
			v.requireDecl(x.Parent, x.SourceRange())
			v.checkFieldTypeReferences(x.Fields)
		}
	}
}

func (v *validator) checkFieldTypeReferences(fields []ast.Field) {
	for _, f := range fields {
		switch x := f.(type) {
		case *ast.EnumField:
			v.requireEnum(x.EnumID, x.SourceRange())
		case *ast.TypedefField:
			v.requireAnyDecl(x.TypeID, x.SourceRange())
		case *ast.ArrayField:
			if x.ElementTypeID != nil {
				v.requireAnyDecl(*x.ElementTypeID, x.SourceRange())
			}
		case *ast.FixedEnumField:
			v.requireEnum(x.EnumID, x.SourceRange())
		}
	}
}

func (v *validator) requireDecl(key *ast.DeclKey, rng ast.Range) {
	if key == nil {
		return
	}
	if _, ok := v.sc.LookupKey(*key); !ok {
		v.diags = append(v.diags, errf(KindUnknownTypeID, rng, "unknown parent declaration %d", *key))
	}
}

func (v *validator) requireAnyDecl(key ast.DeclKey, rng ast.Range) {
	if _, ok := v.sc.LookupKey(key); !ok {
		v.diags = append(v.diags, errf(KindUnknownTypeID, rng, "unknown type id %d", key))
	}
}

func (v *validator) requireEnum(key ast.DeclKey, rng ast.Range) {
	d, ok := v.sc.LookupKey(key)
	if !ok {
		v.diags = append(v.diags, errf(KindUnknownTypeID, rng, "unknown enum id %d", key))
		return
	}
	if _, ok := d.(*ast.Enum); !ok {
		v.diags = append(v.diags, errf(KindUnknownTypeID, rng, "%q is not an enum", d.Name()))
	}
}

// 3. No cycles in parent chains or in Typedef references between Structs.
func (v *validator) checkCycles() {
	for _, d := range v.file.Decls {
		switch d.(type) {
		case *ast.Packet, *ast.Struct:
			v.checkParentCycle(d)
		}
	}
	for _, d := range v.file.Decls {
		if s, ok := d.(*ast.Struct); ok {
			v.checkTypedefCycle(s, map[ast.DeclKey]bool{})
		}
	}
}

func (v *validator) checkParentCycle(d ast.Decl) {
	seen := map[ast.DeclKey]bool{d.Key(): true}
	cur := d
	for {
		var parent *ast.DeclKey
		switch x := cur.(type) {
		case *ast.Packet:
			parent = x.Parent
		case *ast.Struct:
			parent = x.Parent
		}
		if parent == nil {
			return
		}
		next, ok := v.sc.LookupKey(*parent)
		if !ok {
			return // already reported by checkTypeReferences
		}
		if seen[next.Key()] {
			v.diags = append(v.diags, errf(KindInheritanceCycle, d.SourceRange(), "inheritance cycle through %q", next.Name()))
			return
		}
		seen[next.Key()] = true
		cur = next
	}
}

func (v *validator) checkTypedefCycle(s *ast.Struct, visiting map[ast.DeclKey]bool) {
	if visiting[s.Key()] {
		v.diags = append(v.diags, errf(KindInheritanceCycle, s.SourceRange(), "typedef cycle through %q", s.Name()))
		return
	}
	visiting[s.Key()] = true
	defer delete(visiting, s.Key())
	for _, f := range s.Fields {
		td, ok := f.(*ast.TypedefField)
		if !ok {
			continue
		}
		d, ok := v.sc.LookupKey(td.TypeID)
		if !ok {
			continue
		}
		if inner, ok := d.(*ast.Struct); ok {
			v.checkTypedefCycle(inner, visiting)
		}
	}
}

// 4. Enum tag values fit in the declared width; explicit Value tags are
// unique; Range tags are disjoint and contained in [0, 2^width); nested
// sub-tags fall within their enclosing range.
func (v *validator) checkEnums() {
	for _, d := range v.file.Decls {
		e, ok := d.(*ast.Enum)
		if !ok {
			continue
		}
		max := maxUint(e.Width)
		seenValues := map[uint64]bool{}
		type span struct{ lo, hi uint64 }
		var ranges []span
		for _, tag := range e.Tags {
			switch tag.Kind {
			case ast.TagValue:
				if tag.Value > max {
					v.diags = append(v.diags, errf(KindEnumTagOverflow, tag.Range, "tag %q value %d does not fit in %d bits", tag.Name, tag.Value, e.Width))
				}
				if seenValues[tag.Value] {
					v.diags = append(v.diags, errf(KindEnumTagDuplicate, tag.Range, "duplicate tag value %d", tag.Value))
				}
				seenValues[tag.Value] = true
			case ast.TagRange:
				if tag.Hi > max {
					v.diags = append(v.diags, errf(KindEnumTagOverflow, tag.Range, "tag %q range [%d, %d] does not fit in %d bits", tag.Name, tag.Lo, tag.Hi, e.Width))
				}
				if tag.Lo > tag.Hi {
					v.diags = append(v.diags, errf(KindEnumTagOverflow, tag.Range, "tag %q has an empty range [%d, %d]", tag.Name, tag.Lo, tag.Hi))
				}
				for _, other := range ranges {
					if tag.Lo <= other.hi && other.lo <= tag.Hi {
						v.diags = append(v.diags, errf(KindEnumTagOverlap, tag.Range, "tag %q range [%d, %d] overlaps another range", tag.Name, tag.Lo, tag.Hi))
					}
				}
				ranges = append(ranges, span{tag.Lo, tag.Hi})
				for _, nested := range tag.Nested {
					if nested.Kind != ast.TagValue {
						continue
					}
					if nested.Value < tag.Lo || nested.Value > tag.Hi {
						v.diags = append(v.diags, errf(KindEnumTagOverflow, nested.Range, "nested tag %q value %d falls outside enclosing range [%d, %d]", nested.Name, nested.Value, tag.Lo, tag.Hi))
					}
				}
			}
		}
	}
}

func maxUint(width uint8) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// 5. Constraints name reachable fields of the correct kind; integer values
// fit the field width; enum-tag references resolve.
func (v *validator) checkConstraints() {
	for _, d := range v.file.Decls {
		var constraints []ast.Constraint
		var rng ast.Range
		switch x := d.(type) {
		case *ast.Packet:
			constraints, rng = x.Constraints, x.SourceRange()
		case *ast.Struct:
			constraints, rng = x.Constraints, x.SourceRange()
		default:
			continue
		}
		ancestorFields := v.ancestorFieldsByName(d)
		for _, c := range constraints {
			target, ok := ancestorFields[c.FieldName]
			if !ok {
				v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint references unknown ancestor field %q", c.FieldName))
				continue
			}
			v.checkConstraintAgainstField(c, target, rng)
		}
	}
}

func (v *validator) checkConstraintAgainstField(c ast.Constraint, target ast.Field, rng ast.Range) {
	switch x := target.(type) {
	case *ast.ScalarField:
		if c.IsEnumTag {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint on scalar field %q cannot use an enum tag", c.FieldName))
		} else if c.IntValue > maxUint(x.Width) {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint value %d does not fit field %q (width %d)", c.IntValue, c.FieldName, x.Width))
		}
	case *ast.SizeField, *ast.CountField, *ast.ElementSizeField:
		if c.IsEnumTag {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint on %q cannot use an enum tag", c.FieldName))
		}
	case *ast.EnumField:
		if !c.IsEnumTag {
			return
		}
		ed, ok := v.sc.LookupKey(x.EnumID)
		if !ok {
			return
		}
		e := ed.(*ast.Enum)
		if !enumHasTag(e, c.TagName) {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint references unknown tag %q of enum %q", c.TagName, e.Name()))
		}
	case *ast.TypedefField:
		td, ok := v.sc.LookupKey(x.TypeID)
		if !ok {
			return
		}
		e, ok := td.(*ast.Enum)
		if !ok {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint on typedef field %q requires an enum-typed target", c.FieldName))
			return
		}
		if c.IsEnumTag && !enumHasTag(e, c.TagName) {
			v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "constraint references unknown tag %q of enum %q", c.TagName, e.Name()))
		}
	default:
		v.diags = append(v.diags, errf(KindConstraintMismatch, rng, "field %q cannot carry a constraint", c.FieldName))
	}
}

func enumHasTag(e *ast.Enum, name string) bool {
	var walk func(tags []ast.Tag) bool
	walk = func(tags []ast.Tag) bool {
		for _, t := range tags {
			if t.Name == name {
				return true
			}
			if walk(t.Nested) {
				return true
			}
		}
		return false
	}
	return walk(e.Tags)
}

func (v *validator) ancestorFieldsByName(d ast.Decl) map[string]ast.Field {
	out := map[string]ast.Field{}
	parent, ok := v.sc.Parent(d)
	if !ok {
		return out
	}
	for _, f := range v.sc.IterFields(parent) {
		if f.Name() != "" {
			out[f.Name()] = f
		}
	}
	return out
}

// 6. Flag fields have width 1 (enforced by construction: FlagField has no
// Width member); their optional_field_ids exist, follow the Flag in field
// order, and carry matching presence conditions.
func (v *validator) checkFlags() {
	for _, d := range v.file.Decls {
		fields := localDeclFields(d)
		if fields == nil {
			continue
		}
		index := map[ast.FieldKey]int{}
		for i, f := range fields {
			index[f.Key()] = i
		}
		for i, f := range fields {
			flag, ok := f.(*ast.FlagField)
			if !ok {
				continue
			}
			for _, optKey := range flag.OptionalFieldIDs {
				j, ok := index[optKey]
				if !ok {
					v.diags = append(v.diags, errf(KindOrphanFlagReference, flag.SourceRange(), "flag %q references a field not present in this declaration", flag.Name()))
					continue
				}
				if j <= i {
					v.diags = append(v.diags, errf(KindOrphanFlagReference, flag.SourceRange(), "flag %q must precede the fields it guards", flag.Name()))
					continue
				}
				cond := fields[j].Condition()
				if cond == nil || cond.Flag != flag.Key() || cond.Value != flag.SetValue {
					v.diags = append(v.diags, errf(KindOrphanFlagReference, fields[j].SourceRange(), "field %q does not carry the presence condition its flag %q declares", fields[j].Name(), flag.Name()))
				}
			}
		}
	}
}

func localDeclFields(d ast.Decl) []ast.Field {
	switch x := d.(type) {
	case *ast.Packet:
		return x.Fields
	case *ast.Struct:
		return x.Fields
	}
	return nil
}

// 7. Within each declaration, Size/Count/ElementSize references resolve
// and the referenced field is of the permitted kind. Also rejects an array
// targeted by both a Count and a Size header (spec §9 Open Question: treat
// as an analyzer error).
func (v *validator) checkSizeHeaders() {
	for _, d := range v.file.Decls {
		fields := localDeclFields(d)
		if fields == nil {
			continue
		}
		index := map[ast.FieldKey]ast.Field{}
		for _, f := range fields {
			index[f.Key()] = f
		}
		countTargets := map[ast.FieldKey]bool{}
		sizeTargets := map[ast.FieldKey]bool{}
		for _, f := range fields {
			switch h := f.(type) {
			case *ast.SizeField:
				v.checkHeaderTarget(h.Target, index, h.SourceRange(), headerKindSize)
				sizeTargets[h.Target] = true
			case *ast.CountField:
				v.checkHeaderTarget(h.Target, index, h.SourceRange(), headerKindCount)
				countTargets[h.Target] = true
			case *ast.ElementSizeField:
				v.checkHeaderTarget(h.Target, index, h.SourceRange(), headerKindElementSize)
			}
		}
		for key := range countTargets {
			if sizeTargets[key] {
				tf := index[key]
				rng := ast.Range{}
				if tf != nil {
					rng = tf.SourceRange()
				}
				v.diags = append(v.diags, errf(KindAmbiguousArraySize, rng, "array is targeted by both a count and a size header"))
			}
		}
	}
}

// headerKind distinguishes which header variant is doing the targeting,
// since each permits a different set of target field kinds: a Size header
// records a byte length (valid against an Array, a Typedef's own encoded
// bytes, or a Checksum's target), while Count and ElementSize only have
// meaning against an Array (ir.Encode only ever populates its
// targetCount/targetElemSize maps from *ast.ArrayField).
type headerKind uint8

const (
	headerKindSize headerKind = iota
	headerKindCount
	headerKindElementSize
)

func (v *validator) checkHeaderTarget(target ast.FieldKey, index map[ast.FieldKey]ast.Field, rng ast.Range, kind headerKind) {
	if target == ast.PayloadTargetKey {
		if kind != headerKindSize {
			v.diags = append(v.diags, errf(KindSizeFieldTargetInvalid, rng, "count/element-size header cannot target the payload"))
		}
		return
	}
	tf, ok := index[target]
	if !ok {
		v.diags = append(v.diags, errf(KindSizeFieldTargetInvalid, rng, "size/count header references a field not present in this declaration"))
		return
	}
	if kind != headerKindSize {
		if _, isArray := tf.(*ast.ArrayField); !isArray {
			v.diags = append(v.diags, errf(KindSizeFieldTargetInvalid, rng, "field %q is not a valid count/element-size header target", tf.Name()))
		}
		return
	}
	switch tf.(type) {
	case *ast.ArrayField, *ast.TypedefField, *ast.ChecksumField:
		return
	default:
		v.diags = append(v.diags, errf(KindSizeFieldTargetInvalid, rng, "field %q is not a valid size/count header target", tf.Name()))
	}
}

// 8. At most one payload/body; Body requires no fields after it.
func (v *validator) checkPayloads() {
	for _, d := range v.file.Decls {
		fields := localDeclFields(d)
		if fields == nil {
			continue
		}
		count := 0
		for i, f := range fields {
			switch f.(type) {
			case *ast.PayloadField:
				count++
			case *ast.BodyField:
				count++
				if i != len(fields)-1 {
					v.diags = append(v.diags, errf(KindBodyNotLast, f.SourceRange(), "body field must be the last field in its declaration"))
				}
			}
		}
		if count > 1 {
			v.diags = append(v.diags, errf(KindMultiplePayload, d.SourceRange(), "declaration %q has more than one payload/body field", d.Name()))
		}
		if _, ok := d.(*ast.Struct); ok && count > 0 {
			v.diags = append(v.diags, errf(KindMultiplePayload, d.SourceRange(), "struct %q cannot declare a payload or body field", d.Name()))
		}
	}
}
