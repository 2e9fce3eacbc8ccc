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

package ast

// Eq reports whether two Files are structurally equal: same endianness and
// the same ordered sequence of equal declarations. Source ranges and
// comments never participate in the comparison.
func (f *File) Eq(o *File) bool {
	if f == o {
		return true
	}
	if f == nil || o == nil {
		return false
	}
	if f.Endian != o.Endian || len(f.Decls) != len(o.Decls) {
		return false
	}
	for i, d := range f.Decls {
		if !declEq(d, o.Decls[i]) {
			return false
		}
	}
	return true
}

func declEq(a, b Decl) bool {
	if a.Kind() != b.Kind() || a.Key() != b.Key() || a.Name() != b.Name() {
		return false
	}
	switch x := a.(type) {
	case *Enum:
		y := b.(*Enum)
		return x.Width == y.Width && tagsEq(x.Tags, y.Tags)
	case *Packet:
		y := b.(*Packet)
		return declKeyPtrEq(x.Parent, y.Parent) && fieldsEq(x.Fields, y.Fields) && constraintsEq(x.Constraints, y.Constraints)
	case *Struct:
		y := b.(*Struct)
		return declKeyPtrEq(x.Parent, y.Parent) && fieldsEq(x.Fields, y.Fields) && constraintsEq(x.Constraints, y.Constraints)
	case *Group:
		y := b.(*Group)
		return fieldsEq(x.Fields, y.Fields)
	case *CustomField:
		y := b.(*CustomField)
		return widthPtrEq(x.Width, y.Width) && x.Function == y.Function
	case *Checksum:
		y := b.(*Checksum)
		return x.Width == y.Width && x.Function == y.Function
	case *Test:
		y := b.(*Test)
		return x.Target == y.Target && len(x.Cases) == len(y.Cases)
	}
	return false
}

func declKeyPtrEq(a, b *DeclKey) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func widthPtrEq(a, b *uint8) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func tagsEq(a, b []Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !tagEq(a[i], b[i]) {
			return false
		}
	}
	return true
}

func tagEq(a, b Tag) bool {
	if a.Kind != b.Kind || a.Name != b.Name {
		return false
	}
	switch a.Kind {
	case TagValue:
		return a.Value == b.Value
	case TagRange:
		return a.Lo == b.Lo && a.Hi == b.Hi && tagsEq(a.Nested, b.Nested)
	default:
		return true
	}
}

func constraintsEq(a, b []Constraint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.FieldName != y.FieldName || x.IsEnumTag != y.IsEnumTag || x.IntValue != y.IntValue || x.TagName != y.TagName {
			return false
		}
	}
	return true
}

func fieldsEq(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !fieldEq(a[i], b[i]) {
			return false
		}
	}
	return true
}

func conditionEq(a, b *Condition) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || (*a == *b)
}

func fieldEq(a, b Field) bool {
	if a.Kind() != b.Kind() || a.Key() != b.Key() || a.Name() != b.Name() || !conditionEq(a.Condition(), b.Condition()) {
		return false
	}
	switch x := a.(type) {
	case *ScalarField:
		return x.Width == b.(*ScalarField).Width
	case *EnumField:
		y := b.(*EnumField)
		return x.Width == y.Width && x.EnumID == y.EnumID
	case *FlagField:
		y := b.(*FlagField)
		if x.SetValue != y.SetValue || len(x.OptionalFieldIDs) != len(y.OptionalFieldIDs) {
			return false
		}
		for i := range x.OptionalFieldIDs {
			if x.OptionalFieldIDs[i] != y.OptionalFieldIDs[i] {
				return false
			}
		}
		return true
	case *TypedefField:
		return x.TypeID == b.(*TypedefField).TypeID
	case *ArrayField:
		y := b.(*ArrayField)
		return widthPtrEq(x.ElementWidth, y.ElementWidth) && declKeyPtrEq(x.ElementTypeID, y.ElementTypeID) &&
			x.SizeKind == y.SizeKind && x.Count == y.Count && x.ByteSize == y.ByteSize
	case *SizeField:
		y := b.(*SizeField)
		return x.Width == y.Width && x.Target == y.Target && x.Modifier == y.Modifier
	case *CountField:
		y := b.(*CountField)
		return x.Width == y.Width && x.Target == y.Target && x.Modifier == y.Modifier
	case *ElementSizeField:
		y := b.(*ElementSizeField)
		return x.Width == y.Width && x.Target == y.Target && x.Modifier == y.Modifier
	case *PayloadField:
		return true
	case *BodyField:
		return true
	case *PaddingField:
		return x.Size == b.(*PaddingField).Size
	case *ReservedField:
		return x.Width == b.(*ReservedField).Width
	case *FixedScalarField:
		y := b.(*FixedScalarField)
		return x.Width == y.Width && x.Value == y.Value
	case *FixedEnumField:
		y := b.(*FixedEnumField)
		return x.EnumID == y.EnumID && x.TagName == y.TagName
	case *ChecksumField:
		y := b.(*ChecksumField)
		return x.ChecksumID == y.ChecksumID && x.Target == y.Target
	case *GroupField:
		y := b.(*GroupField)
		return x.GroupID == y.GroupID && constraintsEq(x.Constraints, y.Constraints)
	}
	return false
}
