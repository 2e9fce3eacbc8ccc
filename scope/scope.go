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

// Package scope resolves declaration names to declarations and provides the
// parent/child and inherited-field traversal operations the analyzer,
// alignment planner and backend all share. A Scope is built once from a
// fully-parsed ast.File and is read-only for the rest of the pipeline —
// nothing after construction ever adds, removes or mutates an entry.
package scope

import "github.com/google/pdl-compiler/ast"

// Scope maps declaration names to declarations and indexes parent/child
// relationships, built once from a File in declaration order.
type Scope struct {
	file     *ast.File
	byName   map[string]ast.Decl
	byKey    map[ast.DeclKey]ast.Decl
	children map[ast.DeclKey][]*ast.Packet
}

// New builds a Scope over every declaration in f, in file order.
func New(f *ast.File) *Scope {
	s := &Scope{
		file:     f,
		byName:   make(map[string]ast.Decl, len(f.Decls)),
		byKey:    make(map[ast.DeclKey]ast.Decl, len(f.Decls)),
		children: make(map[ast.DeclKey][]*ast.Packet),
	}
	for _, d := range f.Decls {
		s.byName[d.Name()] = d
		s.byKey[d.Key()] = d
	}
	for _, d := range f.Decls {
		if p, ok := d.(*ast.Packet); ok && p.Parent != nil {
			s.children[*p.Parent] = append(s.children[*p.Parent], p)
		}
	}
	return s
}

// File returns the File this Scope was built from.
func (s *Scope) File() *ast.File { return s.file }

// Lookup resolves a declaration by its exact source name.
func (s *Scope) Lookup(name string) (ast.Decl, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// LookupKey resolves a declaration by its stable key.
func (s *Scope) LookupKey(key ast.DeclKey) (ast.Decl, bool) {
	d, ok := s.byKey[key]
	return d, ok
}

// Parent returns the declaration a Packet or Struct inherits from, if any.
func (s *Scope) Parent(d ast.Decl) (ast.Decl, bool) {
	var parent *ast.DeclKey
	switch x := d.(type) {
	case *ast.Packet:
		parent = x.Parent
	case *ast.Struct:
		parent = x.Parent
	default:
		return nil, false
	}
	if parent == nil {
		return nil, false
	}
	return s.LookupKey(*parent)
}

// Children returns every Packet whose Parent is key, in declaration order.
// Only Packets participate in open polymorphism; Structs never have
// children.
func (s *Scope) Children(key ast.DeclKey) []*ast.Packet {
	return s.children[key]
}

// AncestorChain returns d's parent chain, root first, d itself last. It
// panics if called on a cyclic chain; the analyzer's cycle validation must
// run (and reject cycles) before any other component calls this.
func (s *Scope) AncestorChain(d ast.Decl) []ast.Decl {
	var chain []ast.Decl
	seen := map[ast.DeclKey]bool{}
	cur := d
	for cur != nil {
		if seen[cur.Key()] {
			panic("scope: cyclic parent chain reached AncestorChain; analyzer should have rejected it")
		}
		seen[cur.Key()] = true
		chain = append(chain, cur)
		p, ok := s.Parent(cur)
		if !ok {
			break
		}
		cur = p
	}
	// Reverse in place: root first, d last.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// IterFields walks d's parent chain root-to-leaf and concatenates their
// field lists, so that inherited fields precede d's own locally declared
// fields (and, transitively, header fields precede any payload). Groups
// must already be inlined by the analyzer: IterFields does not expand
// ast.GroupField.
//
// An ancestor's trailing Payload or Body field is always dropped from the
// concatenation, whether or not a more-derived declaration in the chain
// contributes fields of its own: those fields are what a child "encodes into the parent's
// payload" (spec: child types encode their local fields into the parent's
// payload), so the ancestor's placeholder and the descendant's fields
// never both appear as if they were independent regions. The placeholder
// survives only when it is d's own trailing field, i.e. d itself leaves
// its payload open.
func (s *Scope) IterFields(d ast.Decl) []ast.Field {
	var fields []ast.Field
	for _, anc := range s.AncestorChain(d) {
		var own []ast.Field
		switch x := anc.(type) {
		case *ast.Packet:
			own = x.Fields
		case *ast.Struct:
			own = x.Fields
		}
		if len(own) == 0 {
			continue
		}
		if anc.Key() != d.Key() {
			switch own[len(own)-1].(type) {
			case *ast.PayloadField, *ast.BodyField:
				own = own[:len(own)-1]
			}
		}
		fields = append(fields, own...)
	}
	return fields
}

// LocalFields returns only the fields declared directly on d, without
// walking the parent chain.
func LocalFields(d ast.Decl) []ast.Field {
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

// GetTypeDeclaration resolves a Typedef, Enum, or Array-of-typedef field to
// its target declaration.
func (s *Scope) GetTypeDeclaration(f ast.Field) (ast.Decl, bool) {
	switch x := f.(type) {
	case *ast.TypedefField:
		return s.LookupKey(x.TypeID)
	case *ast.EnumField:
		return s.LookupKey(x.EnumID)
	case *ast.ArrayField:
		if x.ElementTypeID != nil {
			return s.LookupKey(*x.ElementTypeID)
		}
	case *ast.FixedEnumField:
		return s.LookupKey(x.EnumID)
	}
	return nil, false
}

// IsBitfield reports whether f is a bit-width carrier that the alignment
// planner should pack into a PackedBits chunk, as opposed to a byte-aligned
// field emitted through its own encode/decode routine.
func (s *Scope) IsBitfield(f ast.Field) bool {
	switch x := f.(type) {
	case *ast.ScalarField, *ast.EnumField, *ast.FlagField, *ast.FixedScalarField,
		*ast.FixedEnumField, *ast.ReservedField, *ast.SizeField, *ast.CountField,
		*ast.ElementSizeField:
		return true
	case *ast.TypedefField:
		if cf, ok := s.lookupCustomField(x.TypeID); ok {
			return cf.Width != nil
		}
		return false
	}
	return false
}

func (s *Scope) lookupCustomField(key ast.DeclKey) (*ast.CustomField, bool) {
	d, ok := s.LookupKey(key)
	if !ok {
		return nil, false
	}
	cf, ok := d.(*ast.CustomField)
	return cf, ok
}
