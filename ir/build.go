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

package ir

import (
	"fmt"

	"github.com/google/pdl-compiler/align"
	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
)

// Build turns an already-analyzed Result into the backend-core Module.
// Build never re-validates: it assumes r.File passed analyzer.Analyze, and
// only fails when the alignment planner itself rejects a field sequence
// (which, given a validated File, means a planner bug, not bad input).
func Build(r *analyzer.Result) (*Module, error) {
	m := &Module{File: r.File}
	for _, d := range r.File.Decls {
		switch d.(type) {
		case *ast.Packet, *ast.Struct:
		default:
			continue
		}
		plan, err := buildDecl(d, r)
		if err != nil {
			return nil, fmt.Errorf("ir: building plan for %q: %w", d.Name(), err)
		}
		m.Decls = append(m.Decls, plan)
	}
	return m, nil
}

func buildDecl(d ast.Decl, r *analyzer.Result) (*DeclPlan, error) {
	fields := r.Scope.IterFields(d)
	chunks, err := align.Plan(fields, r.Schema, r.Scope)
	if err != nil {
		return nil, err
	}

	plan := &DeclPlan{
		Decl:             d,
		Fields:           fields,
		Chunks:           chunks,
		HeaderStaticBits: analyzer.HeaderBits(fields, r.Schema),
	}

	payloadField, bodyField := findPayload(fields)
	switch {
	case bodyField != nil:
		plan.PayloadKind = PayloadClosedBody
		plan.PayloadField = bodyField
		plan.PayloadExtent = RegionExtent{Source: SourceEndOfBuffer}
	case payloadField != nil:
		plan.PayloadKind = PayloadOpen
		plan.PayloadField = payloadField
		plan.PayloadExtent = payloadExtent(payloadField, fields)
	}

	if p, ok := d.(*ast.Packet); ok {
		plan.Children = buildChildren(p, r)
	}
	plan.Size = BuildSizePlan(plan, r.Schema)
	plan.Encode = BuildEncodePlan(plan)
	plan.Decode = BuildDecodePlan(plan)
	plan.Specialize = BuildSpecializePlan(plan)
	return plan, nil
}

func findPayload(fields []ast.Field) (payload ast.Field, body ast.Field) {
	for _, f := range fields {
		switch f.(type) {
		case *ast.PayloadField:
			payload = f
		case *ast.BodyField:
			body = f
		}
	}
	return payload, body
}

// payloadExtent finds the header field (if any) in the same declaration
// that targets the payload placeholder (ast.PayloadTargetKey).
func payloadExtent(payload ast.Field, fields []ast.Field) RegionExtent {
	for _, f := range fields {
		switch h := f.(type) {
		case *ast.SizeField:
			if h.Target == ast.PayloadTargetKey {
				return RegionExtent{Source: SourceSizeHeader, Header: h}
			}
		case *ast.CountField:
			if h.Target == ast.PayloadTargetKey {
				return RegionExtent{Source: SourceCountHeader, Header: h}
			}
		}
	}
	return RegionExtent{Source: SourceEndOfBuffer}
}

// buildChildren collects every Packet whose Parent is p.Key(), in
// declaration order, together with the Constraints each imposes on p's
// fields — the candidate list p.Specialize() chooses among at decode time.
func buildChildren(p *ast.Packet, r *analyzer.Result) []ChildPlan {
	var out []ChildPlan
	for _, c := range r.Scope.Children(p.Key()) {
		cp := ChildPlan{Child: c, Constraints: c.Constraints}
		if ds, ok := r.Schema.Decls[c.Key()]; ok && ds.Kind == analyzer.SizeStatic {
			cp.StaticSizeBits = ds.Bits
			cp.HasStaticSizeBits = true
		}
		out = append(out, cp)
	}
	return out
}
