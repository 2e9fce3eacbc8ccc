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

import "github.com/google/pdl-compiler/ast"

// HeaderInfo is the uniform shape of a Size/Count/ElementSize header field:
// the rendering glue (and the reference evaluator) switches on this once
// instead of re-deriving it from three near-identical field types.
type HeaderInfo struct {
	Width    uint8
	Target   ast.FieldKey
	Modifier int64
	Source   HeaderSource
}

// DescribeHeader extracts f's HeaderInfo. ok is false when f is not a
// Size/Count/ElementSize field.
func DescribeHeader(f ast.Field) (info HeaderInfo, ok bool) {
	switch h := f.(type) {
	case *ast.SizeField:
		return HeaderInfo{Width: h.Width, Target: h.Target, Modifier: int64(h.Modifier), Source: SourceSizeHeader}, true
	case *ast.CountField:
		return HeaderInfo{Width: h.Width, Target: h.Target, Modifier: int64(h.Modifier), Source: SourceCountHeader}, true
	case *ast.ElementSizeField:
		return HeaderInfo{Width: h.Width, Target: h.Target, Modifier: int64(h.Modifier), Source: SourceElementSizeHeader}, true
	}
	return HeaderInfo{}, false
}

// FindHeader returns the Size/Count/ElementSize field among fields that
// targets key (ast.PayloadTargetKey for the payload/body placeholder), or
// nil when nothing targets it: the region it describes then runs to
// end-of-buffer or uses its own literal size.
func FindHeader(fields []ast.Field, target ast.FieldKey) ast.Field {
	for _, f := range fields {
		if info, ok := DescribeHeader(f); ok && info.Target == target {
			return f
		}
	}
	return nil
}
