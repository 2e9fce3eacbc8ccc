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
	"fmt"

	"github.com/google/pdl-compiler/ast"
)

// Severity distinguishes a hard analysis failure from an advisory warning.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// DiagnosticKind is a stable identifier for a class of analysis failure,
// suitable for machine consumption (e.g. by the JSON diagnostic emitter,
// which lives outside this module).
type DiagnosticKind string

const (
	KindDuplicateDeclaration  DiagnosticKind = "duplicate_declaration"
	KindUnknownTypeID         DiagnosticKind = "unknown_type_id"
	KindInheritanceCycle      DiagnosticKind = "inheritance_cycle"
	KindEnumTagOverflow       DiagnosticKind = "enum_tag_overflow"
	KindEnumTagDuplicate      DiagnosticKind = "enum_tag_duplicate"
	KindEnumTagOverlap        DiagnosticKind = "enum_tag_overlap"
	KindConstraintMismatch    DiagnosticKind = "constraint_mismatch"
	KindOrphanFlagReference   DiagnosticKind = "orphan_flag_reference"
	KindMultiplePayload       DiagnosticKind = "multiple_payload"
	KindBodyNotLast           DiagnosticKind = "body_not_last"
	KindSizeFieldTargetInvalid DiagnosticKind = "size_field_target_invalid"
	KindAmbiguousArraySize    DiagnosticKind = "ambiguous_array_size"
	KindGroupCycle            DiagnosticKind = "group_cycle"
)

// Diagnostic is one analysis failure or warning, carrying enough context to
// point a user (or another tool) at the offending source.
type Diagnostic struct {
	Kind      DiagnosticKind
	Severity  Severity
	Message   string
	Primary   ast.Range
	Secondary []ast.Range
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Kind, d.Message)
}

func errf(kind DiagnosticKind, rng ast.Range, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Kind: kind, Severity: SeverityError, Message: fmt.Sprintf(format, args...), Primary: rng}
}

// HasErrors reports whether any diagnostic in diags has SeverityError.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
