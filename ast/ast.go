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

// Package ast declares the immutable tree the PDL compiler operates on: a
// File of Decls, each carrying Fields, Constraints and Tags. Declarations
// and fields are keyed by small stable integers (DeclKey, FieldKey) assigned
// by the parser, not by this package: nothing here creates a new key, and
// nothing here mutates a node after construction. Cross-references (parent
// packets, typedef targets, constraint targets) are always by key, resolved
// later through a scope.Scope, never by pointer — that is what lets the
// tree stay acyclic-by-construction even though packets and typedefs refer
// to each other.
package ast

import "fmt"

// DeclKey uniquely identifies a Decl within a File.
type DeclKey int

// FieldKey uniquely identifies a Field within a File.
type FieldKey int

// Endian is the byte order a File's multi-byte integers are encoded with.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// Range is a half-open source span, used only to attach diagnostics. Two
// Files that differ only in Range are considered structurally equal.
type Range struct {
	File                   string
	StartLine, StartColumn int
	StartOffset            int
	EndLine, EndColumn     int
	EndOffset              int
}

// File is the top-level compilation unit: an endianness and an ordered list
// of declarations. The SourceID is opaque outside of diagnostics.
type File struct {
	SourceID string
	Endian   Endian
	Decls    []Decl
	Comments []Comment
}

// Comment is a source comment, carried through for completeness but
// semantically irrelevant to analysis, alignment or codegen.
type Comment struct {
	Text  string
	Range Range
}

// DeclKind discriminates the variants of Decl.
type DeclKind uint8

const (
	KindInvalidDecl DeclKind = iota
	KindEnum
	KindPacket
	KindStruct
	KindGroup
	KindCustomField
	KindChecksum
	KindTest
)

var declKindStrings = [...]string{
	KindInvalidDecl: "invalid_declaration",
	KindEnum:        "enum_declaration",
	KindPacket:      "packet_declaration",
	KindStruct:      "struct_declaration",
	KindGroup:       "group_declaration",
	KindCustomField: "custom_field_declaration",
	KindChecksum:    "checksum_declaration",
	KindTest:        "test_declaration",
}

func (k DeclKind) String() string {
	if int(k) < len(declKindStrings) {
		return declKindStrings[k]
	}
	return "unknown_declaration"
}

// Decl is the common interface implemented by every declaration variant:
// Enum, Packet, Struct, Group, CustomField, Checksum, Test.
type Decl interface {
	Key() DeclKey
	Name() string
	Kind() DeclKind
	SourceRange() Range
	declNode()
}

type declBase struct {
	key   DeclKey
	name  string
	rng   Range
}

func (d declBase) Key() DeclKey      { return d.key }
func (d declBase) Name() string      { return d.name }
func (d declBase) SourceRange() Range { return d.rng }
func (declBase) declNode()           {}

// Tag is one variant of an Enum: Value (a single integer), Range (an
// inclusive span, possibly with nested named Values), or Other (the
// catch-all that makes the enum open).
type TagKind uint8

const (
	TagValue TagKind = iota
	TagRange
	TagOther
)

type Tag struct {
	Kind  TagKind
	Name  string
	Value uint64 // valid when Kind == TagValue
	Lo    uint64 // valid when Kind == TagRange, inclusive
	Hi    uint64 // valid when Kind == TagRange, inclusive
	Nested []Tag  // named values nested inside a TagRange
	Range  Range
}

// Enum declares a named bit-width and an ordered list of Tags.
type Enum struct {
	declBase
	Width uint8
	Tags  []Tag
}

func NewEnum(key DeclKey, name string, width uint8, tags []Tag, rng Range) *Enum {
	return &Enum{declBase: declBase{key: key, name: name, rng: rng}, Width: width, Tags: tags}
}

func (*Enum) Kind() DeclKind { return KindEnum }

// Constraint is a compile-time equality assertion a child packet imposes on
// an ancestor's field to select its variant at decode time.
type Constraint struct {
	FieldName string
	IsEnumTag bool
	IntValue  uint64
	TagName   string // valid when IsEnumTag
	Range     Range
}

// Packet declares an identifier, an optional parent, an ordered list of
// fields and constraints on inherited fields. Packets participate in open
// polymorphism: decode may recurse into a child packet chosen by
// constraint matching.
type Packet struct {
	declBase
	Parent      *DeclKey
	Fields      []Field
	Constraints []Constraint
}

func NewPacket(key DeclKey, name string, parent *DeclKey, fields []Field, constraints []Constraint, rng Range) *Packet {
	return &Packet{declBase: declBase{key: key, name: name, rng: rng}, Parent: parent, Fields: fields, Constraints: constraints}
}

func (*Packet) Kind() DeclKind { return KindPacket }

// Struct has the identical shape of a Packet but is semantically closed:
// it carries no payload placeholder and is used purely as a typedef
// target.
type Struct struct {
	declBase
	Parent      *DeclKey
	Fields      []Field
	Constraints []Constraint
}

func NewStruct(key DeclKey, name string, parent *DeclKey, fields []Field, constraints []Constraint, rng Range) *Struct {
	return &Struct{declBase: declBase{key: key, name: name, rng: rng}, Parent: parent, Fields: fields, Constraints: constraints}
}

func (*Struct) Kind() DeclKind { return KindStruct }

// Group is a reusable, named bundle of fields, inlined into usage sites by
// the analyzer. Groups never reach the alignment planner or backend.
type Group struct {
	declBase
	Fields []Field
}

func NewGroup(key DeclKey, name string, fields []Field, rng Range) *Group {
	return &Group{declBase: declBase{key: key, name: name, rng: rng}, Fields: fields}
}

func (*Group) Kind() DeclKind { return KindGroup }

// CustomField is an externally-defined scalar-like type: an optional
// static bit width, plus the name of a target-language conversion function.
type CustomField struct {
	declBase
	Width    *uint8
	Function string
}

func NewCustomField(key DeclKey, name string, width *uint8, function string, rng Range) *CustomField {
	return &CustomField{declBase: declBase{key: key, name: name, rng: rng}, Width: width, Function: function}
}

func (*CustomField) Kind() DeclKind { return KindCustomField }

// Checksum is a placeholder declaration: a bit width plus the name of a
// target-language checksum function that the rendering glue wires over a
// declaration-defined byte span.
type Checksum struct {
	declBase
	Width    uint8
	Function string
}

func NewChecksum(key DeclKey, name string, width uint8, function string, rng Range) *Checksum {
	return &Checksum{declBase: declBase{key: key, name: name, rng: rng}, Width: width, Function: function}
}

func (*Checksum) Kind() DeclKind { return KindChecksum }

// TestCase is one (packed_bytes, unpacked_value) tuple attached to a Test
// declaration, optionally overriding which child variant to decode into.
type TestCase struct {
	PackedHex   string // lowercase hex, even length
	UnpackedRaw string // raw JSON object text, keys mirror declared field names
	ChildName   string // optional; empty means "decode as the declared target"
}

// Test attaches a list of test vectors to a target declaration; it is
// consumed only by the test generator (testvec package), never by the
// analyzer, planner or backend.
type Test struct {
	declBase
	Target DeclKey
	Cases  []TestCase
}

func NewTest(key DeclKey, name string, target DeclKey, cases []TestCase, rng Range) *Test {
	return &Test{declBase: declBase{key: key, name: name, rng: rng}, Target: target, Cases: cases}
}

func (*Test) Kind() DeclKind { return KindTest }

// Condition is a field's presence predicate: it is absent unless the named
// Flag field equals Value (0 or 1).
type Condition struct {
	Flag  FieldKey
	Value uint8
}

// FieldKind discriminates the 16 variants of Field.
type FieldKind uint8

const (
	KindInvalidField FieldKind = iota
	KindScalar
	KindEnumField
	KindFlag
	KindTypedef
	KindArray
	KindSize
	KindCount
	KindElementSize
	KindPayload
	KindBody
	KindPadding
	KindReserved
	KindFixedScalar
	KindFixedEnum
	KindChecksumField
	KindGroupField
)

var fieldKindStrings = [...]string{
	KindInvalidField:  "invalid_field",
	KindScalar:        "scalar_field",
	KindEnumField:      "enum_field",
	KindFlag:          "flag_field",
	KindTypedef:       "typedef_field",
	KindArray:         "array_field",
	KindSize:          "size_field",
	KindCount:         "count_field",
	KindElementSize:   "elementsize_field",
	KindPayload:       "payload_field",
	KindBody:          "body_field",
	KindPadding:       "padding_field",
	KindReserved:      "reserved_field",
	KindFixedScalar:   "fixed_field",
	KindFixedEnum:     "fixed_field",
	KindChecksumField: "checksum_field",
	KindGroupField:    "group_field",
}

func (k FieldKind) String() string {
	if int(k) < len(fieldKindStrings) {
		return fieldKindStrings[k]
	}
	return "unknown_field"
}

// Field is the common interface implemented by every field variant.
type Field interface {
	Key() FieldKey
	Name() string
	Kind() FieldKind
	Condition() *Condition
	SourceRange() Range
	fieldNode()
}

type fieldBase struct {
	key  FieldKey
	name string
	cond *Condition
	rng  Range
}

func (f fieldBase) Key() FieldKey       { return f.key }
func (f fieldBase) Name() string        { return f.name }
func (f fieldBase) Condition() *Condition { return f.cond }
func (f fieldBase) SourceRange() Range  { return f.rng }
func (fieldBase) fieldNode()            {}

func newBase(key FieldKey, name string, cond *Condition, rng Range) fieldBase {
	return fieldBase{key: key, name: name, cond: cond, rng: rng}
}

// ScalarField is an unsigned integer of Width bits, 1 <= Width <= 64.
type ScalarField struct {
	fieldBase
	Width uint8
}

func NewScalarField(key FieldKey, name string, width uint8, cond *Condition, rng Range) *ScalarField {
	return &ScalarField{fieldBase: newBase(key, name, cond, rng), Width: width}
}
func (*ScalarField) Kind() FieldKind { return KindScalar }

// EnumField is a value of the named enum; it must parse to a known tag
// unless EnumID's enum is open (has a TagOther catch-all).
type EnumField struct {
	fieldBase
	Width  uint8
	EnumID DeclKey
}

func NewEnumField(key FieldKey, name string, width uint8, enumID DeclKey, cond *Condition, rng Range) *EnumField {
	return &EnumField{fieldBase: newBase(key, name, cond, rng), Width: width, EnumID: enumID}
}
func (*EnumField) Kind() FieldKind { return KindEnumField }

// FlagField is a one-bit scalar whose value decides whether each of
// OptionalFieldIDs is present. SetValue (0 or 1) is the "present" encoding.
type FlagField struct {
	fieldBase
	OptionalFieldIDs []FieldKey
	SetValue         uint8
}

func NewFlagField(key FieldKey, name string, optional []FieldKey, setValue uint8, cond *Condition, rng Range) *FlagField {
	return &FlagField{fieldBase: newBase(key, name, cond, rng), OptionalFieldIDs: optional, SetValue: setValue}
}
func (*FlagField) Kind() FieldKind { return KindFlag }

// TypedefField is a named embedded occurrence of another declared type:
// enum, struct, custom field or checksum.
type TypedefField struct {
	fieldBase
	TypeID DeclKey
}

func NewTypedefField(key FieldKey, name string, typeID DeclKey, cond *Condition, rng Range) *TypedefField {
	return &TypedefField{fieldBase: newBase(key, name, cond, rng), TypeID: typeID}
}
func (*TypedefField) Kind() FieldKind { return KindTypedef }

// SizeModifier is a compile-time integer added to a Size/Count/ElementSize
// header's own wire value, to account for overlapping regions.
type SizeModifier int64

// ArraySizeKind discriminates how an array's extent is declared.
type ArraySizeKind uint8

const (
	ArraySizeUnbounded ArraySizeKind = iota // runs to end-of-buffer
	ArraySizeCount                          // a literal element count
	ArraySizeByteSize                       // a literal byte length
)

// ArrayField is a run of like-typed elements. Exactly one of ElementWidth
// and ElementTypeID is set. At most one of Count and ByteSize is declared
// (SizeKind says which); when SizeKind is ArraySizeUnbounded the array runs
// to the end of the enclosing buffer (subject to any Size/Count header
// field that separately targets it — see SizeField/CountField).
type ArrayField struct {
	fieldBase
	ElementWidth   *uint8
	ElementTypeID  *DeclKey
	SizeKind       ArraySizeKind
	Count          uint64 // valid when SizeKind == ArraySizeCount
	ByteSize       uint64 // valid when SizeKind == ArraySizeByteSize
	PaddedSizeBytes *uint64 // set by the analyzer/planner when followed by Padding
}

func NewArrayField(key FieldKey, name string, elementWidth *uint8, elementTypeID *DeclKey, sizeKind ArraySizeKind, count, byteSize uint64, cond *Condition, rng Range) *ArrayField {
	return &ArrayField{
		fieldBase:     newBase(key, name, cond, rng),
		ElementWidth:  elementWidth,
		ElementTypeID: elementTypeID,
		SizeKind:      sizeKind,
		Count:         count,
		ByteSize:      byteSize,
	}
}
func (*ArrayField) Kind() FieldKind { return KindArray }

// PayloadTargetKey is the target key a Size/Count/ElementSize header carries
// when it measures the payload/body placeholder rather than another field.
const PayloadTargetKey FieldKey = -1

// SizeField is a Width-bit header whose wire value is the byte length of
// Target (or of the payload, if Target == PayloadTargetKey), plus Modifier.
type SizeField struct {
	fieldBase
	Width    uint8
	Target   FieldKey
	Modifier SizeModifier
}

func NewSizeField(key FieldKey, name string, width uint8, target FieldKey, modifier SizeModifier, cond *Condition, rng Range) *SizeField {
	return &SizeField{fieldBase: newBase(key, name, cond, rng), Width: width, Target: target, Modifier: modifier}
}
func (*SizeField) Kind() FieldKind { return KindSize }

// CountField is a Width-bit header whose wire value is the element count
// of Target, plus Modifier.
type CountField struct {
	fieldBase
	Width    uint8
	Target   FieldKey
	Modifier SizeModifier
}

func NewCountField(key FieldKey, name string, width uint8, target FieldKey, modifier SizeModifier, cond *Condition, rng Range) *CountField {
	return &CountField{fieldBase: newBase(key, name, cond, rng), Width: width, Target: target, Modifier: modifier}
}
func (*CountField) Kind() FieldKind { return KindCount }

// ElementSizeField is a Width-bit header whose wire value is the common
// encoded length of every element of Target, plus Modifier.
type ElementSizeField struct {
	fieldBase
	Width    uint8
	Target   FieldKey
	Modifier SizeModifier
}

func NewElementSizeField(key FieldKey, name string, width uint8, target FieldKey, modifier SizeModifier, cond *Condition, rng Range) *ElementSizeField {
	return &ElementSizeField{fieldBase: newBase(key, name, cond, rng), Width: width, Target: target, Modifier: modifier}
}
func (*ElementSizeField) Kind() FieldKind { return KindElementSize }

// PayloadField is the polymorphic child region; at most one Payload or
// Body field appears per Packet.
type PayloadField struct {
	fieldBase
}

func NewPayloadField(key FieldKey, cond *Condition, rng Range) *PayloadField {
	return &PayloadField{fieldBase: newBase(key, "_payload_", cond, rng)}
}
func (*PayloadField) Kind() FieldKind { return KindPayload }

// BodyField is a Payload that additionally requires the payload to occupy
// the remainder of the buffer; no field may follow it.
type BodyField struct {
	fieldBase
}

func NewBodyField(key FieldKey, rng Range) *BodyField {
	return &BodyField{fieldBase: newBase(key, "_body_", nil, rng)}
}
func (*BodyField) Kind() FieldKind { return KindBody }

// PaddingField extends the immediately preceding array to exactly Size
// bytes; writing more than Size bytes of content is a SizeOverflow error.
type PaddingField struct {
	fieldBase
	Size uint64
}

func NewPaddingField(key FieldKey, size uint64, rng Range) *PaddingField {
	return &PaddingField{fieldBase: newBase(key, "", nil, rng), Size: size}
}
func (*PaddingField) Kind() FieldKind { return KindPadding }

// ReservedField is Width bits written as zero on encode, ignored on
// decode; it still occupies shift positions in its packed-bits chunk.
type ReservedField struct {
	fieldBase
	Width uint8
}

func NewReservedField(key FieldKey, width uint8, rng Range) *ReservedField {
	return &ReservedField{fieldBase: newBase(key, "", nil, rng), Width: width}
}
func (*ReservedField) Kind() FieldKind { return KindReserved }

// FixedScalarField is a Width-bit constant verified on decode and emitted
// on encode.
type FixedScalarField struct {
	fieldBase
	Width uint8
	Value uint64
}

func NewFixedScalarField(key FieldKey, width uint8, value uint64, rng Range) *FixedScalarField {
	return &FixedScalarField{fieldBase: newBase(key, "", nil, rng), Width: width, Value: value}
}
func (*FixedScalarField) Kind() FieldKind { return KindFixedScalar }

// FixedEnumField is an enum-typed constant: the named tag of EnumID,
// verified on decode and emitted on encode.
type FixedEnumField struct {
	fieldBase
	EnumID  DeclKey
	TagName string
}

func NewFixedEnumField(key FieldKey, enumID DeclKey, tagName string, rng Range) *FixedEnumField {
	return &FixedEnumField{fieldBase: newBase(key, "", nil, rng), EnumID: enumID, TagName: tagName}
}
func (*FixedEnumField) Kind() FieldKind { return KindFixedEnum }

// ChecksumField is a placeholder referencing the field whose checksum it
// carries; ChecksumID names the Checksum declaration that supplies the
// field's width and its target-language function name. The checksum value
// itself is produced by that user-supplied function over a
// declaration-defined byte span (a rendering-glue concern).
type ChecksumField struct {
	fieldBase
	ChecksumID DeclKey
	Target     FieldKey
}

func NewChecksumField(key FieldKey, name string, checksumID DeclKey, target FieldKey, rng Range) *ChecksumField {
	return &ChecksumField{fieldBase: newBase(key, name, nil, rng), ChecksumID: checksumID, Target: target}
}
func (*ChecksumField) Kind() FieldKind { return KindChecksumField }

// GroupField is a pre-flattening placeholder for a Group's inclusion; the
// analyzer replaces every GroupField with the group's fields (with keys
// remapped) before the alignment planner ever sees the declaration.
type GroupField struct {
	fieldBase
	GroupID     DeclKey
	Constraints []Constraint
}

func NewGroupField(key FieldKey, groupID DeclKey, constraints []Constraint, rng Range) *GroupField {
	return &GroupField{fieldBase: newBase(key, "", nil, rng), GroupID: groupID, Constraints: constraints}
}
func (*GroupField) Kind() FieldKind { return KindGroupField }

// String renders a short diagnostic-friendly description of a field, not
// used by codegen.
func FieldString(f Field) string {
	return fmt.Sprintf("%s(%s)", f.Kind(), f.Name())
}
