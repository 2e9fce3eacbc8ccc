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

// Package ir additionally carries a small reference evaluator (this file):
// a pure-Go interpreter of a DeclPlan's Chunks that actually encodes and
// decodes bytes. It exists so the plan the backends render from can be
// exercised and checked directly, the same role internal/cgen's own
// interpreter tests play for validating a funk's body before trusting the
// C text it produces. Render/rust and render/java follow this same
// algorithm when emitting Rust/Java source text; nothing here is emitted
// as generated code.
package ir

import (
	"fmt"

	"github.com/google/pdl-compiler/align"
	"github.com/google/pdl-compiler/ast"
)

// Value is a generic decoded/encoded value for one declaration: scalar-like
// fields by name, flag fields by name, raw byte fields (arrays of bytes,
// typedefs) by name, struct-element arrays by name, and (for a
// Payload/Body-bearing declaration) the payload bytes.
type Value struct {
	Scalars  map[string]uint64
	Flags    map[string]bool
	Bytes    map[string][]byte
	Elements map[string][]*Value
	Payload  []byte
}

// NewValue returns an empty, ready-to-populate Value.
func NewValue() *Value {
	return &Value{
		Scalars:  map[string]uint64{},
		Flags:    map[string]bool{},
		Bytes:    map[string][]byte{},
		Elements: map[string][]*Value{},
	}
}

// EncodeError is the evaluator's concrete form of one of the §7 encode
// error kinds, carrying the same fields the rendered EncodeError/
// EncodeException variants do.
type EncodeError struct {
	Kind                  ErrorKind
	Packet, Field         string
	Value, Max            uint64
	Count, Size, Expected uint64
	Index                 uint64
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ir: %s encoding %s.%s", e.Kind, e.Packet, e.Field)
}

// DecodeError is the evaluator's concrete form of one of the §7 decode
// error kinds.
type DecodeError struct {
	Kind                     ErrorKind
	Object, Field            string
	Wanted, Got              uint64
	Expected, Actual         uint64
	ExpectedStr, ActualStr   string
	Index                    uint64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ir: %s decoding %s.%s", e.Kind, e.Object, e.Field)
}

func widthMask(w uint64) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

// Encode evaluates d's Chunks against v, returning the same bytes the
// generated encode() would write. It never consults d.Encode directly:
// like BuildEncodePlan, it walks d.Chunks in order, computing every
// Size/Count header's value from the content it targets before that
// content (or the header's own chunk) is reached.
func Encode(m *Module, d *DeclPlan, v *Value) ([]byte, error) {
	targetBytes := map[ast.FieldKey][]byte{}
	targetCount := map[ast.FieldKey]uint64{}
	targetElemSize := map[ast.FieldKey]uint64{}
	for _, f := range d.Fields {
		switch x := f.(type) {
		case *ast.ArrayField:
			b, count, elemSize, err := encodeArrayContent(m, d, x, v)
			if err != nil {
				return nil, err
			}
			targetBytes[x.Key()] = b
			targetCount[x.Key()] = count
			targetElemSize[x.Key()] = elemSize
		case *ast.TypedefField:
			targetBytes[x.Key()] = v.Bytes[x.Name()]
		}
	}

	var payloadBytes []byte
	if d.PayloadKind != PayloadNone {
		payloadBytes = v.Payload
	}

	var out []byte
	for i := range d.Chunks {
		c := &d.Chunks[i]
		switch {
		case c.Packed != nil:
			b, err := encodePackedChunk(d, c.Packed, v, targetBytes, targetCount, targetElemSize, payloadBytes)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		case c.ByteItem != nil:
			out = append(out, targetBytes[c.ByteItem.Field.Key()]...)
		}
	}
	if d.PayloadKind != PayloadNone {
		out = append(out, payloadBytes...)
	}
	return out, nil
}

// encodeArrayContent returns the array's packed content and element count,
// plus elemSize: the uniform per-element byte stride an ElementSize header
// targeting this array would record. For a struct-element array every
// encoded element must come out the same length (spec's "all elements must
// match" rule for ElementSize arrays) — mismatched lengths raise
// ErrInvalidArrayElementSize rather than silently recording the first
// element's length.
func encodeArrayContent(m *Module, d *DeclPlan, f *ast.ArrayField, v *Value) (content []byte, count uint64, elemSize uint64, err error) {
	if f.ElementTypeID != nil {
		elemPlan := m.Lookup(*f.ElementTypeID)
		elems := v.Elements[f.Name()]
		for i, e := range elems {
			b, err := Encode(m, elemPlan, e)
			if err != nil {
				return nil, 0, 0, err
			}
			if i == 0 {
				elemSize = uint64(len(b))
			} else if uint64(len(b)) != elemSize {
				return nil, 0, 0, &EncodeError{Kind: ErrInvalidArrayElementSize, Packet: d.Decl.Name(), Field: f.Name(), Index: uint64(i), Size: uint64(len(b)), Expected: elemSize}
			}
			content = append(content, b...)
		}
		count = uint64(len(elems))
	} else {
		content = v.Bytes[f.Name()]
		ew := uint64(8)
		if f.ElementWidth != nil {
			ew = uint64(*f.ElementWidth)
		}
		elemBytes := (ew + 7) / 8
		if elemBytes == 0 {
			elemBytes = 1
		}
		count = uint64(len(content)) / elemBytes
		elemSize = elemBytes
	}
	if f.PaddedSizeBytes != nil {
		max := *f.PaddedSizeBytes
		if uint64(len(content)) > max {
			return nil, 0, 0, &EncodeError{Kind: ErrSizeOverflow, Packet: d.Decl.Name(), Field: f.Name(), Size: uint64(len(content)), Max: max}
		}
		padded := make([]byte, max)
		copy(padded, content)
		content = padded
	}
	return content, count, elemSize, nil
}

func encodePackedChunk(d *DeclPlan, c *align.PackedBits, v *Value, targetBytes map[ast.FieldKey][]byte, targetCount map[ast.FieldKey]uint64, targetElemSize map[ast.FieldKey]uint64, payloadBytes []byte) ([]byte, error) {
	var chunk uint64
	for _, e := range c.Entries {
		val, err := packedEntryEncodeValue(d, e, v, targetBytes, targetCount, targetElemSize, payloadBytes)
		if err != nil {
			return nil, err
		}
		piece := (val >> e.SymbolOffset) & widthMask(e.Width)
		chunk |= piece << e.OffsetInChunk
	}
	buf := make([]byte, c.WidthBytes)
	for i := uint64(0); i < c.WidthBytes; i++ {
		buf[i] = byte(chunk >> (8 * i))
	}
	return buf, nil
}

func packedEntryEncodeValue(d *DeclPlan, e align.PackedEntry, v *Value, targetBytes map[ast.FieldKey][]byte, targetCount map[ast.FieldKey]uint64, targetElemSize map[ast.FieldKey]uint64, payloadBytes []byte) (uint64, error) {
	switch x := e.Field.(type) {
	case *ast.ScalarField:
		val := v.Scalars[x.Name()]
		if x.Width < 64 && val > widthMask(uint64(x.Width)) {
			return 0, &EncodeError{Kind: ErrInvalidScalarValue, Packet: d.Decl.Name(), Field: x.Name(), Value: val, Max: widthMask(uint64(x.Width))}
		}
		return val, nil
	case *ast.EnumField:
		return v.Scalars[x.Name()], nil
	case *ast.FlagField:
		if v.Flags[x.Name()] {
			return 1, nil
		}
		return 0, nil
	case *ast.ReservedField:
		return 0, nil
	case *ast.FixedScalarField:
		return x.Value, nil
	case *ast.FixedEnumField:
		// Resolving the tag's numeric value needs the enum declaration;
		// the evaluator only proves the bit-packing/header/range-check
		// machinery the backends share, not enum tag resolution.
		return 0, nil
	case *ast.SizeField:
		return headerEncodeValue(d, x.Name(), x.Target, x.Width, int64(x.Modifier), SourceSizeHeader, targetBytes, targetCount, targetElemSize, payloadBytes)
	case *ast.CountField:
		return headerEncodeValue(d, x.Name(), x.Target, x.Width, int64(x.Modifier), SourceCountHeader, targetBytes, targetCount, targetElemSize, payloadBytes)
	case *ast.ElementSizeField:
		return headerEncodeValue(d, x.Name(), x.Target, x.Width, int64(x.Modifier), SourceElementSizeHeader, targetBytes, targetCount, targetElemSize, payloadBytes)
	}
	return 0, nil
}

// headerEncodeValue computes a Size/Count/ElementSize header's written
// value: the target's total byte length, its element count, or (for
// ElementSize) the per-element byte stride encodeArrayContent already
// validated is uniform across the target array.
func headerEncodeValue(d *DeclPlan, name string, target ast.FieldKey, width uint8, modifier int64, source HeaderSource, targetBytes map[ast.FieldKey][]byte, targetCount map[ast.FieldKey]uint64, targetElemSize map[ast.FieldKey]uint64, payloadBytes []byte) (uint64, error) {
	var base uint64
	switch {
	case target == ast.PayloadTargetKey:
		base = uint64(len(payloadBytes))
	case source == SourceCountHeader:
		base = targetCount[target]
	case source == SourceElementSizeHeader:
		base = targetElemSize[target]
	default:
		base = uint64(len(targetBytes[target]))
	}
	raw := int64(base) + modifier
	if raw < 0 {
		raw = 0
	}
	val := uint64(raw)
	max := widthMask(uint64(width))
	if val > max {
		kind := ErrSizeOverflow
		if source == SourceCountHeader {
			kind = ErrCountOverflow
		}
		return 0, &EncodeError{Kind: kind, Packet: d.Decl.Name(), Field: name, Size: val, Count: val, Max: max}
	}
	return val, nil
}

// Decode evaluates d's Chunks against data, the reference counterpart of
// the generated decode(). A top-level (non-child, non-polymorphic)
// declaration must consume data exactly; Specialize governs what "exactly"
// means for a Packet with Children.
func Decode(m *Module, d *DeclPlan, data []byte) (*Value, error) {
	v, n, err := decodePrefix(m, d, data)
	if err != nil {
		return nil, err
	}
	if len(d.Children) == 0 && d.PayloadKind == PayloadNone && n != len(data) {
		return nil, &DecodeError{Kind: ErrTrailingBytes, Object: d.Decl.Name(), Wanted: uint64(n), Got: uint64(len(data))}
	}
	return v, nil
}

// decodePrefix decodes one occurrence of d from the start of data, without
// asserting that data is fully consumed, and reports how many bytes it
// used: the building block both Decode and array/typedef-of-struct
// decoding need.
func decodePrefix(m *Module, d *DeclPlan, data []byte) (*Value, int, error) {
	v := NewValue()
	raw := map[ast.FieldKey]uint64{}
	headerVals := map[ast.FieldKey]uint64{}
	offset := 0

	for i := range d.Chunks {
		c := &d.Chunks[i]
		switch {
		case c.Packed != nil:
			n := int(c.Packed.WidthBytes)
			if offset+n > len(data) {
				return nil, 0, &DecodeError{Kind: ErrInvalidLength, Object: d.Decl.Name(), Wanted: uint64(offset + n), Got: uint64(len(data))}
			}
			var chunk uint64
			for i, b := range data[offset : offset+n] {
				chunk |= uint64(b) << (8 * uint(i))
			}
			offset += n
			for _, e := range c.Packed.Entries {
				piece := (chunk >> e.OffsetInChunk) & widthMask(e.Width)
				if err := storePackedEntry(d, v, raw, headerVals, e, piece); err != nil {
					return nil, 0, err
				}
			}
		case c.ByteItem != nil:
			n, err := decodeByteItem(m, d, c.ByteItem, v, headerVals, data[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += n
		}
	}

	switch d.PayloadKind {
	case PayloadClosedBody:
		v.Payload = append([]byte{}, data[offset:]...)
		offset = len(data)
	case PayloadOpen:
		n, ok := resolvePayloadLen(d, headerVals, len(data)-offset)
		if !ok || offset+n > len(data) {
			return nil, 0, &DecodeError{Kind: ErrInvalidLength, Object: d.Decl.Name(), Wanted: uint64(n), Got: uint64(len(data) - offset)}
		}
		v.Payload = append([]byte{}, data[offset:offset+n]...)
		offset += n
	}
	return v, offset, nil
}

func storePackedEntry(d *DeclPlan, v *Value, raw, headerVals map[ast.FieldKey]uint64, e align.PackedEntry, piece uint64) error {
	key := e.Field.Key()
	raw[key] |= piece << e.SymbolOffset
	if e.IsPartial && e.PartialLow {
		return nil // wait for the high half before interpreting the full value
	}
	val := raw[key]
	switch x := e.Field.(type) {
	case *ast.ScalarField:
		v.Scalars[x.Name()] = val
	case *ast.EnumField:
		v.Scalars[x.Name()] = val
	case *ast.FlagField:
		v.Flags[x.Name()] = val != 0
	case *ast.ReservedField, *ast.FixedEnumField:
		// Reserved bits are ignored; fixed-enum tag verification needs enum
		// resolution the evaluator deliberately doesn't model (see encode).
	case *ast.FixedScalarField:
		if val != x.Value {
			return &DecodeError{Kind: ErrInvalidFixedValue, Object: d.Decl.Name(), Expected: x.Value, Actual: val}
		}
	case *ast.SizeField, *ast.CountField, *ast.ElementSizeField:
		headerVals[key] = val
	}
	return nil
}

func decodeByteItem(m *Module, d *DeclPlan, b *align.Bytes, v *Value, headerVals map[ast.FieldKey]uint64, rest []byte) (int, error) {
	switch x := b.Field.(type) {
	case *ast.ArrayField:
		return decodeArray(m, d, x, v, headerVals, rest)
	case *ast.TypedefField:
		elemPlan := m.Lookup(x.TypeID)
		if elemPlan == nil {
			return 0, nil
		}
		_, n, err := decodePrefix(m, elemPlan, rest)
		if err != nil {
			return 0, err
		}
		v.Bytes[x.Name()] = append([]byte{}, rest[:n]...)
		return n, nil
	case *ast.ChecksumField:
		// The checksum's own value is produced by a target-supplied
		// function over a declared byte span; the evaluator doesn't model
		// checksum algorithms, only where their bytes live.
		return 0, nil
	default:
		return 0, nil
	}
}

// findHeaders returns every Size/Count/ElementSize field among fields that
// targets key. Unlike FindHeader (which assumes at most one applies — true
// for a plain Size or Count target), an array may carry both a Count and an
// ElementSize header together (total element count plus per-element byte
// stride), so decodeArray needs all of them.
func findHeaders(fields []ast.Field, target ast.FieldKey) []ast.Field {
	var out []ast.Field
	for _, f := range fields {
		if info, ok := DescribeHeader(f); ok && info.Target == target {
			out = append(out, f)
		}
	}
	return out
}

func decodeArray(m *Module, d *DeclPlan, f *ast.ArrayField, v *Value, headerVals map[ast.FieldKey]uint64, rest []byte) (int, error) {
	var extentBytes int
	var count int
	var elemSize int
	haveCount := false
	haveBytes := false
	haveElemSize := false

	for _, header := range findHeaders(d.Fields, f.Key()) {
		info, _ := DescribeHeader(header)
		raw := headerVals[header.Key()]
		signed := int64(raw) - info.Modifier
		if signed < 0 {
			signed = 0
		}
		switch info.Source {
		case SourceCountHeader:
			count, haveCount = int(signed), true
		case SourceElementSizeHeader:
			elemSize, haveElemSize = int(signed), true
		default:
			extentBytes, haveBytes = int(signed), true
		}
	}
	if !haveCount && !haveBytes {
		switch f.SizeKind {
		case ast.ArraySizeCount:
			count, haveCount = int(f.Count), true
		case ast.ArraySizeByteSize:
			extentBytes, haveBytes = int(f.ByteSize), true
		default:
			if !haveElemSize {
				extentBytes, haveBytes = len(rest), true
			}
		}
	}

	if f.ElementTypeID != nil {
		elemPlan := m.Lookup(*f.ElementTypeID)
		var elems []*Value
		consumed := 0
		limit := len(rest)
		if haveBytes {
			limit = extentBytes
		}
		switch {
		case haveElemSize:
			// Per-element byte stride is fixed by the header: read exactly
			// elemSize bytes per element (count of them if a Count header
			// is also present, otherwise greedily until the region, or the
			// whole buffer, is exhausted), rather than letting each
			// element's own decode decide how many bytes it consumes.
			readOne := func() error {
				if consumed+elemSize > len(rest) || (haveBytes && consumed+elemSize > limit) {
					return &DecodeError{Kind: ErrInvalidLength, Object: d.Decl.Name(), Wanted: uint64(consumed + elemSize), Got: uint64(len(rest))}
				}
				chunk := rest[consumed : consumed+elemSize]
				ev, n, err := decodePrefix(m, elemPlan, chunk)
				if err != nil {
					return err
				}
				if n != elemSize {
					return &DecodeError{Kind: ErrInvalidArrayElementSize, Object: d.Decl.Name(), Field: f.Name(), Index: uint64(len(elems)), Expected: uint64(elemSize), Actual: uint64(n)}
				}
				elems = append(elems, ev)
				consumed += n
				return nil
			}
			if haveCount {
				for i := 0; i < count; i++ {
					if err := readOne(); err != nil {
						return 0, err
					}
				}
			} else {
				end := limit
				if !haveBytes {
					end = len(rest)
				}
				for consumed < end {
					if err := readOne(); err != nil {
						return 0, err
					}
				}
			}
		case haveCount:
			for i := 0; i < count; i++ {
				if consumed > len(rest) {
					return 0, &DecodeError{Kind: ErrInvalidLength, Object: d.Decl.Name(), Wanted: uint64(consumed), Got: uint64(len(rest))}
				}
				ev, n, err := decodePrefix(m, elemPlan, rest[consumed:])
				if err != nil {
					return 0, err
				}
				elems = append(elems, ev)
				consumed += n
			}
		default:
			for consumed < limit {
				ev, n, err := decodePrefix(m, elemPlan, rest[consumed:limit])
				if err != nil {
					return 0, err
				}
				if n == 0 {
					break
				}
				elems = append(elems, ev)
				consumed += n
			}
		}
		v.Elements[f.Name()] = elems
		return consumed, nil
	}

	ew := uint64(8)
	if f.ElementWidth != nil {
		ew = uint64(*f.ElementWidth)
	}
	elemBytes := int((ew + 7) / 8)
	if elemBytes == 0 {
		elemBytes = 1
	}
	if haveElemSize {
		elemBytes = elemSize
	}
	if haveCount {
		extentBytes = count * elemBytes
	}
	if !haveBytes && !haveCount && haveElemSize {
		extentBytes, haveBytes = len(rest), true
	}
	if f.PaddedSizeBytes != nil {
		extentBytes = int(*f.PaddedSizeBytes)
	}
	if extentBytes > len(rest) {
		return 0, &DecodeError{Kind: ErrInvalidLength, Object: d.Decl.Name(), Wanted: uint64(extentBytes), Got: uint64(len(rest))}
	}
	v.Bytes[f.Name()] = append([]byte{}, rest[:extentBytes]...)
	return extentBytes, nil
}

func resolvePayloadLen(d *DeclPlan, headerVals map[ast.FieldKey]uint64, remaining int) (int, bool) {
	switch d.PayloadExtent.Source {
	case SourceSizeHeader, SourceCountHeader:
		header := d.PayloadExtent.Header
		raw, ok := headerVals[header.Key()]
		if !ok {
			return 0, false
		}
		info, _ := DescribeHeader(header)
		signed := int64(raw) - info.Modifier
		if signed < 0 {
			return 0, false
		}
		return int(signed), true
	case SourceLiteral:
		return int(d.PayloadExtent.Literal), true
	default:
		return remaining, true
	}
}

// Specialize chooses the most specific child variant of a decoded Packet
// value v, per spec §4.4: try each declared child in declaration order,
// accept the first whose Constraints match v's already-decoded fields and
// whose own fields decode cleanly, then recurse into that child's own
// children. variant is the dotted child name chosen ("" means v itself, the
// raw-payload fallback).
//
// A child's own Fields (scope.Scope.IterFields) run root-to-leaf: they
// include the fields d already decoded (everything up to the payload) ahead
// of the child's locally declared fields, because a child's generated
// decode/encode is a self-contained view of the whole frame, not just the
// payload suffix (spec §9: "encode(p) == encode(c)" for a successfully
// specialized child). So the child must be decoded from the same bytes d
// itself was decoded from, not from v.Payload alone. Since Encode/Decode
// round-trip, re-encoding v reconstructs those bytes without needing the
// original buffer threaded through every recursive call.
//
// Recursing into a further level only makes sense when the child itself
// declares a payload/body: that placeholder is the only thing Encode will
// re-serialize on the next recursive call, so a child with Children but no
// payload/body of its own is treated as a dispatch leaf (matching
// render/rust and render/java, which likewise never emit a specialize()
// method for such a declaration).
func Specialize(m *Module, d *DeclPlan, v *Value) (chosen *Value, variant string, err error) {
	full, encErr := Encode(m, d, v)
	if encErr != nil {
		return v, "", nil // can't reconstruct d's own frame; no specialization possible
	}
	for _, c := range d.Children {
		if !constraintsMatch(c.Constraints, v.Scalars) {
			continue
		}
		childPlan := m.Lookup(c.Child.Key())
		if childPlan == nil {
			continue
		}
		cv, n, derr := decodePrefix(m, childPlan, full)
		if derr != nil {
			continue // constraints matched but the child's own frame doesn't fit: not a match
		}
		if childPlan.PayloadKind == PayloadNone && n != len(full) {
			continue // no payload/body to hold the remaining bytes: not a clean match
		}
		name := c.Child.Name()
		if len(childPlan.Children) > 0 && childPlan.PayloadKind != PayloadNone {
			gv, grandName, _ := Specialize(m, childPlan, cv)
			if grandName != "" {
				return gv, name + "/" + grandName, nil
			}
			return gv, name, nil
		}
		return cv, name, nil
	}
	return v, "", nil
}

func constraintsMatch(cs []ast.Constraint, scalars map[string]uint64) bool {
	for _, c := range cs {
		if c.IsEnumTag {
			// Enum-tag constraints need enum resolution the evaluator
			// doesn't model; none of the reference scenarios use one.
			return false
		}
		if scalars[c.FieldName] != c.IntValue {
			return false
		}
	}
	return true
}
