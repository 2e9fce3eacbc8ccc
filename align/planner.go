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

package align

import (
	"fmt"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/scope"
)

// maxChunkBits is the widest integer load/store the planner will ever
// build; a bit-field run is split across two PackedBits chunks rather than
// grow past it.
const maxChunkBits = 64

// Plan groups fields (as returned by scope.Scope.IterFields, so inherited
// fields precede local ones) into the chunk sequence the backend renders.
// It never reorders fields: it only decides where one PackedBits chunk
// ends and the next chunk (Packed or Bytes) begins.
func Plan(fields []ast.Field, schema *analyzer.Schema, sc *scope.Scope) ([]Chunk, error) {
	p := &planner{schema: schema, sc: sc}
	for _, f := range fields {
		if err := p.step(f); err != nil {
			return nil, err
		}
	}
	p.flush()
	return p.chunks, nil
}

type planner struct {
	schema  *analyzer.Schema
	sc      *scope.Scope
	pending []PackedEntry
	bits    uint64
	chunks  []Chunk
}

func (p *planner) step(f ast.Field) error {
	if p.sc.IsBitfield(f) {
		return p.accumulate(f)
	}
	// A Padding field never emits its own chunk; it only annotates the
	// Array that precedes it (already reflected in the schema's
	// HasPadding/PaddedBits), so the field itself is dropped.
	if _, ok := f.(*ast.PaddingField); ok {
		return nil
	}
	if len(p.pending) != 0 {
		// Spec invariant: a bit-width run must end at a byte boundary
		// before a byte-aligned field. The analyzer is responsible for
		// rejecting PDL that violates this; a field list that reaches
		// here with pending, unaligned bits is malformed input.
		return fmt.Errorf("align: field %q is byte-aligned but %d pending bit(s) remain unflushed", f.Name(), p.bits%8)
	}
	p.chunks = append(p.chunks, Chunk{ByteItem: &Bytes{Field: f, Kind: bytesKindOf(f, p.sc)}})
	return nil
}

func bytesKindOf(f ast.Field, sc *scope.Scope) BytesChunkKind {
	switch f.(type) {
	case *ast.ArrayField:
		return BytesArray
	case *ast.PayloadField:
		return BytesPayload
	case *ast.BodyField:
		return BytesBody
	case *ast.TypedefField:
		return BytesTypedefStruct
	case *ast.ChecksumField:
		return BytesChecksum
	}
	return BytesArray
}

func (p *planner) accumulate(f ast.Field) error {
	width, ok := fieldBitWidth(f, p.schema)
	if !ok {
		return fmt.Errorf("align: field %q has no statically known bit width and cannot be bit-packed", f.Name())
	}
	room := maxChunkBits - p.bits
	if width <= room {
		p.pending = append(p.pending, PackedEntry{
			Field:         f,
			OffsetInChunk: p.bits,
			Width:         width,
			SymbolOffset:  0,
		})
		p.bits += width
		if p.bits%8 == 0 || p.bits == maxChunkBits {
			p.flush()
		}
		return nil
	}

	// The field's full width does not fit in the current chunk: split it.
	// room bits go into the current chunk as the low half (symbol offset
	// 0); the remaining high bits become the first entry of the next
	// chunk (symbol offset == room), per the "Chunk split" glossary entry.
	low := room
	high := width - room
	if low > 0 {
		p.pending = append(p.pending, PackedEntry{
			Field: f, OffsetInChunk: p.bits, Width: low, SymbolOffset: 0,
			IsPartial: true, PartialLow: true,
		})
		p.bits += low
	}
	p.flush()
	p.pending = append(p.pending, PackedEntry{
		Field: f, OffsetInChunk: 0, Width: high, SymbolOffset: low,
		IsPartial: true, PartialLow: false,
	})
	p.bits = high
	if p.bits%8 == 0 {
		p.flush()
	}
	return nil
}

func (p *planner) flush() {
	if len(p.pending) == 0 {
		return
	}
	bits := p.bits
	p.chunks = append(p.chunks, Chunk{Packed: &PackedBits{
		WidthBits:  bits,
		WidthBytes: ChunkWidthBytes(bits),
		Entries:    p.pending,
	}})
	p.pending = nil
	p.bits = 0
}

// fieldBitWidth returns a bitfield's statically-known width, as recorded by
// the Schema. Flag fields are always 1 bit wide by construction.
func fieldBitWidth(f ast.Field, schema *analyzer.Schema) (uint64, bool) {
	switch f.(type) {
	case *ast.FlagField:
		return 1, true
	}
	fs := schema.Fields[f.Key()]
	return fs.Static()
}
