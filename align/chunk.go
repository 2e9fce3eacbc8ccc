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

// Package align groups a declaration's fields into the byte-aligned chunks
// the backend emits as single load/store operations: contiguous runs of
// bit-width carriers collapse into one PackedBits chunk, while byte-aligned
// items (arrays, payloads, typedefs of structs, padding markers) each get
// their own Bytes chunk. This is the same accumulate-then-flush discipline
// internal/cgen's funk buffers use for building a function body before
// rendering it, applied here to bit layout instead of statements.
package align

import "github.com/google/pdl-compiler/ast"

// ChunkWidthBytes picks the byte width of the integer load/store operation
// used for a PackedBits chunk of the given bit width: the smallest
// power-of-two byte count that can hold it, except for 24 bits, which gets
// its own explicit 3-byte unit rather than rounding up to 4 (spec §4.3).
func ChunkWidthBytes(bits uint64) uint64 {
	if bits == 24 {
		return 3
	}
	bytes := (bits + 7) / 8
	w := uint64(1)
	for w < bytes {
		w *= 2
	}
	return w
}

// PackedEntry is one bit-field's placement within a PackedBits chunk.
type PackedEntry struct {
	Field         ast.Field
	OffsetInChunk uint64 // bit offset of this field's low bit within the chunk
	Width         uint64 // this entry's width in bits (may be a partial split)
	SymbolOffset  uint64 // bit offset of this entry within the field's own value
	IsPartial     bool
	PartialLow    bool // true for the low half of a split field, false for the high half
}

// PackedBits is a contiguous run of bit-packed fields whose cumulative
// width is a multiple of 8, rendered as a single unsigned integer
// load/store of WidthBytes bytes.
type PackedBits struct {
	WidthBits  uint64
	WidthBytes uint64
	Entries    []PackedEntry
}

// BytesChunkKind discriminates what a Bytes chunk actually emits.
type BytesChunkKind uint8

const (
	BytesArray BytesChunkKind = iota
	BytesPayload
	BytesBody
	BytesTypedefStruct
	BytesPadding
	BytesChecksum
)

// Bytes is a byte-aligned field emitted through its own encode/decode
// routine rather than folded into a PackedBits load/store.
type Bytes struct {
	Field ast.Field
	Kind  BytesChunkKind
}

// Chunk is either a PackedBits run or a single Bytes item. Exactly one of
// Packed and ByteItem is non-nil.
type Chunk struct {
	Packed   *PackedBits
	ByteItem *Bytes
}
