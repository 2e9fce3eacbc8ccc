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

package render_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/pdl-compiler/render"
)

func TestNamingHelpersAgreeAcrossBackends(t *testing.T) {
	cases := []struct {
		name, wantType, wantBuilder, wantDecode, wantEncode string
	}{
		{"foo", "Foo", "FooBuilder", "decodeFoo", "encodeFoo"},
		{"Bar", "Bar", "BarBuilder", "decodeBar", "encodeBar"},
	}
	for _, c := range cases {
		require.Equal(t, c.wantType, render.TypeName(c.name))
		require.Equal(t, c.wantBuilder, render.BuilderName(c.name))
		require.Equal(t, c.wantDecode, render.DecodeFuncName(c.name))
		require.Equal(t, c.wantEncode, render.EncodeFuncName(c.name))
	}
}

func TestUintTypeForWidthPicksSmallestFit(t *testing.T) {
	cases := []struct {
		bits uint64
		want string
	}{
		{1, "u8"}, {8, "u8"}, {9, "u16"}, {16, "u16"}, {17, "u32"}, {32, "u32"}, {33, "u64"}, {64, "u64"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, render.UintTypeForWidth(c.bits), "UintTypeForWidth(%d)", c.bits)
	}
}
