package memory

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		items  []Content
		want   string
		wantOK bool
	}{
		{
			name:   "plain text",
			items:  []Content{{Type: "text", Text: "user likes tea"}},
			want:   "user likes tea",
			wantOK: true,
		},
		{
			name: "python literal with uuid",
			items: []Content{{Type: "text",
				Text: "{'search_result': ['a', 'b'], 'dataset_id': UUID('123e4567-e89b-12d3-a456-426614174000')}"}},
			want:   "a\nb",
			wantOK: true,
		},
		{
			name:   "json mapping",
			items:  []Content{{Type: "text", Text: `{"search_result": ["x", "y"]}`}},
			want:   "x\ny",
			wantOK: true,
		},
		{
			name:   "scalar search result",
			items:  []Content{{Type: "text", Text: "{'search_result': 'only one'}"}},
			want:   "only one",
			wantOK: true,
		},
		{
			name:   "undecodable marker text kept verbatim",
			items:  []Content{{Type: "text", Text: "search_result: broken {"}},
			want:   "search_result: broken {",
			wantOK: true,
		},
		{
			name:   "mapping without key kept verbatim",
			items:  []Content{{Type: "text", Text: "{'other': 1, 'note': 'search_result'}"}},
			want:   "{'other': 1, 'note': 'search_result'}",
			wantOK: true,
		},
		{
			name:   "non text items ignored",
			items:  []Content{{Type: "image"}, {Type: "text", Text: "kept"}},
			want:   "kept",
			wantOK: true,
		},
		{
			name:   "multiple items joined",
			items:  []Content{{Type: "text", Text: "first"}, {Type: "text", Text: "second"}},
			want:   "first\nsecond",
			wantOK: true,
		},
		{
			name:   "whitespace only",
			items:  []Content{{Type: "text", Text: "  \n\t "}},
			wantOK: false,
		},
		{
			name:   "empty search result list",
			items:  []Content{{Type: "text", Text: "{'search_result': []}"}},
			wantOK: false,
		},
		{
			name:   "no items",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.items)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTruncatesLongMemories(t *testing.T) {
	got, ok := Normalize([]Content{{Type: "text", Text: strings.Repeat("a", 5000)}})
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("a", MaxMemoryChars)+"\n...(memories truncated for brevity)...", got)
}

func TestTruncateCountsCodePoints(t *testing.T) {
	text := strings.Repeat("é", MaxMemoryChars+10)
	got, ok := Truncate(text)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, strings.Repeat("é", MaxMemoryChars)+"\n..."))

	exact := strings.Repeat("é", MaxMemoryChars)
	got, ok = Truncate(exact)
	require.True(t, ok)
	assert.Equal(t, exact, got)
}

func TestDecodeSearchResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decoded
	}{
		{
			name: "double quoted strings with escapes",
			raw:  `{"search_result": ["it's \"quoted\"\nline"], 'x': None}`,
			want: Decoded{Kind: KindDecoded, Values: []string{"it's \"quoted\"\nline"}},
		},
		{
			name: "non string list element does not decode",
			raw:  "{'search_result': ['a', {'k': 1}]}",
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "mapping rendered like str",
			raw:  `{'search_result': {'k': [1, 2.5, True, None, ('a',)], 'q': "it's"}}`,
			want: Decoded{Kind: KindDecoded, Values: []string{`{'k': [1, 2.5, True, None, ('a',)], 'q': "it's"}`}},
		},
		{
			name: "tuple is rendered as a single value",
			raw:  "{'search_result': ('a', 'b')}",
			want: Decoded{Kind: KindDecoded, Values: []string{"('a', 'b')"}},
		},
		{
			name: "integer scalar",
			raw:  "{'search_result': -42}",
			want: Decoded{Kind: KindDecoded, Values: []string{"-42"}},
		},
		{
			name: "json list with a number does not decode",
			raw:  `{"search_result": [1, "two"]}`,
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "json scalar number kept raw",
			raw:  `{"search_result": 7}`,
			want: Decoded{Kind: KindDecoded, Values: []string{"7"}},
		},
		{
			name: "trailing commas and triple quotes",
			raw:  "{'search_result': ['''multi\nline''', ], }",
			want: Decoded{Kind: KindDecoded, Values: []string{"multi\nline"}},
		},
		{
			name: "hex and unicode escapes",
			raw:  `{'search_result': 'é\x41\xe9ü\\xe9'}`,
			want: Decoded{Kind: KindDecoded, Values: []string{`éAéü\xe9`}},
		},
		{
			name: "negative float",
			raw:  "{'search_result': -0.5}",
			want: Decoded{Kind: KindDecoded, Values: []string{"-0.5"}},
		},
		{
			name: "expressions are not literals",
			raw:  "{'search_result': 1 + 2}",
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "bytes are not decoded",
			raw:  "{'search_result': b'raw'}",
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "top level list is verbatim",
			raw:  "['search_result']",
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "json array is verbatim",
			raw:  `["search_result"]`,
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "unknown names fail",
			raw:  "{'search_result': datetime(2024, 1, 1)}",
			want: Decoded{Kind: KindVerbatim},
		},
		{
			name: "trailing garbage fails",
			raw:  "{'search_result': 'a'} extra",
			want: Decoded{Kind: KindVerbatim},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeSearchResult(tt.raw))
		})
	}
}

func TestDecodeSearchResultNeverPanics(t *testing.T) {
	inputs := []string{"", "{", "{'search_result'", "{'search_result':", "'\\", "(", "{1,", "-", "r'", "'''abc", "{'a': 'b' 'c'"}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = DecodeSearchResult(in) }, in)
	}
}
