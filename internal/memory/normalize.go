package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// MaxMemoryChars caps the injected memory block, counted in code points.
	MaxMemoryChars = 4000

	truncationMarker = "\n...(memories truncated for brevity)..."
	searchResultKey  = "search_result"
)

// Content is one item of a memory tool result. Only text items carry Text.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// DecodeKind tags the outcome of DecodeSearchResult.
type DecodeKind int

const (
	// KindVerbatim means the payload could not be decoded and the raw text should be used.
	KindVerbatim DecodeKind = iota
	// KindDecoded means Values holds the rendered search_result entries.
	KindDecoded
)

// Decoded is the result of DecodeSearchResult.
type Decoded struct {
	Kind   DecodeKind
	Values []string
}

var reUUIDWrapper = regexp.MustCompile(`UUID\('([^']+)'\)`)

// Normalize folds memory tool output into one bounded text block.
// The second return value is false when nothing usable was produced.
func Normalize(items []Content) (string, bool) {
	var b strings.Builder
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		if strings.Contains(item.Text, searchResultKey) {
			decoded := DecodeSearchResult(item.Text)
			if decoded.Kind == KindDecoded {
				b.WriteString(strings.Join(decoded.Values, "\n"))
			} else {
				b.WriteString(item.Text)
			}
		} else {
			b.WriteString(item.Text)
		}
		b.WriteString("\n")
	}
	return Truncate(b.String())
}

// Truncate trims text and caps it at MaxMemoryChars, appending a marker when cut.
func Truncate(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if utf8.RuneCountInString(trimmed) <= MaxMemoryChars {
		return trimmed, true
	}
	runes := []rune(trimmed)
	return string(runes[:MaxMemoryChars]) + truncationMarker, true
}

// DecodeSearchResult extracts the search_result field from a JSON or Python-literal
// mapping. A list of strings yields one value per element; any other value is
// rendered like str(). A list holding a non-string element does not decode.
func DecodeSearchResult(raw string) Decoded {
	text := strings.TrimSpace(reUUIDWrapper.ReplaceAllString(raw, `'$1'`))
	if text == "" {
		return Decoded{Kind: KindVerbatim}
	}

	if gjson.Valid(text) {
		root := gjson.Parse(text)
		if !root.IsObject() {
			return Decoded{Kind: KindVerbatim}
		}
		result := root.Get(searchResultKey)
		if !result.Exists() {
			return Decoded{Kind: KindVerbatim}
		}
		if result.IsArray() {
			values := make([]string, 0, len(result.Array()))
			for _, item := range result.Array() {
				if item.Type != gjson.String {
					return Decoded{Kind: KindVerbatim}
				}
				values = append(values, item.Str)
			}
			return Decoded{Kind: KindDecoded, Values: values}
		}
		return Decoded{Kind: KindDecoded, Values: []string{jsonString(result)}}
	}

	value, err := parsePyLiteral(text)
	if err != nil {
		return Decoded{Kind: KindVerbatim}
	}
	mapping, ok := value.(pyDict)
	if !ok {
		return Decoded{Kind: KindVerbatim}
	}
	result, ok := mapping.get(searchResultKey)
	if !ok {
		return Decoded{Kind: KindVerbatim}
	}
	if items, isList := result.(pyList); isList && !items.tuple {
		values := make([]string, 0, len(items.items))
		for _, item := range items.items {
			text, isString := item.(string)
			if !isString {
				return Decoded{Kind: KindVerbatim}
			}
			values = append(values, text)
		}
		return Decoded{Kind: KindDecoded, Values: values}
	}
	return Decoded{Kind: KindDecoded, Values: []string{pyStr(result)}}
}

func jsonString(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}
