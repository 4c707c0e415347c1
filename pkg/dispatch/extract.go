package dispatch

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ErrNoJSON is returned when task output holds no usable JSON object.
var ErrNoJSON = errors.New("no JSON object found in output")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(.*?)```")

// mojibake maps byte sequences produced by double-encoded punctuation to
// their ASCII equivalents.
var mojibake = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`ÔÇô|ÔÇö|â€“|â€”`), "-"},
	{regexp.MustCompile(`ÔÇª|â€¦`), "..."},
	{regexp.MustCompile(`ا"اخaُ|ا"اخa|ا"اخ`), "-"},
}

// RepairText decodes UTF-16 and BOM-prefixed output and replaces common
// mojibake so the text can be parsed as JSON.
func RepairText(raw []byte) string {
	var text string
	switch {
	case bytes.HasPrefix(raw, []byte{0xff, 0xfe}):
		text = decodeUTF16(raw[2:], false)
	case bytes.HasPrefix(raw, []byte{0xfe, 0xff}):
		text = decodeUTF16(raw[2:], true)
	case bytes.HasPrefix(raw, []byte{0xef, 0xbb, 0xbf}):
		text = strings.ToValidUTF8(string(raw[3:]), string(utf8.RuneError))
	default:
		text = strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}

	for _, m := range mojibake {
		text = m.pattern.ReplaceAllString(text, m.replacement)
	}
	return text
}

func decodeUTF16(b []byte, bigEndian bool) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if bigEndian {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			units = append(units, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return string(utf16.Decode(units))
}

// ExtractJSON finds the JSON object in model output. The whole text is tried
// first, then fenced code blocks, then each balanced {...} span in order.
func ExtractJSON(raw []byte) (json.RawMessage, error) {
	text := strings.TrimSpace(RepairText(raw))

	if obj, ok := asObject(text); ok {
		return obj, nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if obj, ok := asObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchingBrace(text, start); end > start {
			if obj, ok := asObject(text[start : end+1]); ok {
				return obj, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	return nil, ErrNoJSON
}

func asObject(s string) (json.RawMessage, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var v map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// matchingBrace returns the index of the brace closing the one at start,
// skipping braces inside JSON strings, or -1.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
