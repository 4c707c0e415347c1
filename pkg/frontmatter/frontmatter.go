// Package frontmatter reads the YAML header of markdown catalog files (skills
// and agent profiles) and decodes it into typed metadata.
package frontmatter

import (
	"bytes"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// ErrMissing is returned by Parse when the document has no frontmatter.
var ErrMissing = errors.New("missing frontmatter")

// Parse splits a markdown document into its frontmatter fields and body.
func Parse(content []byte) (map[string]interface{}, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse markdown")
	}

	fields, err := meta.TryGet(pctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid frontmatter")
	}
	if len(fields) == 0 {
		return nil, Body(string(content)), ErrMissing
	}

	return fields, Body(string(content)), nil
}

// Body removes the frontmatter block and returns the remaining markdown.
func Body(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}

// Decode maps frontmatter fields onto out using its `yaml` struct tags.
// Scalars are weakly typed and comma-separated strings decode into slices.
func Decode(fields map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       splitListHook,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create frontmatter decoder")
	}

	if err := decoder.Decode(fields); err != nil {
		return errors.Wrap(err, "failed to decode frontmatter")
	}
	return nil
}

// splitListHook turns "a, b, c" into []string{"a", "b", "c"}.
func splitListHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}

	raw, _ := data.(string)
	result := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result, nil
}
