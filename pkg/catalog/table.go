package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Mapping ties a process to the skills and agents a backlog table assigns it.
type Mapping struct {
	Process string   `json:"process"`
	Skills  []string `json:"skills,omitempty"`
	Agents  []string `json:"agents,omitempty"`
	Source  string   `json:"source"`
}

type columns struct {
	process, skills, agents int
}

// ParseMappings extracts mappings from every GFM table in source whose header
// has a Process column plus a Skills and/or Agents column.
func ParseMappings(source []byte, name string) ([]Mapping, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta, extension.Table),
	)
	doc := md.Parser().Parse(text.NewReader(source))

	var mappings []Mapping
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		table, ok := n.(*east.Table)
		if !ok {
			return ast.WalkContinue, nil
		}

		mappings = append(mappings, tableMappings(table, source, name)...)
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %s", name)
	}

	return mappings, nil
}

func tableMappings(table *east.Table, source []byte, name string) []Mapping {
	cols := columns{process: -1, skills: -1, agents: -1}
	var mappings []Mapping

	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		cells := rowCells(row, source)

		if _, isHeader := row.(*east.TableHeader); isHeader {
			for i, header := range cells {
				h := strings.ToLower(header)
				switch {
				case strings.Contains(h, "process") && cols.process < 0:
					cols.process = i
				case strings.Contains(h, "skill") && cols.skills < 0:
					cols.skills = i
				case strings.Contains(h, "agent") && cols.agents < 0:
					cols.agents = i
				}
			}
			if cols.process < 0 || (cols.skills < 0 && cols.agents < 0) {
				return nil
			}
			continue
		}

		process := cleanID(cell(cells, cols.process))
		if process == "" {
			continue
		}
		mappings = append(mappings, Mapping{
			Process: process,
			Skills:  splitIDs(cell(cells, cols.skills)),
			Agents:  splitIDs(cell(cells, cols.agents)),
			Source:  name,
		})
	}

	return mappings
}

func rowCells(row ast.Node, source []byte) []string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*east.TableCell); ok {
			cells = append(cells, strings.TrimSpace(inlineText(c, source)))
		}
	}
	return cells
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// inlineText concatenates the literal text beneath n, dropping emphasis,
// code span and link markup.
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		default:
			sb.WriteString(inlineText(c, source))
		}
	}
	return sb.String()
}

var emptyCells = map[string]bool{"": true, "-": true, "—": true, "n/a": true, "none": true, "tbd": true}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		id := cleanID(part)
		if !emptyCells[strings.ToLower(id)] {
			ids = append(ids, id)
		}
	}
	return ids
}

func cleanID(raw string) string {
	id := strings.Trim(strings.TrimSpace(raw), "`*_ ")
	if emptyCells[strings.ToLower(id)] {
		return ""
	}
	return id
}

// LoadMappings parses every markdown file found under dirs.
func LoadMappings(dirs ...string) ([]Mapping, error) {
	var mappings []Mapping
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(dir), "**/*.md", doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan catalog directory %s", dir)
		}
		sort.Strings(matches)

		for _, m := range matches {
			path := filepath.Join(dir, filepath.FromSlash(m))
			found, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			mappings = append(mappings, found...)
		}
	}
	return mappings, nil
}

// LoadFile parses the mapping tables of a single markdown file.
func LoadFile(path string) ([]Mapping, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog file %s", path)
	}
	return ParseMappings(content, path)
}
