// Package specialist loads specialist definitions and composes their system
// prompts.
//
// A definition is a markdown file with a YAML header:
//
//	---
//	name: python-refactorer
//	description: Refactors Python modules
//	tools: Read, Edit, Glob
//	skills: [python-style]
//	model: haiku
//	---
//	You are a Python refactoring specialist...
package specialist

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is an immutable specialist configuration.
type Definition struct {
	Name         string
	Description  string
	Instructions string
	Tools        []string
	Skills       []string
	Model        string
}

// HasTool reports whether the definition allows the named tool.
func (d Definition) HasTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// header is the YAML block at the top of a definition file.
type header struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Tools       listOrCSV `yaml:"tools"`
	Skills      listOrCSV `yaml:"skills"`
	Model       string    `yaml:"model"`
}

// listOrCSV accepts either a YAML sequence or a comma-separated scalar.
type listOrCSV []string

func (l *listOrCSV) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = splitCSV(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = dedupe(items)
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return dedupe(out)
}

// dedupe trims items and drops empties and repeats, keeping first order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

var delimiter = []byte("---")

// Parse decodes one definition unit. file is used for the default name and
// error messages. A unit without a header block is all instructions.
func Parse(file string, content []byte) (Definition, error) {
	stem := strings.TrimSuffix(path.Base(file), path.Ext(file))
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	rawHeader, body, hasHeader, err := splitFrontmatter(content)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, file, err)
	}

	var h header
	if hasHeader {
		if err := yaml.Unmarshal(rawHeader, &h); err != nil {
			return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, file, err)
		}
	}

	def := Definition{
		Name:         strings.TrimSpace(h.Name),
		Description:  strings.TrimSpace(h.Description),
		Instructions: strings.TrimSpace(string(body)),
		Tools:        []string(h.Tools),
		Skills:       []string(h.Skills),
		Model:        strings.TrimSpace(h.Model),
	}
	if def.Name == "" {
		def.Name = stem
	}
	if def.Name == "" {
		return Definition{}, fmt.Errorf("%w: %s: no name", ErrInvalidDefinition, file)
	}
	return def, nil
}

// splitFrontmatter separates a leading "---" delimited block from the body.
func splitFrontmatter(content []byte) (head, body []byte, ok bool, err error) {
	first, rest, found := bytes.Cut(content, []byte("\n"))
	if !bytes.Equal(bytes.TrimSpace(first), delimiter) {
		return nil, content, false, nil
	}
	if !found {
		return nil, nil, false, fmt.Errorf("unterminated header")
	}

	lines := bytes.SplitAfter(rest, []byte("\n"))
	offset := 0
	for _, line := range lines {
		if bytes.Equal(bytes.TrimSpace(line), delimiter) {
			return rest[:offset], rest[offset+len(line):], true, nil
		}
		offset += len(line)
	}
	return nil, nil, false, fmt.Errorf("unterminated header")
}

// Model aliases passed through to the upstream as-is.
var modelAliases = map[string]struct{}{
	"haiku":  {},
	"sonnet": {},
	"opus":   {},
}

// ResolveModel returns the model a definition should run with: its alias if
// it names a known one, otherwise fallback.
func ResolveModel(def Definition, fallback string) string {
	if _, ok := modelAliases[strings.ToLower(def.Model)]; ok {
		return strings.ToLower(def.Model)
	}
	return fallback
}
