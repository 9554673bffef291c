package specialist

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"unicode/utf8"
)

const (
	skillTruncateBytes = 500
	skillTruncatedNote = "\n... (truncated for efficiency)"
)

// DefaultTools is used when a definition lists no tools.
var DefaultTools = []string{"Read", "Edit", "Glob"}

// Skill is auxiliary guidance appended to a specialist's prompt.
type Skill struct {
	Name    string
	Content string
}

// SkillSource loads skills from <dir>/<name>.md in fsys.
type SkillSource struct {
	FS  fs.FS
	Dir string
}

// Load returns the skills named by the given definitions, each loaded once
// in first-reference order. Missing skills are skipped.
func (s SkillSource) Load(defs ...Definition) []Skill {
	if s.FS == nil {
		return nil
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}

	seen := make(map[string]struct{})
	var out []Skill
	for _, d := range defs {
		for _, name := range d.Skills {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}

			data, err := fs.ReadFile(s.FS, path.Join(dir, name+".md"))
			if err != nil {
				continue
			}
			out = append(out, Skill{Name: name, Content: string(data)})
		}
	}
	return out
}

// PromptOptions controls system prompt composition.
type PromptOptions struct {
	// Concise truncates each skill and appends token efficiency rules.
	Concise bool
}

const efficiencyRules = `

# IMPORTANT: Token Efficiency Rules
- Complete the task in 1-2 turns maximum
- Make edits directly without explaining what you'll do
- Don't read files you don't need to edit
- Skip verbose explanations - just do the work
- If task is done, stop immediately`

// BuildSystemPrompt composes the instructions, skills and working directory
// into one system prompt. Definitions without instructions get the minimal
// tool-listing prompt instead.
func BuildSystemPrompt(def Definition, skills []Skill, workDir string, opts PromptOptions) string {
	if strings.TrimSpace(def.Instructions) == "" {
		return MinimalPrompt(def.Name, ToolsFor(def), workDir)
	}

	parts := []string{def.Instructions}

	if len(skills) > 0 {
		parts = append(parts, "\n\n# Skills and Guidelines\n")
		for _, sk := range skills {
			content := sk.Content
			if opts.Concise && len(content) > skillTruncateBytes {
				content = truncateUTF8(content, skillTruncateBytes) + skillTruncatedNote
			}
			parts = append(parts, fmt.Sprintf("\n## %s\n\n%s", sk.Name, content))
		}
	}

	parts = append(parts, fmt.Sprintf("\n\nWorking directory: %s", workDir))

	if opts.Concise {
		parts = append(parts, efficiencyRules)
	}

	return strings.Join(parts, "\n")
}

var knownTools = map[string]struct{}{
	"Read": {}, "Edit": {}, "Write": {}, "Glob": {}, "Grep": {}, "Bash": {},
}

// MinimalPrompt is a short prompt that lists the enabled tools and insists on
// using them.
func MinimalPrompt(name string, tools []string, workDir string) string {
	listed := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, ok := knownTools[t]; ok {
			listed = append(listed, t)
		}
	}

	return fmt.Sprintf(`You are %s. Working dir: %s
Tools: %s

IMPORTANT: Always USE tools to complete tasks. Do not just describe what you would do.
1. Use Read tool to read the file first
2. Use Edit tool to make changes (provide exact old_string and new_string)
3. Confirm what you changed

Be direct and concise. Execute actions, don't just plan them.`, name, workDir, strings.Join(listed, ", "))
}

// ToolsFor returns the definition's tools, or DefaultTools when it has none.
func ToolsFor(def Definition) []string {
	if len(def.Tools) == 0 {
		out := make([]string, len(DefaultTools))
		copy(out, DefaultTools)
		return out
	}
	out := make([]string, len(def.Tools))
	copy(out, def.Tools)
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
