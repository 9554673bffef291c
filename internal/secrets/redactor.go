package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

const previewLen = 4

// Finding is one detected secret.
type Finding struct {
	RuleID   string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Redactor replaces secrets in text with markers. The zero value is not
// usable; construct with NewRedactor. A nil *Redactor passes text through.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor builds a detector from the gitleaks default rules plus the
// given allowlist (which may be nil).
func NewRedactor(allowlist *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if !allowlist.Empty() {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Redactor{detector: detector}, nil
}

// Detect returns the secrets found in content.
func (r *Redactor) Detect(content string) []Finding {
	if r == nil || content == "" {
		return nil
	}

	// The detector keeps per-scan state.
	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{
			RuleID:   f.RuleID,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return out
}

// Redact returns content with every detected secret replaced by a
// [REDACTED:rule-id:preview] marker, and the number of replacements.
func (r *Redactor) Redact(content string) (string, int) {
	findings := r.Detect(content)
	if len(findings) == 0 {
		return content, 0
	}
	return replaceFindings(content, findings)
}

// replaceFindings swaps each secret for its marker and reports how many were
// replaced. Finding lines count from 0. Lines are walked from the bottom
// right so earlier offsets stay valid.
func replaceFindings(content string, findings []Finding) (string, int) {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	replaced := 0
	for _, f := range sorted {
		if f.Match == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match))

		// Columns from gitleaks are not always aligned with the secret
		// itself, so replace by value within the reported line.
		if f.Line >= 0 && f.Line < len(lines) {
			line := lines[f.Line]
			if idx := strings.Index(line, f.Match); idx >= 0 {
				lines[f.Line] = line[:idx] + marker + line[idx+len(f.Match):]
				replaced++
				continue
			}
		}
		// Multi-line secrets fall back to a whole-content replace.
		joined := strings.Join(lines, "\n")
		if !strings.Contains(joined, f.Match) {
			continue
		}
		lines = strings.Split(strings.Replace(joined, f.Match, marker, 1), "\n")
		replaced++
	}
	return strings.Join(lines, "\n"), replaced
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}

func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) error {
	global := &gitleaksconfig.Allowlist{
		Description: "refacta project/user allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
