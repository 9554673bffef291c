package router

import "strings"

// KeywordRule routes to Specialist when the request contains any keyword
// (case-insensitive).
type KeywordRule struct {
	Specialist string
	Keywords   []string
}

// DefaultRules are used when no rules are configured.
func DefaultRules() []KeywordRule {
	return []KeywordRule{
		{Specialist: "python-refactorer", Keywords: []string{".py", "python", "backend"}},
		{Specialist: "nextjs-refactorer", Keywords: []string{".tsx", ".jsx", "react", "frontend"}},
	}
}

// matchRules returns the first rule whose specialist exists and whose
// keywords hit text.
func matchRules(rules []KeywordRule, text string, exists func(string) bool) (KeywordRule, string, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if !exists(r.Specialist) {
			continue
		}
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return r, kw, true
			}
		}
	}
	return KeywordRule{}, "", false
}
