package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	return func() time.Time { return ts }
}

func newTestLedger(t *testing.T, root string) *Ledger {
	t.Helper()
	l, err := New(root, Options{Now: fixedClock()})
	require.NoError(t, err)
	return l
}

func readReport(t *testing.T, l *Ledger) string {
	t.Helper()
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	return string(data)
}

func TestLedger_SequentialEntriesAndSingleClosingBlock(t *testing.T) {
	root := t.TempDir()
	l := newTestLedger(t, root)

	const n = 4
	for i := 1; i <= n; i++ {
		seq, err := l.Append(EntryInput{
			FilePath:   filepath.Join(root, "src", fmt.Sprintf("mod%d.py", i)),
			Before:     "x = 1",
			After:      "x = 2",
			Specialist: "python-refactorer",
			Accepted:   true,
		})
		require.NoError(t, err)
		assert.Equal(t, i, seq)
	}

	path, err := l.Finalize(12345, 0.002)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".refactor", "reports", "changes.md"), path)

	// second finalize with nothing new is a no-op
	_, err = l.Finalize(99999, 1)
	require.NoError(t, err)

	report := readReport(t, l)
	for i := 1; i <= n; i++ {
		assert.Contains(t, report, fmt.Sprintf("### Edit #%d ✅ [09:26:53] by `python-refactorer`", i))
		assert.Contains(t, report, fmt.Sprintf("**File**: `src/mod%d.py`", i))
	}
	assert.NotContains(t, report, "### Edit #5")
	assert.Equal(t, 1, strings.Count(report, "### Session Complete"))
	assert.Contains(t, report, "- **Total Edits**: 4")
	assert.Contains(t, report, "- **Tokens Used**: 12,345")
	assert.Contains(t, report, "- **Estimated Cost**: $0.0020")
	assert.Equal(t, n, l.Count())
}

func TestLedger_NewFileHeader(t *testing.T) {
	root := t.TempDir()
	l := newTestLedger(t, root)

	_, err := l.Append(EntryInput{FilePath: "a.py", Accepted: true})
	require.NoError(t, err)

	report := readReport(t, l)
	assert.True(t, strings.HasPrefix(report, "# Refactor Changes Report\n\n**Project**: "+filepath.Base(root)+"\n**Created**: 2025-03-14 09:26:53\n"))
	assert.Contains(t, report, "## Session: 20250314_092653\n\nStarted: 2025-03-14 09:26:53\n\n### Edit #1")
}

func TestLedger_ExistingFileGetsSeparator(t *testing.T) {
	root := t.TempDir()

	first := newTestLedger(t, root)
	_, err := first.Append(EntryInput{FilePath: "a.py", Accepted: true})
	require.NoError(t, err)
	_, err = first.Finalize(10, 0.001)
	require.NoError(t, err)

	second := newTestLedger(t, root)
	seq, err := second.Append(EntryInput{FilePath: "b.py", Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, 1, seq, "numbering restarts per session")

	report := readReport(t, second)
	assert.Equal(t, 1, strings.Count(report, "# Refactor Changes Report"), "history is appended, not rewritten")
	assert.Equal(t, 2, strings.Count(report, "## Session: "))
	assert.Contains(t, report, "\n\n---\n\n## Session: 20250314_092653\n\nStarted: 2025-03-14 09:26:53\n\n### Edit #1 ✅ [09:26:53]\n\n**File**: `b.py`")
	assert.Contains(t, report, "**File**: `a.py`")
}

func TestLedger_EntryFormatting(t *testing.T) {
	root := t.TempDir()
	l := newTestLedger(t, root)

	long := strings.Repeat("é", 250)
	_, err := l.Append(EntryInput{
		FilePath:   "/outside/project/file.py",
		Before:     long,
		After:      "short",
		Specialist: "python-refactorer",
		Accepted:   false,
		Error:      "old_string not found",
	})
	require.NoError(t, err)

	report := readReport(t, l)
	assert.Contains(t, report, "### Edit #1 ❌ [09:26:53] by `python-refactorer`")
	assert.Contains(t, report, "**File**: `/outside/project/file.py`")
	assert.Contains(t, report, "**Error**: old_string not found\n\n")
	assert.Contains(t, report, "**Before**:\n```\n"+strings.Repeat("é", 200)+"... (truncated)\n```")
	assert.Contains(t, report, "**After**:\n```\nshort\n```\n\n</details>\n\n")

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "short", entries[0].After)
	assert.False(t, entries[0].Accepted)
}

func TestLedger_AddSummary(t *testing.T) {
	l := newTestLedger(t, t.TempDir())
	require.NoError(t, l.AddSummary("Converted 3 modules to dataclasses."))

	report := readReport(t, l)
	assert.Contains(t, report, "\n### Summary\n\nConverted 3 modules to dataclasses.\n\n")
}

func TestLedger_FinalizeWithoutEntries(t *testing.T) {
	l := newTestLedger(t, t.TempDir())

	path, err := l.Finalize(0, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)

	report := readReport(t, l)
	assert.Contains(t, report, "- **Total Edits**: 0")

	_, err = l.Finalize(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(readReport(t, l), "### Session Complete"))
}

func TestLedger_FinalizeAgainAfterNewEntries(t *testing.T) {
	l := newTestLedger(t, t.TempDir())

	_, err := l.Append(EntryInput{FilePath: "a.py", Accepted: true})
	require.NoError(t, err)
	_, err = l.Finalize(100, 0.01)
	require.NoError(t, err)

	_, err = l.Append(EntryInput{FilePath: "b.py", Accepted: true})
	require.NoError(t, err)
	_, err = l.Finalize(200, 0.02)
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(readReport(t, l), "### Session Complete"))
}

func TestLedger_RedactsPreviews(t *testing.T) {
	root := t.TempDir()
	l, err := New(root, Options{Now: fixedClock(), Redact: true})
	require.NoError(t, err)

	key := "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
	line := `const apiKey = "` + key + `"`
	if len(l.redactor.Detect(line)) == 0 {
		t.Skip("gitleaks default rules did not flag the sample key")
	}

	_, err = l.Append(EntryInput{FilePath: "config.ts", Before: line, After: `const apiKey = process.env.KEY`, Accepted: true})
	require.NoError(t, err)

	report := readReport(t, l)
	assert.NotContains(t, report, key)
	assert.Contains(t, report, "[REDACTED:")
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("", Options{})
	assert.ErrorIs(t, err, ErrEmptyRoot)
}

func TestCache_ReusesAndReplaces(t *testing.T) {
	c := NewCache(Options{Now: fixedClock()})

	rootA := t.TempDir()
	rootB := t.TempDir()

	a1, err := c.For(rootA)
	require.NoError(t, err)
	a2, err := c.For(rootA + string(filepath.Separator))
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	_, err = a1.Append(EntryInput{FilePath: "a.py", Accepted: true})
	require.NoError(t, err)

	b, err := c.For(rootB)
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 0, b.Count(), "no state leaks across roots")
	assert.Same(t, b, c.Current())

	a3, err := c.For(rootA)
	require.NoError(t, err)
	assert.NotSame(t, a1, a3, "switching back builds a fresh ledger")

	c.Reset()
	assert.Nil(t, c.Current())
}

func TestCache_EmptyRoot(t *testing.T) {
	_, err := NewCache(Options{}).For("  ")
	assert.ErrorIs(t, err, ErrEmptyRoot)
}

func TestResolveRoot_GitWorktree(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)

	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := ResolveRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestResolveRoot_PlainDirectory(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveRoot(filepath.Join(dir, "sub", ".."))
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestProjectName(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, filepath.Base(root), ProjectName(root))

	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/widgets.git"},
	})
	require.NoError(t, err)

	assert.Equal(t, "widgets", ProjectName(root))
}

func TestRepoNameFromURL(t *testing.T) {
	tests := map[string]string{
		"git@github.com:acme/widgets.git":   "widgets",
		"https://github.com/acme/widgets":   "widgets",
		"https://gitlab.com/a/b/c/deep.git": "deep",
		"ssh://git@host:22/team/repo.git/":  "repo",
	}
	for in, want := range tests {
		assert.Equal(t, want, repoNameFromURL(in), in)
	}
}
