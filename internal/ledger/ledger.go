package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/refacta/internal/secrets"
)

const (
	defaultDir          = ".refactor/reports"
	defaultFileName     = "changes.md"
	defaultPreviewLimit = 200
)

// Options configures a Ledger.
type Options struct {
	// Dir is the report directory relative to the project root.
	Dir string
	// FileName is the report file inside Dir.
	FileName string
	// PreviewLimit caps before/after previews, in characters.
	PreviewLimit int
	// Redact enables secret redaction of previews.
	Redact bool
	// UserAllowlist is an optional gitleaks allowlist file merged with the
	// project's .gitleaks.toml.
	UserAllowlist string
	// Now overrides the clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = defaultDir
	}
	if o.FileName == "" {
		o.FileName = defaultFileName
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = defaultPreviewLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// EntryInput is what a caller supplies for one edit.
type EntryInput struct {
	FilePath   string
	Before     string
	After      string
	Specialist string
	Accepted   bool
	Error      string
}

// Entry is a recorded edit.
type Entry struct {
	Seq        int
	Time       time.Time
	FilePath   string
	Before     string
	After      string
	Specialist string
	Accepted   bool
	Error      string
}

// Ledger appends edit entries for one project root. Safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	root      string
	path      string
	project   string
	opts      Options
	redactor  *secrets.Redactor
	sessionID string

	initialized bool
	entries     []Entry
	// finalizedAt is the entry count at the last finalize, -1 before any.
	finalizedAt int
}

// New creates a ledger for root. root must already be resolved (see
// ResolveRoot). Nothing is written until the first Append, AddSummary or
// Finalize.
func New(root string, opts Options) (*Ledger, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	opts = opts.withDefaults()

	l := &Ledger{
		root:        root,
		path:        filepath.Join(root, filepath.FromSlash(opts.Dir), opts.FileName),
		project:     ProjectName(root),
		opts:        opts,
		sessionID:   opts.Now().Format(sessionIDLayout),
		finalizedAt: -1,
	}

	if opts.Redact {
		allow, err := secrets.LoadAllowlists(root, opts.UserAllowlist)
		if err != nil {
			return nil, fmt.Errorf("loading allowlists: %w", err)
		}
		r, err := secrets.NewRedactor(allow)
		if err != nil {
			return nil, err
		}
		l.redactor = r
	}

	return l, nil
}

// Root returns the project root.
func (l *Ledger) Root() string { return l.root }

// Path returns the report file location.
func (l *Ledger) Path() string { return l.path }

// SessionID returns the session identifier written in the session header.
func (l *Ledger) SessionID() string { return l.sessionID }

// Count returns the number of entries appended in this session.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the entries appended in this session.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Append writes one entry and returns its sequence number. Numbers start at
// 1 and are only consumed by successful writes.
func (l *Ledger) Append(in EntryInput) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureInitialized(); err != nil {
		return 0, err
	}

	e := Entry{
		Seq:        len(l.entries) + 1,
		Time:       l.opts.Now(),
		FilePath:   l.relPath(in.FilePath),
		Before:     l.preview(in.Before),
		After:      l.preview(in.After),
		Specialist: in.Specialist,
		Accepted:   in.Accepted,
		Error:      in.Error,
	}

	if err := l.write(formatEntry(e)); err != nil {
		return 0, err
	}
	l.entries = append(l.entries, e)
	return e.Seq, nil
}

// AddSummary appends a summary section to the current session.
func (l *Ledger) AddSummary(summary string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureInitialized(); err != nil {
		return err
	}
	return l.write(formatSummary(summary))
}

// Finalize appends the closing stats block and returns the report path.
// Finalizing again with no new entries writes nothing.
func (l *Ledger) Finalize(totalTokens int, costUSD float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalizedAt == len(l.entries) {
		return l.path, nil
	}
	if err := l.ensureInitialized(); err != nil {
		return "", err
	}
	if err := l.write(formatClosing(l.opts.Now(), len(l.entries), totalTokens, costUSD)); err != nil {
		return "", err
	}
	l.finalizedAt = len(l.entries)
	return l.path, nil
}

// ensureInitialized creates the report directory and writes either the file
// header (new file) or a session separator (existing file). Caller holds mu.
func (l *Ledger) ensureInitialized() error {
	if l.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	now := l.opts.Now()
	var block string
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		block = formatFileHeader(l.project, l.sessionID, now)
	} else if err != nil {
		return fmt.Errorf("checking report file: %w", err)
	} else {
		block = formatSessionSeparator(l.sessionID, now)
	}

	if err := l.write(block); err != nil {
		return err
	}
	l.initialized = true
	return nil
}

func (l *Ledger) write(s string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	if _, err := f.WriteString(s); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing report file: %w", err)
	}
	return nil
}

func (l *Ledger) relPath(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}

func (l *Ledger) preview(s string) string {
	if l.redactor != nil {
		s, _ = l.redactor.Redact(s)
	}
	return truncate(s, l.opts.PreviewLimit)
}
