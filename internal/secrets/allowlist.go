package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is the allowlist file name looked up in a project root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds path and content patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}

// LoadAllowlists merges the project allowlist (<projectDir>/.gitleaks.toml)
// with the user allowlist file. Missing files are skipped; files that exist
// but do not parse or contain invalid patterns are errors.
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	var paths []string
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ProjectAllowlistFile))
	}
	if userPath != "" {
		paths = append(paths, userPath)
	}

	for _, p := range paths {
		al, err := loadTOML(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, al.Paths...)
		merged.Regexes = append(merged.Regexes, al.Regexes...)
	}

	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   doc.Allowlist.Paths,
		Regexes: doc.Allowlist.Regexes,
	}, nil
}
