package drift

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LinkageFile is the file cruft records template linkage in.
const LinkageFile = ".cruft.json"

// ErrUnlinked is returned when a repository has no linkage file.
var ErrUnlinked = errors.New("repository is not linked to a template")

// Linkage is the part of .cruft.json the prober needs.
type Linkage struct {
	Template  string  `json:"template"`
	Commit    string  `json:"commit"`
	Checkout  *string `json:"checkout"`
	Directory *string `json:"directory"`
}

// Ref returns the template ref to follow, or "" for the default branch.
func (l *Linkage) Ref() string {
	if l.Checkout == nil {
		return ""
	}
	return *l.Checkout
}

// ReadLinkage reads .cruft.json from dir.
func ReadLinkage(dir string) (*Linkage, error) {
	data, err := os.ReadFile(filepath.Join(dir, LinkageFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrUnlinked
		}
		return nil, fmt.Errorf("reading %s: %w", LinkageFile, err)
	}

	var l Linkage
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", LinkageFile, err)
	}
	if l.Commit == "" {
		return nil, fmt.Errorf("%s has no commit", LinkageFile)
	}
	return &l, nil
}

// SameCommit compares two commit ids, allowing either to be abbreviated
// to at least seven characters.
func SameCommit(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	n := min(len(a), len(b))
	if n < 7 && len(a) != len(b) {
		return false
	}
	return a[:n] == b[:n]
}

// Short abbreviates a commit id for display and branch names.
func Short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
