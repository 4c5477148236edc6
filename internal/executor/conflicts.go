package executor

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spachava753/templatesync/internal/gitclient"
)

// maxScanSize skips conflict-marker scanning of large files.
const maxScanSize = 4 << 20

// findConflicts returns the files a merge could not reconcile: unmerged
// index entries, files with a .rej reject beside them, and files holding
// a complete set of conflict markers.
func findConflicts(dir string, status []gitclient.StatusEntry) []string {
	seen := make(map[string]bool)
	for _, s := range status {
		switch {
		case s.Unmerged():
			seen[s.Path] = true
		case strings.HasSuffix(s.Path, ".rej"):
			seen[strings.TrimSuffix(s.Path, ".rej")] = true
		case strings.Contains(s.Code, "D"):
		case hasConflictMarkers(filepath.Join(dir, filepath.FromSlash(s.Path))):
			seen[s.Path] = true
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func hasConflictMarkers(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxScanSize {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return false
	}

	var start, sep, end bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanSize)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			start = true
		case start && strings.TrimRight(line, " \r") == "=======":
			sep = true
		case sep && strings.HasPrefix(line, ">>>>>>>"):
			end = true
		}
		if end {
			return true
		}
	}
	return false
}
