package registry

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	hostSlugRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,38}/[A-Za-z0-9._-]+$`)
	scpLikeRe  = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._/~-]+$`)
)

// cookiecutter-style abbreviations for hosted templates
var abbreviations = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
}

func validHostSlug(slug string) bool {
	if !hostSlugRe.MatchString(slug) {
		return false
	}
	_, repo, _ := strings.Cut(slug, "/")
	return repo != "." && repo != ".."
}

// expandTemplateRef turns cookiecutter abbreviations into clone URLs.
func expandTemplateRef(ref string) string {
	for abbr, base := range abbreviations {
		if rest, ok := strings.CutPrefix(ref, abbr); ok {
			return base + strings.TrimSuffix(rest, ".git") + ".git"
		}
	}
	return ref
}

func validTemplateRef(ref string) bool {
	if strings.ContainsAny(ref, " \t\n") {
		return false
	}
	if scpLikeRe.MatchString(ref) {
		return true
	}
	if filepath.IsAbs(ref) {
		return true
	}

	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
		return u.Host != "" && strings.Trim(u.Path, "/") != ""
	case "file":
		return u.Path != ""
	}
	return false
}

// templateNameFromURL derives a short display name such as
// "cookiecutter-python-template" from a template URL.
func templateNameFromURL(ref string) string {
	ref = strings.TrimSuffix(strings.TrimRight(ref, "/"), ".git")
	if i := strings.LastIndexAny(ref, "/:"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
