package repo

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[\w.\-]+/[\w.\-]+$`)

// Validate checks that name has the owner/name form GitHub uses in full names.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid repository %q: expected format owner/name", name)
	}
	return nil
}

// Split returns the owner and name halves of an owner/name identifier.
func Split(name string) (owner, repo string, err error) {
	if err := Validate(name); err != nil {
		return "", "", err
	}
	owner, repo, _ = strings.Cut(name, "/")
	return owner, repo, nil
}

// Slug is the filesystem-safe directory name for a repository.
func Slug(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// StateFile is where the store for name lives under baseDir.
func StateFile(baseDir, name string) string {
	return filepath.Join(baseDir, Slug(name), "state.db")
}

// InURL reports whether link names the repository as consecutive path
// segments, e.g. https://github.com/owner/name/pull/42. GitHub treats the
// owner and name case-insensitively.
func InURL(link, name string) bool {
	owner, repo, err := Split(name)
	if err != nil {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if strings.EqualFold(segments[i], owner) && strings.EqualFold(segments[i+1], repo) {
			return true
		}
	}
	return false
}
