// Package ignore parses .sftpsyncignore files and matches relative paths
// against the resulting rule set (spec.md §4.2, §6.2).
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the ignore file's fixed name at a connection's local root.
const FileName = ".sftpsyncignore"

// rule is one compiled line of a .sftpsyncignore file.
type rule struct {
	negate    bool
	dirPrefix string // set when the pattern ended in "/"; rel path must have this prefix
	anchored  string // set when the pattern started with "/"; matched against the full relative path only
	glob      string // otherwise: evaluated against both the full path and the basename
}

// Rules matches relative paths against a set of patterns loaded from one
// local root's .sftpsyncignore file. The zero value (no patterns loaded)
// never ignores anything.
type Rules struct {
	rules []rule
}

// Load reads <root>/.sftpsyncignore, if present, and compiles its
// patterns. A missing file yields an empty, always-permissive Rules.
func Load(root string) (*Rules, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Rules{}, nil
		}
		return nil, err
	}
	r := &Rules{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.rules = append(r.rules, compile(line))
	}
	return r, nil
}

func compile(line string) rule {
	negate := strings.HasPrefix(line, "!")
	if negate {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") && len(line) > 1 {
		dirPattern := strings.TrimSuffix(line, "/")
		dirPattern = strings.TrimPrefix(dirPattern, "/")
		return rule{negate: negate, dirPrefix: dirPattern}
	}
	if strings.HasPrefix(line, "/") {
		return rule{negate: negate, anchored: strings.TrimPrefix(line, "/")}
	}
	return rule{negate: negate, glob: line}
}

// ShouldIgnore reports whether relPath is ignored. Rules are evaluated
// top-to-bottom; the final matching rule decides. An empty relPath is
// never ignored.
func (r *Rules) ShouldIgnore(relPath string) bool {
	rel := normalize(relPath)
	if rel == "" {
		return false
	}

	ignored := false
	base := path.Base(rel)
	for _, ru := range r.rules {
		var hit bool
		switch {
		case ru.dirPrefix != "":
			hit = rel == ru.dirPrefix || strings.HasPrefix(rel, ru.dirPrefix+"/")
		case ru.anchored != "":
			hit = matchGlob(ru.anchored, rel)
		default:
			hit = matchGlob(ru.glob, rel) || matchGlob(ru.glob, base)
		}
		if hit {
			ignored = !ru.negate
		}
	}
	return ignored
}

func matchGlob(pattern, candidate string) bool {
	ok, err := doublestar.Match(pattern, candidate)
	return err == nil && ok
}

func normalize(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	return strings.TrimSuffix(p, "/")
}
