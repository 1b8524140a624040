package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIgnoreFile(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))
}

func TestLoad_MissingFileNeverIgnores(t *testing.T) {
	root := t.TempDir()
	r, err := Load(root)
	require.NoError(t, err)
	assert.False(t, r.ShouldIgnore("anything.txt"))
	assert.False(t, r.ShouldIgnore(""))
}

func TestShouldIgnore_GlobMatchesFullPathOrBasename(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "*.log\n!keep.log\nb.txt\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("a.log"))
	assert.True(t, r.ShouldIgnore("nested/dir/a.log"))
	assert.False(t, r.ShouldIgnore("keep.log"), "negation should un-ignore")
	assert.True(t, r.ShouldIgnore("b.txt"))
}

func TestShouldIgnore_S5IgnoreFiltering(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "*.log\n!keep.log\n")
	r, err := Load(root)
	require.NoError(t, err)

	paths := []string{"a.log", "keep.log", "b.txt"}
	var kept []string
	for _, p := range paths {
		if !r.ShouldIgnore(p) {
			kept = append(kept, p)
		}
	}
	assert.ElementsMatch(t, []string{"keep.log", "b.txt"}, kept)
}

func TestShouldIgnore_AnchoredPattern(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "/build\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("build"))
	assert.False(t, r.ShouldIgnore("nested/build"), "anchored pattern must match full path only")
}

func TestShouldIgnore_DirectoryTrailingSlash(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "node_modules/\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("node_modules"))
	assert.True(t, r.ShouldIgnore("node_modules/pkg/index.js"))
	assert.False(t, r.ShouldIgnore("not_node_modules/file.js"))
}

func TestShouldIgnore_LastMatchWins(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "*.txt\n!important.txt\n*.txt\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("important.txt"), "final rule re-ignores after negation")
}

func TestShouldIgnore_CommentsAndBlankLinesSkipped(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "\n# a comment\n\n*.tmp\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("file.tmp"))
	assert.False(t, r.ShouldIgnore("#comment-looking.txt"))
}

func TestShouldIgnore_LeadingDotSlashStripped(t *testing.T) {
	root := t.TempDir()
	writeIgnoreFile(t, root, "a.txt\n")
	r, err := Load(root)
	require.NoError(t, err)

	assert.True(t, r.ShouldIgnore("./a.txt"))
}
