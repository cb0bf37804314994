// Package vfs is the in-memory file tree that the generating model edits
// during a conversation turn.
//
// Every mutating operation validates its inputs before touching the tree, so
// a call either applies completely or leaves the tree as it was. Operations
// report problems as "Error: ..." strings instead of Go errors: the result is
// handed back to the model as a tool observation, and the model is expected
// to read it and correct itself.
package vfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

type FileSystem struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	revision int64
}

func New() *FileSystem {
	fs := &FileSystem{}
	fs.reset()
	return fs
}

func (fs *FileSystem) reset() {
	fs.nodes = map[string]Node{RootPath: &DirectoryRecord{Path: RootPath}}
	fs.revision = 0
}

// Revision is bumped by every successful mutation.
func (fs *FileSystem) Revision() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.revision
}

func (fs *FileSystem) Exists(path string) bool {
	p, err := NormalizePath(path)
	if err != nil {
		return false
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.nodes[p]
	return ok
}

// ReadFile returns the content of a file; ok is false for missing paths and
// directories.
func (fs *FileSystem) ReadFile(path string) (content string, ok bool) {
	p, err := NormalizePath(path)
	if err != nil {
		return "", false
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.nodes[p].(*FileRecord)
	if !ok {
		return "", false
	}
	return f.Content, true
}

// Paths returns every node path, sorted.
func (fs *FileSystem) Paths() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, 0, len(fs.nodes))
	for p := range fs.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Glob matches file and directory paths against a doublestar pattern.
// Relative patterns are anchored at the root.
func (fs *FileSystem) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	var out []string
	for _, p := range fs.Paths() {
		if p == RootPath {
			continue
		}
		if ok, _ := doublestar.Match(pattern, p); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateFileWithParents writes content to path, creating any missing parent
// directories. An existing file is overwritten wholesale.
func (fs *FileSystem) CreateFileWithParents(path, content string) string {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", path, err)
	}
	if p == RootPath {
		return "Error: cannot write file content to the root directory"
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if blocked := fs.fileInChainLocked(p); blocked != "" {
		return fmt.Sprintf("Error: cannot create %s: %s is a file, not a directory", p, blocked)
	}
	if n, ok := fs.nodes[p]; ok {
		f, isFile := n.(*FileRecord)
		if !isFile {
			return fmt.Sprintf("Error: cannot write %s: path is a directory", p)
		}
		fs.revision++
		f.Content = content
		f.LastModifiedRevision = fs.revision
		return "File updated: " + p
	}

	fs.mkdirAllLocked(parentOf(p))
	fs.revision++
	fs.nodes[p] = &FileRecord{Path: p, Content: content, LastModifiedRevision: fs.revision}
	fs.dirLocked(parentOf(p)).addChild(baseName(p))
	return "File created: " + p
}

// ViewFile returns the whole file, or the 1-indexed inclusive line range
// [start, end] when viewRange is set. An end of -1 reads to the last line.
func (fs *FileSystem) ViewFile(path string, viewRange *[2]int) string {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", path, err)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, msg := fs.fileLocked(p)
	if f == nil {
		return msg
	}
	if viewRange == nil {
		return f.Content
	}

	lines := splitLines(f.Content)
	start, end := viewRange[0], viewRange[1]
	if end == -1 {
		end = len(lines)
	}
	if start < 1 || end < start || end > len(lines) {
		return fmt.Sprintf("Error: invalid view_range [%d, %d] for %s: the file has %d lines", viewRange[0], viewRange[1], p, len(lines))
	}
	return strings.Join(lines[start-1:end], "\n")
}

// ReplaceInFile substitutes oldStr with newStr only when oldStr occurs exactly
// once in the file.
func (fs *FileSystem) ReplaceInFile(path, oldStr, newStr string) string {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", path, err)
	}
	if oldStr == "" {
		return "Error: old_str must not be empty"
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, msg := fs.fileLocked(p)
	if f == nil {
		return msg
	}
	switch n := strings.Count(f.Content, oldStr); {
	case n == 0:
		return fmt.Sprintf("Error: old_str was not found in %s", p)
	case n > 1:
		return fmt.Sprintf("Error: old_str occurs %d times in %s; include more surrounding text so it matches exactly once", n, p)
	}
	fs.revision++
	f.Content = strings.Replace(f.Content, oldStr, newStr, 1)
	f.LastModifiedRevision = fs.revision
	return "Replaced text in " + p
}

// InsertInFile inserts text as a new line after line (0 inserts before the
// first line).
func (fs *FileSystem) InsertInFile(path string, line int, text string) string {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", path, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, msg := fs.fileLocked(p)
	if f == nil {
		return msg
	}
	lines := splitLines(f.Content)
	if line < 0 || line > len(lines) {
		return fmt.Sprintf("Error: invalid insert_line %d for %s: must be between 0 and %d", line, p, len(lines))
	}

	next := make([]string, 0, len(lines)+1)
	next = append(next, lines[:line]...)
	next = append(next, text)
	next = append(next, lines[line:]...)
	content := strings.Join(next, "\n")
	if strings.HasSuffix(f.Content, "\n") {
		content += "\n"
	}

	fs.revision++
	f.Content = content
	f.LastModifiedRevision = fs.revision
	return fmt.Sprintf("Inserted text after line %d in %s", line, p)
}

// DeleteFile removes a file or a whole directory subtree.
func (fs *FileSystem) DeleteFile(path string) string {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", path, err)
	}
	if p == RootPath {
		return "Error: the root directory cannot be deleted"
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.nodes[p]; !ok {
		return "Error: File not found: " + p
	}
	for k := range fs.nodes {
		if isWithin(k, p) {
			delete(fs.nodes, k)
		}
	}
	fs.dirLocked(parentOf(p)).removeChild(baseName(p))
	fs.revision++
	return "Deleted: " + p
}

// Rename moves a file or directory subtree to newPath, creating the missing
// parents of the destination.
func (fs *FileSystem) Rename(oldPath, newPath string) string {
	src, err := NormalizePath(oldPath)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", oldPath, err)
	}
	dst, err := NormalizePath(newPath)
	if err != nil {
		return fmt.Sprintf("Error: invalid path %q: %v", newPath, err)
	}
	if src == RootPath || dst == RootPath {
		return "Error: the root directory cannot be renamed or replaced"
	}
	if src == dst {
		return "Error: source and destination are the same: " + src
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.nodes[src]; !ok {
		return "Error: File not found: " + src
	}
	if _, ok := fs.nodes[dst]; ok {
		return "Error: destination already exists: " + dst
	}
	if isWithin(dst, src) {
		return fmt.Sprintf("Error: cannot move %s inside itself", src)
	}
	if blocked := fs.fileInChainLocked(dst); blocked != "" {
		return fmt.Sprintf("Error: cannot move to %s: %s is a file, not a directory", dst, blocked)
	}

	fs.mkdirAllLocked(parentOf(dst))
	moved := map[string]Node{}
	for k, n := range fs.nodes {
		if !isWithin(k, src) {
			continue
		}
		np := dst + strings.TrimPrefix(k, src)
		switch x := n.(type) {
		case *FileRecord:
			x.Path = np
		case *DirectoryRecord:
			x.Path = np
		}
		moved[np] = n
		delete(fs.nodes, k)
	}
	for k, n := range moved {
		fs.nodes[k] = n
	}
	fs.dirLocked(parentOf(src)).removeChild(baseName(src))
	fs.dirLocked(parentOf(dst)).addChild(baseName(dst))
	fs.revision++
	return fmt.Sprintf("Renamed %s to %s", src, dst)
}

// fileInChainLocked returns the first ancestor of p that exists as a file,
// or "" when the whole chain is free or made of directories.
func (fs *FileSystem) fileInChainLocked(p string) string {
	for _, dir := range ancestors(p) {
		if n, ok := fs.nodes[dir]; ok && n.Type() != TypeDirectory {
			return dir
		}
	}
	return ""
}

// mkdirAllLocked creates dir and its missing ancestors. Callers must have
// checked the chain with fileInChainLocked.
func (fs *FileSystem) mkdirAllLocked(dir string) {
	if dir == "" || dir == RootPath {
		return
	}
	chain := append(ancestors(dir), dir)
	for _, d := range chain {
		if _, ok := fs.nodes[d]; ok {
			continue
		}
		fs.nodes[d] = &DirectoryRecord{Path: d}
		fs.dirLocked(parentOf(d)).addChild(baseName(d))
	}
}

func (fs *FileSystem) dirLocked(p string) *DirectoryRecord {
	d, _ := fs.nodes[p].(*DirectoryRecord)
	return d
}

func (fs *FileSystem) fileLocked(p string) (*FileRecord, string) {
	n, ok := fs.nodes[p]
	if !ok {
		return nil, "Error: File not found: " + p
	}
	f, ok := n.(*FileRecord)
	if !ok {
		return nil, fmt.Sprintf("Error: %s is a directory, not a file", p)
	}
	return f, ""
}

// splitLines drops a single trailing newline so "a\nb\n" has two lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
