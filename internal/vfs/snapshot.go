package vfs

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// FileNode is the flat, serializable form of a node. A Snapshot maps each
// path to its FileNode and is what gets handed to external storage.
type FileNode struct {
	Type     NodeType `json:"type" msgpack:"type"`
	Name     string   `json:"name" msgpack:"name"`
	Path     string   `json:"path" msgpack:"path"`
	Content  string   `json:"content,omitempty" msgpack:"content,omitempty"`
	Children []string `json:"children,omitempty" msgpack:"children,omitempty"`
	Revision int64    `json:"revision,omitempty" msgpack:"revision,omitempty"`
}

type Snapshot map[string]FileNode

func (fs *FileSystem) Serialize() Snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make(Snapshot, len(fs.nodes))
	for p, n := range fs.nodes {
		fn := FileNode{Type: n.Type(), Name: baseName(p), Path: p}
		switch x := n.(type) {
		case *FileRecord:
			fn.Content = x.Content
			fn.Revision = x.LastModifiedRevision
		case *DirectoryRecord:
			fn.Children = append([]string(nil), x.Children...)
		}
		out[p] = fn
	}
	return out
}

// DeserializeFromNodes replaces the whole tree with the one described by
// nodes. Map keys are authoritative; FileNode.Path is only used when a key
// is empty. Missing intermediate directories are created. On any error the
// current tree is left untouched.
func (fs *FileSystem) DeserializeFromNodes(nodes Snapshot) error {
	entries := make(map[string]FileNode, len(nodes))
	for key, n := range nodes {
		raw := key
		if raw == "" {
			raw = n.Path
		}
		p, err := NormalizePath(raw)
		if err != nil {
			return fmt.Errorf("snapshot entry %q: %w", raw, err)
		}
		if n.Type != TypeFile && n.Type != TypeDirectory {
			return fmt.Errorf("snapshot entry %s: unknown node type %q", p, n.Type)
		}
		if _, dup := entries[p]; dup {
			return fmt.Errorf("snapshot entry %s: duplicate after normalization", p)
		}
		entries[p] = n
	}

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	next := New()
	for _, p := range paths {
		n := entries[p]
		if p == RootPath {
			if n.Type != TypeDirectory {
				return fmt.Errorf("snapshot entry /: root must be a directory")
			}
			continue
		}
		if blocked := next.fileInChainLocked(p); blocked != "" {
			return fmt.Errorf("snapshot entry %s: parent %s is a file", p, blocked)
		}
		next.mkdirAllLocked(parentOf(p))
		if _, exists := next.nodes[p]; exists {
			// Only an implicitly created directory can be here already.
			if n.Type != TypeDirectory {
				return fmt.Errorf("snapshot entry %s: file collides with directory", p)
			}
			continue
		}
		switch n.Type {
		case TypeDirectory:
			next.nodes[p] = &DirectoryRecord{Path: p}
		case TypeFile:
			next.nodes[p] = &FileRecord{Path: p, Content: n.Content, LastModifiedRevision: n.Revision}
			if n.Revision > next.revision {
				next.revision = n.Revision
			}
		}
		next.dirLocked(parentOf(p)).addChild(baseName(p))
	}

	// Restore recorded child order; names the snapshot did not list keep
	// their sorted position after the listed ones.
	for p, n := range entries {
		if n.Type != TypeDirectory || len(n.Children) == 0 {
			continue
		}
		d := next.dirLocked(p)
		ordered := make([]string, 0, len(d.Children))
		for _, name := range n.Children {
			if d.hasChild(name) && !contains(ordered, name) {
				ordered = append(ordered, name)
			}
		}
		for _, name := range d.Children {
			if !contains(ordered, name) {
				ordered = append(ordered, name)
			}
		}
		d.Children = ordered
	}

	fs.mu.Lock()
	fs.nodes = next.nodes
	fs.revision = next.revision
	fs.mu.Unlock()
	return nil
}

// Digest is a blake3 hash over every node's path, type and content in path
// order. Two trees with the same observable content share a digest.
func (fs *FileSystem) Digest() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	paths := make([]string, 0, len(fs.nodes))
	for p := range fs.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, p := range paths {
		n := fs.nodes[p]
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(n.Type()))
		_, _ = h.Write([]byte{0})
		if f, ok := n.(*FileRecord); ok {
			_, _ = h.Write([]byte(f.Content))
		}
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	if len(b) == 0 {
		return Snapshot{}, nil
	}
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s == nil {
		s = Snapshot{}
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
