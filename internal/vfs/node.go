package vfs

type NodeType string

const (
	TypeFile      NodeType = "file"
	TypeDirectory NodeType = "directory"
)

// Node is either a *FileRecord or a *DirectoryRecord.
type Node interface {
	NodePath() string
	Type() NodeType
}

type FileRecord struct {
	Path                 string
	Content              string
	LastModifiedRevision int64
}

func (f *FileRecord) NodePath() string { return f.Path }
func (f *FileRecord) Type() NodeType   { return TypeFile }

type DirectoryRecord struct {
	Path string
	// Children holds child names in insertion order.
	Children []string
}

func (d *DirectoryRecord) NodePath() string { return d.Path }
func (d *DirectoryRecord) Type() NodeType   { return TypeDirectory }

func (d *DirectoryRecord) hasChild(name string) bool {
	for _, c := range d.Children {
		if c == name {
			return true
		}
	}
	return false
}

func (d *DirectoryRecord) addChild(name string) {
	if !d.hasChild(name) {
		d.Children = append(d.Children, name)
	}
}

func (d *DirectoryRecord) removeChild(name string) {
	for i, c := range d.Children {
		if c == name {
			d.Children = append(d.Children[:i], d.Children[i+1:]...)
			return
		}
	}
}
