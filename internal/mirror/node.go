package mirror

import (
	"path"
	"strings"

	"dirmirror/internal/contentformat"
)

// Kind distinguishes directories from everything else.
type Kind int

const (
	KindDirectory Kind = iota
	KindLeaf
)

func (kind Kind) String() string {
	if kind == KindDirectory {
		return "directory"
	}
	return "leaf"
}

// Node is a read-only view of one mirrored entry. Path is relative to the
// mirror root, slash separated, and empty for the root itself.
type Node struct {
	Path       string
	Name       string
	Kind       Kind
	Format     contentformat.Format
	Observable bool
}

func (node Node) IsDirectory() bool {
	return node.Kind == KindDirectory
}

// entry is the arena slot behind a Node. Parent and children hold ids, never
// pointers, and readers only ever receive Node copies.
type entry struct {
	node     Node
	parent   string
	children map[string]string
}

func newDirectoryEntry(id, name string) *entry {
	return &entry{
		node: Node{
			Path:       id,
			Name:       name,
			Kind:       KindDirectory,
			Format:     contentformat.None,
			Observable: true,
		},
		parent:   parentID(id),
		children: make(map[string]string),
	}
}

func newLeafEntry(id string, format contentformat.Format) *entry {
	return &entry{
		node: Node{
			Path:       id,
			Name:       path.Base(id),
			Kind:       KindLeaf,
			Format:     format,
			Observable: true,
		},
		parent: parentID(id),
	}
}

func parentID(id string) string {
	if id == "" {
		return ""
	}
	index := strings.LastIndexByte(id, '/')
	if index < 0 {
		return ""
	}
	return id[:index]
}

func childID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// splitPath turns a request path into segments. Empty and "." segments are
// skipped; ".." makes the path unresolvable so nothing above the root is
// ever addressed.
func splitPath(relativePath string) ([]string, bool) {
	raw := strings.Split(strings.Trim(relativePath, "/"), "/")
	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		switch segment {
		case "", ".":
			continue
		case "..":
			return nil, false
		}
		segments = append(segments, segment)
	}
	return segments, true
}
