package mirror

import (
	"sort"
	"sync"
)

// tree is the node arena keyed by relative path. Only the watch loop
// mutates it; readers take the read lock and leave with copies.
type tree struct {
	mu          sync.RWMutex
	nodes       map[string]*entry
	directories int
	leaves      int
}

func newTree(rootName string) *tree {
	root := newDirectoryEntry("", rootName)
	return &tree{
		nodes:       map[string]*entry{"": root},
		directories: 1,
	}
}

// find walks the child maps from the root one segment at a time.
func (t *tree) find(relativePath string) (Node, bool) {
	segments, ok := splitPath(relativePath)
	if !ok {
		return Node{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	current := t.nodes[""]
	for _, segment := range segments {
		if current.children == nil {
			return Node{}, false
		}
		id, ok := current.children[segment]
		if !ok {
			return Node{}, false
		}
		current = t.nodes[id]
	}
	return current.node, true
}

// childNames returns the sorted child names of a directory at call time.
func (t *tree) childNames(id string) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	current, ok := t.nodes[id]
	if !ok || current.node.Kind != KindDirectory {
		return nil, false
	}
	names := make([]string, 0, len(current.children))
	for name := range current.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// children returns copies of a directory's children, sorted by name.
func (t *tree) children(id string) ([]Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	current, ok := t.nodes[id]
	if !ok || current.node.Kind != KindDirectory {
		return nil, false
	}
	nodes := make([]Node, 0, len(current.children))
	for _, childID := range current.children {
		nodes = append(nodes, t.nodes[childID].node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, true
}

func (t *tree) directory(id string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	current, ok := t.nodes[id]
	if !ok || current.node.Kind != KindDirectory {
		return Node{}, false
	}
	return current.node, true
}

// attach links a detached subtree, given in pre-order with its top first,
// under its parent in one step. It refuses if the parent is gone or the name
// is already taken.
func (t *tree) attach(subtree []*entry) (Node, bool) {
	if len(subtree) == 0 {
		return Node{}, false
	}
	top := subtree[0]

	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[top.parent]
	if !ok || parent.node.Kind != KindDirectory {
		return Node{}, false
	}
	if _, exists := parent.children[top.node.Name]; exists {
		return Node{}, false
	}
	for _, item := range subtree {
		t.nodes[item.node.Path] = item
		if item != top {
			t.nodes[item.parent].children[item.node.Name] = item.node.Path
		}
		t.count(item.node.Kind, 1)
	}
	parent.children[top.node.Name] = top.node.Path
	return parent.node, true
}

// detach unlinks a node and its descendants. Removed nodes come back in
// children-first order along with the former parent. Removed signals are
// raised by the caller after the whole subtree is detached and unlocked.
func (t *tree) detach(id string) ([]Node, Node, bool) {
	if id == "" {
		return nil, Node{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	target, ok := t.nodes[id]
	if !ok {
		return nil, Node{}, false
	}
	parent, ok := t.nodes[target.parent]
	if !ok {
		return nil, Node{}, false
	}

	removed := make([]Node, 0, 1)
	var collect func(current *entry)
	collect = func(current *entry) {
		names := make([]string, 0, len(current.children))
		for name := range current.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			collect(t.nodes[current.children[name]])
		}
		delete(t.nodes, current.node.Path)
		t.count(current.node.Kind, -1)
		removed = append(removed, current.node)
	}
	collect(target)
	delete(parent.children, target.node.Name)
	return removed, parent.node, true
}

func (t *tree) count(kind Kind, delta int) {
	if kind == KindDirectory {
		t.directories += delta
		return
	}
	t.leaves += delta
}

func (t *tree) counts() (directories int, leaves int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.directories, t.leaves
}

// directoryIDs lists every directory in the arena, sorted.
func (t *tree) directoryIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, t.directories)
	for id, item := range t.nodes {
		if item.node.Kind == KindDirectory {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// load replaces the whole arena with a subtree built from the root.
func (t *tree) load(subtree []*entry) {
	nodes := make(map[string]*entry, len(subtree))
	directories, leaves := 0, 0
	for _, item := range subtree {
		nodes[item.node.Path] = item
		if item.node.Path != "" {
			nodes[item.parent].children[item.node.Name] = item.node.Path
		}
		if item.node.Kind == KindDirectory {
			directories++
		} else {
			leaves++
		}
	}
	t.mu.Lock()
	t.nodes = nodes
	t.directories = directories
	t.leaves = leaves
	t.mu.Unlock()
}
