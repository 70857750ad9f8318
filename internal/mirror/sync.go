package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
	"dirmirror/internal/watcher"
)

// Notifier receives the per-node signals raised by tree changes.
type Notifier interface {
	Changed(node Node)
	Removed(node Node)
}

// TreeSync owns the mirror tree. It builds the tree from disk and applies
// watch events to it; every mutation runs on the watch loop goroutine.
type TreeSync struct {
	root      string
	name      string
	tree      *tree
	registrar watcher.Registrar
	formats   *contentformat.Registry
	notifier  Notifier
	logger    *logging.Logger
	metrics   *metrics.Registry
}

func newTreeSync(root, name string, registrar watcher.Registrar, formats *contentformat.Registry, notifier Notifier, logger *logging.Logger, registry *metrics.Registry) *TreeSync {
	return &TreeSync{
		root:      root,
		name:      name,
		tree:      newTree(filepath.Base(root)),
		registrar: registrar,
		formats:   formats,
		notifier:  notifier,
		logger:    logger,
		metrics:   registry,
	}
}

// BuildInitialTree walks the root in pre-order, registering a watch for
// every directory it enters.
func (s *TreeSync) BuildInitialTree() error {
	subtree, err := s.buildSubtree("")
	if err != nil {
		return err
	}
	s.tree.load(subtree)
	s.reportCounts()
	directories, leaves := s.tree.counts()
	s.logger.Info("mirror tree built", withMirrorFields(map[string]string{
		"root":        s.root,
		"directories": strconv.Itoa(directories),
		"leaves":      strconv.Itoa(leaves),
	}))
	return nil
}

// OnCreate adds the entry at relativePath. A directory brings its whole
// current subtree with it. The parent gets one changed signal either way.
//
// A create for a name already in the tree is a replacement, typically a file
// renamed over an existing one. Same kind: the node itself is signalled.
// Different kind: the old subtree is removed and the new entry attached.
func (s *TreeSync) OnCreate(relativePath string) {
	id, ok := cleanID(relativePath)
	if !ok || id == "" {
		return
	}
	if _, ok := s.tree.directory(parentID(id)); !ok {
		s.logDebug("create dropped, parent missing", id)
		return
	}

	info, err := os.Lstat(s.absolute(id))
	if err != nil {
		s.logDebug("create dropped, entry vanished", id)
		return
	}

	if existing, ok := s.tree.find(id); ok {
		if existing.IsDirectory() == info.IsDir() {
			s.logDebug("create replaced existing node", id)
			s.notifier.Changed(existing)
			return
		}
		s.logDebug("create replaced node of another kind", id)
		parent, ok := s.removeSubtree(id)
		if !ok {
			return
		}
		// The removal stands even if the new entry cannot be attached.
		defer func() {
			if _, attached := s.tree.find(id); !attached {
				s.reportCounts()
				s.notifier.Changed(parent)
			}
		}()
	}

	var subtree []*entry
	if info.IsDir() {
		subtree, err = s.buildSubtree(id)
		if err != nil {
			s.logger.Warn("create dropped, directory walk failed", withMirrorFields(map[string]string{
				"path":  id,
				"error": err.Error(),
			}))
			s.reportCounts()
			return
		}
	} else {
		subtree = []*entry{newLeafEntry(id, s.formats.Lookup(info.Name()))}
	}

	parent, ok := s.tree.attach(subtree)
	if !ok {
		// The parent went away while the subtree was walked.
		s.releaseWatches(subtree)
		s.logDebug("create dropped, parent missing", id)
		s.reportCounts()
		return
	}
	s.reportCounts()
	s.notifier.Changed(parent)
}

// OnDelete removes the node at relativePath and its subtree, children first.
// A missing node means the delete was already applied.
func (s *TreeSync) OnDelete(relativePath string) {
	id, ok := cleanID(relativePath)
	if !ok || id == "" {
		return
	}
	parent, ok := s.removeSubtree(id)
	if !ok {
		s.logDebug("delete dropped, node missing", id)
		return
	}
	s.reportCounts()
	s.notifier.Changed(parent)
}

// removeSubtree detaches id, releases the watches of every directory in it
// and signals each removed node. The parent is left for the caller to signal.
func (s *TreeSync) removeSubtree(id string) (Node, bool) {
	removed, parent, ok := s.tree.detach(id)
	if !ok {
		return Node{}, false
	}
	for _, node := range removed {
		if node.Kind == KindDirectory {
			s.unwatch(node.Path)
		}
		s.notifier.Removed(node)
	}
	return parent, true
}

// OnModify signals a content change. Content is read on the next request.
func (s *TreeSync) OnModify(relativePath string) {
	node, ok := s.FindNode(relativePath)
	if !ok {
		return
	}
	s.notifier.Changed(node)
}

// FindNode resolves relativePath to its node. A missing segment is a plain
// miss, never an error.
func (s *TreeSync) FindNode(relativePath string) (Node, bool) {
	return s.tree.find(relativePath)
}

// buildSubtree walks id on disk and returns its entries in pre-order. Every
// directory entered is registered before its listing is read, so entries
// created during the walk are either listed or reported by the watch.
// Symbolic links become leaves and are never followed.
func (s *TreeSync) buildSubtree(id string) ([]*entry, error) {
	start := s.absolute(id)
	subtree := make([]*entry, 0, 8)

	err := filepath.WalkDir(start, func(current string, item fs.DirEntry, walkErr error) error {
		rel, ok := s.relative(current)
		if !ok {
			return filepath.SkipDir
		}
		if walkErr != nil {
			if current == start && item == nil {
				return walkErr
			}
			s.logger.Warn("walk error", withMirrorFields(map[string]string{
				"path":  rel,
				"error": walkErr.Error(),
			}))
			if item != nil && item.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if item.IsDir() {
			if err := s.registrar.Add(rel); err != nil {
				if current == start {
					return err
				}
				s.logger.Warn("directory skipped, watch failed", withMirrorFields(map[string]string{
					"path":  rel,
					"error": err.Error(),
				}))
				return filepath.SkipDir
			}
			name := item.Name()
			if rel == "" {
				name = filepath.Base(s.root)
			}
			subtree = append(subtree, newDirectoryEntry(rel, name))
			return nil
		}
		subtree = append(subtree, newLeafEntry(rel, s.formats.Lookup(item.Name())))
		return nil
	})
	if err != nil {
		s.releaseWatches(subtree)
		return nil, fmt.Errorf("walk %q: %w", id, err)
	}
	if len(subtree) == 0 {
		return nil, errors.New("nothing to mirror at " + start)
	}
	return subtree, nil
}

func (s *TreeSync) releaseWatches(subtree []*entry) {
	for _, item := range subtree {
		if item.node.Kind == KindDirectory {
			s.unwatch(item.node.Path)
		}
	}
}

func (s *TreeSync) unwatch(id string) {
	if err := s.registrar.Remove(id); err != nil {
		s.logDebug("unwatch failed: "+err.Error(), id)
	}
}

func (s *TreeSync) absolute(id string) string {
	if id == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(id))
}

func (s *TreeSync) relative(current string) (string, bool) {
	rel, err := filepath.Rel(s.root, current)
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (s *TreeSync) reportCounts() {
	directories, leaves := s.tree.counts()
	s.metrics.SetNodes(s.name, directories, leaves)
}

func (s *TreeSync) logDebug(message, id string) {
	s.logger.Debug(message, withMirrorFields(map[string]string{"path": id}))
}

func cleanID(relativePath string) (string, bool) {
	segments, ok := splitPath(relativePath)
	if !ok {
		return "", false
	}
	return path.Join(segments...), true
}

func withMirrorFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["dirmirror.category"] = "mirror"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
