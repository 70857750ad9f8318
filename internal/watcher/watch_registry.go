package watcher

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Add registers the directory at relativePath. Registering an already
// watched directory is a no-op, so each directory holds one registration.
func (watcher *Watcher) Add(relativePath string) error {
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	key, err := cleanRelative(relativePath)
	if err != nil {
		return err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	if _, ok := watcher.watches[key]; ok {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.mutex.Unlock()

	if err := watcher.watcher.Add(watcher.absolute(key)); err != nil {
		watcher.logWarn("watch add failed", map[string]string{
			"path":  key,
			"error": err.Error(),
		})
		return fmt.Errorf("watch %q: %w", key, err)
	}

	watcher.mutex.Lock()
	watcher.watches[key] = struct{}{}
	count := len(watcher.watches)
	watcher.mutex.Unlock()

	watcher.registry.SetWatches(watcher.name, count)
	watcher.logDebug("watch added", map[string]string{
		"path":           key,
		"active_watches": strconv.Itoa(count),
	})
	return nil
}

// Remove deregisters the directory at relativePath. The kernel drops watches
// on deleted directories by itself, so a missing registration is not an error.
func (watcher *Watcher) Remove(relativePath string) error {
	if watcher == nil {
		return nil
	}
	key, err := cleanRelative(relativePath)
	if err != nil {
		return err
	}

	watcher.mutex.Lock()
	_, ok := watcher.watches[key]
	delete(watcher.watches, key)
	count := len(watcher.watches)
	closed := watcher.closed
	watcher.mutex.Unlock()

	if !ok || closed {
		return nil
	}
	watcher.registry.SetWatches(watcher.name, count)

	if err := watcher.watcher.Remove(watcher.absolute(key)); err != nil &&
		!errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
		watcher.logWarn("watch remove failed", map[string]string{
			"path":  key,
			"error": err.Error(),
		})
		return fmt.Errorf("unwatch %q: %w", key, err)
	}
	watcher.logDebug("watch removed", map[string]string{
		"path":           key,
		"active_watches": strconv.Itoa(count),
	})
	return nil
}

// Watches returns the registered directories, sorted.
func (watcher *Watcher) Watches() []string {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	paths := make([]string, 0, len(watcher.watches))
	for key := range watcher.watches {
		paths = append(paths, key)
	}
	watcher.mutex.Unlock()
	sort.Strings(paths)
	return paths
}

func (watcher *Watcher) absolute(key string) string {
	if key == "" {
		return watcher.root
	}
	return filepath.Join(watcher.root, filepath.FromSlash(key))
}

func cleanRelative(relativePath string) (string, error) {
	if relativePath == "" || relativePath == "." {
		return "", nil
	}
	cleaned := path.Clean(filepath.ToSlash(relativePath))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes watch root", relativePath)
	}
	return cleaned, nil
}
