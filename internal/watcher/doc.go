// Package watcher decodes fsnotify events for a directory tree into create,
// delete and modify calls on a Handler.
//
// A Watcher runs exactly one consumption loop. Events for a single directory
// reach the Handler in the order fsnotify reports them; no order is promised
// across directories. Overflow notifications carry no path and are dropped.
// When fsnotify reports any other error the loop logs it and exits for good:
// the mirror it feeds goes stale and Running reports false. Hosts are expected
// to watch that state rather than rely on an automatic restart.
package watcher
