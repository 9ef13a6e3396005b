package filewatch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
)

// Start begins watching every non-hidden directory under each root. Roots
// that cannot be watched are logged and skipped; Start fails only when none
// of them could be watched. Events stop when ctx is cancelled or Close is
// called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.watchMu.Lock()
	defer fw.watchMu.Unlock()
	if fw.watcher != nil {
		return nil
	}
	if len(fw.roots) == 0 {
		return apperrors.New(apperrors.ErrCodeWatchStart, "no roots configured")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeWatchStart, "creating watcher")
	}

	watched := 0
	var lastErr error
	for _, root := range fw.roots {
		n, err := addTree(w, root)
		if err != nil {
			lastErr = err
			fw.logger.Warn("root not watched", "root", root, "error", err)
			continue
		}
		watched++
		fw.logger.Info("watching root", "root", root, "directories", n)
	}
	if watched == 0 {
		_ = w.Close()
		return apperrors.Wrap(lastErr, apperrors.ErrCodeWatchStart, "no root could be watched").
			WithContext("roots", strings.Join(fw.roots, ","))
	}

	fw.watcher = w
	fw.done = make(chan struct{})
	go fw.loop(ctx, w, fw.done)
	return nil
}

// Close stops the filesystem watcher. Subscriptions stay registered.
func (fw *FileWatcher) Close() error {
	fw.watchMu.Lock()
	w := fw.watcher
	done := fw.done
	fw.watcher = nil
	fw.done = nil
	fw.watchMu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func (fw *FileWatcher) loop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			fw.handleEvent(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watch error", "error", err)
		}
	}
}

func (fw *FileWatcher) handleEvent(w *fsnotify.Watcher, event fsnotify.Event) {
	root, rel, ok := fw.Relativize(event.Name)
	if !ok || IsHidden(rel) {
		return
	}

	var kind ChangeType
	switch {
	case event.Has(fsnotify.Create):
		kind = ChangeCreated
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, err := addTree(w, event.Name); err != nil {
				fw.logger.Warn("cannot watch new directory", "path", rel, "error", err)
			}
		}
	case event.Has(fsnotify.Write):
		kind = ChangeModified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = ChangeDeleted
	default:
		return
	}

	fw.Notify(FileChange{Path: rel, Type: kind, Root: root, Origin: OriginFS})
}

// Relativize maps an absolute path to the longest watched root containing it
// and the slash separated path below that root. Paths outside every root, and
// the roots themselves, report ok=false.
func (fw *FileWatcher) Relativize(abs string) (root, rel string, ok bool) {
	abs = filepath.Clean(abs)
	for _, candidate := range fw.roots {
		r, err := filepath.Rel(candidate, abs)
		if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			continue
		}
		if len(candidate) > len(root) {
			root, rel = candidate, filepath.ToSlash(r)
		}
	}
	return root, rel, root != ""
}

// addTree adds dir and every non-hidden directory below it. Unreadable
// subdirectories are skipped.
func addTree(w *fsnotify.Watcher, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, errors.New("not a directory")
	}
	count := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir {
				return walkErr
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.Add(p); err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		count++
		return nil
	})
	return count, err
}
