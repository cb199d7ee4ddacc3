package intents

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the dataset at path whenever it changes and hands every valid
// result to onChange. Broken files are logged and skipped, so the previously
// loaded set stays in use. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Set)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file instead of writing it in place, so
	// watch the directory and filter by name.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			set, err := Load(path)
			if err != nil {
				log.Printf("[intents] reload failed: %v", err)
				continue
			}
			log.Printf("[intents] reloaded %d intents from %s", set.Len(), path)
			onChange(set)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[intents] watcher error: %v", err)
		}
	}
}
