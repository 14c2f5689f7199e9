package mapper

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"gossimon/internal/vector"
)

// Watch re-reads the map at path whenever it changes and hands the new
// universe to onChange. The parent directory is watched so that editors
// replacing the file are noticed. A map that fails to load is logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func([]vector.Node)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	clean := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("failed to watch map file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != clean {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			nodes, err := LoadFile(clean)
			if err != nil {
				log.Printf("[mapper] ignoring map update %s: %v", clean, err)
				continue
			}
			log.Printf("[mapper] map file updated: %s (%d nodes)", clean, len(nodes))
			onChange(nodes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[mapper] watcher error: %v", err)
		}
	}
}
