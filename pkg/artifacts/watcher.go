package artifacts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

var textExtensions = map[string]bool{
	".log": true, ".txt": true, ".csv": true, ".json": true,
}

// Watch follows write events under dir until ctx is cancelled and removes
// duplicate lines from any text artifact that changes. External scanners
// append output as they go, so the same host or URL can land in a file many
// times over a run.
func Watch(ctx context.Context, dir string) {
	fi, err := os.Stat(dir)
	if err != nil {
		log.Errorf("Artifact directory does not exist: %s", dir)
		return
	}
	if !fi.IsDir() {
		log.Errorf("%s is not a directory", dir)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("Failed to create artifact watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		log.Errorf("Failed to watch %s: %v", dir, err)
		return
	}
	log.Debugf("Watching artifact directory: %s", dir)

	// Files currently being rewritten. The rewrite itself fires a write
	// event, so without this the watcher would chase its own tail.
	var (
		inflightMu sync.Mutex
		inflight   = make(map[string]bool)
	)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isTextFile(event.Name) {
				continue
			}
			fi, err := os.Stat(event.Name)
			if err != nil || fi.IsDir() {
				continue
			}

			inflightMu.Lock()
			if inflight[event.Name] {
				inflightMu.Unlock()
				continue
			}
			inflight[event.Name] = true
			inflightMu.Unlock()

			go func(file string) {
				defer func() {
					inflightMu.Lock()
					delete(inflight, file)
					inflightMu.Unlock()
				}()
				if err := dedupeFile(file); err != nil {
					log.Errorf("Failed to dedupe %s: %v", file, err)
				}
			}(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Artifact watcher error: %v", err)
		case <-ctx.Done():
			log.Debug("Artifact watcher stopped")
			return
		}
	}
}

func isTextFile(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// dedupeFile rewrites path with duplicate lines removed, keeping first
// occurrences in order. CRLF and bare CR endings are normalized to LF, and a
// trailing empty line survives the rewrite.
func dedupeFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))
	lines := strings.Split(string(normalized), "\n")

	seen := make(map[string]bool, len(lines))
	var kept []string
	changed := false

	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			kept = append(kept, line)
			continue
		}
		if seen[line] {
			changed = true
			continue
		}
		seen[line] = true
		kept = append(kept, line)
	}

	if !changed {
		return nil
	}

	return os.WriteFile(path, []byte(strings.Join(kept, "\n")), fi.Mode().Perm())
}
