// Package plugins implements the `pluginDirectory` domain-stack feature
// from SPEC_FULL.md: each subdirectory of the configured plugin root
// carries a plugin.toml manifest (name, version, entry point, declared
// custom-tags) parsed at CreateInstance, plus an fsnotify watch so a
// manifest dropped in after instance creation is picked up without
// restarting the host process — the same "watch a directory, react to
// fsnotify events on a goroutine" shape as the teacher's
// engine/assets/assets.go asset watcher, retargeted from asset files to
// plugin manifests.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// Manifest is the parsed shape of one plugin's plugin.toml.
type Manifest struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	EntryPoint  string   `toml:"entry_point"`
	CustomTags  []string `toml:"custom_tags"`

	// Dir is the directory the manifest was loaded from, not part of
	// the TOML document itself.
	Dir string `toml:"-"`
}

// Loader watches a pluginDirectory root and keeps an up-to-date set of
// loaded manifests.
type Loader struct {
	root    string
	logger  Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.RWMutex
	manifests map[string]*Manifest // keyed by Dir
}

// Logger is the minimal surface this package needs from
// internal/logging, expressed as an interface to avoid importing it
// directly (mirrors internal/rules/eval.Logger's same pattern).
type Logger interface {
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// Load scans root once synchronously (so CreateInstance sees every
// plugin already present before the host's first frame) and returns a
// Loader; call Start to begin watching for manifests added later.
func Load(root string, logger Logger) (*Loader, error) {
	l := &Loader{root: root, logger: logger, manifests: make(map[string]*Manifest)}
	if root == "" {
		return l, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("plugins: read %q: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		l.loadManifest(dir)
	}
	return l, nil
}

func (l *Loader) loadManifest(dir string) {
	path := filepath.Join(dir, "plugin.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && l.logger != nil {
			l.logger.Warnf("plugins: read %q: %v", path, err)
		}
		return
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		if l.logger != nil {
			l.logger.Warnf("plugins: parse %q: %v", path, err)
		}
		return
	}
	m.Dir = dir
	l.mu.Lock()
	l.manifests[dir] = &m
	l.mu.Unlock()
	if l.logger != nil {
		l.logger.Infof("plugins: loaded %q (%s %s)", m.Name, dir, m.Version)
	}
}

// Start begins an fsnotify watch goroutine that picks up manifests
// added to root after the fact, mirroring engine/assets/assets.go's
// NewWatcher/start()/done-channel shape.
func (l *Loader) Start() error {
	if l.root == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugins: new watcher: %w", err)
	}
	if err := w.Add(l.root); err != nil {
		w.Close()
		return fmt.Errorf("plugins: watch %q: %w", l.root, err)
	}
	l.watcher = w
	l.done = make(chan struct{})
	go l.watch()
	return nil
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					l.loadManifest(ev.Name)
				} else if filepath.Base(ev.Name) == "plugin.toml" {
					l.loadManifest(filepath.Dir(ev.Name))
				}
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.Warnf("plugins: watch error: %v", err)
			}
		}
	}
}

// Stop ends the watch goroutine and closes the underlying watcher. Safe
// to call even if Start was never called (root == "").
func (l *Loader) Stop() {
	if l.watcher == nil {
		return
	}
	close(l.done)
	l.watcher.Close()
}

// Manifests returns a snapshot of every plugin manifest loaded so far.
func (l *Loader) Manifests() []*Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Manifest, 0, len(l.manifests))
	for _, m := range l.manifests {
		out = append(out, m)
	}
	return out
}

// CustomTags returns the union of every loaded plugin's declared
// custom_tags. Nothing in this module calls it: `custom(tag)` rule
// conditions are not checked against it and accept any free-form tag.
func (l *Loader) CustomTags() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, m := range l.manifests {
		for _, t := range m.CustomTags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
