package assets

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-stream/engine/core"
)

var ErrAlreadyWatching = errors.New("asset manager is already watching")

// Watch reloads registered files below dir when they change on disk.
func (m *AssetManager) Watch(dir string) error {
	if m.watcher != nil {
		return ErrAlreadyWatching
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher
	m.done = make(chan struct{})

	if err := m.watchRecursive(dir); err != nil {
		m.watcher = nil
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watch(watcher)
	return nil
}

func (m *AssetManager) watch(watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	for {
		select {
		case e, ok := <-watcher.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(e.Name); err == nil && st.IsDir() {
					if err := m.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch '%s': %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				m.requestReload(e.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-m.done:
			return
		}
	}
}

// watchRecursive adds dir and every directory below it to the watch list.
func (m *AssetManager) watchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return m.watcher.Add(path)
		}
		return nil
	})
}
