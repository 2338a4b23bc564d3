package assets

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
)

// ReloadFunc is called after a layout was added or changed on disk.
// desc is nil when the layout was removed.
type ReloadFunc func(name string, desc *renderer.RootSignatureDesc)

type layoutInfo struct {
	name string
	desc *renderer.RootSignatureDesc
}

// LayoutLibrary indexes the layout files of a directory tree and keeps the
// index current while the tree changes.
type LayoutLibrary struct {
	logger *core.Logger

	mutex   sync.RWMutex
	layouts map[string]*renderer.RootSignatureDesc
	paths   map[string]layoutInfo
	reload  []ReloadFunc

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewLayoutLibrary(logger *core.Logger) (*LayoutLibrary, error) {
	if logger == nil {
		logger = core.NopLogger()
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating layout watcher")
	}
	return &LayoutLibrary{
		logger:   logger.Component("assets"),
		layouts:  make(map[string]*renderer.RootSignatureDesc),
		paths:    make(map[string]layoutInfo),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}, nil
}

// Initialize loads every layout below dir and starts watching it.
func (ll *LayoutLibrary) Initialize(dir string) error {
	if ll.isClosed {
		return errors.Wrap(core.ErrInvalidState, "layout library already closed")
	}
	if err := ll.watchRecursive(dir); err != nil {
		return err
	}
	ll.wg.Add(1)
	go ll.start()
	ll.logger.LogInfo("%d layouts loaded from %s", ll.Len(), dir)
	return nil
}

// OnReload registers fn for changes observed after Initialize.
func (ll *LayoutLibrary) OnReload(fn ReloadFunc) {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()
	ll.reload = append(ll.reload, fn)
}

// Get returns a copy of the named layout.
func (ll *LayoutLibrary) Get(name string) (renderer.RootSignatureDesc, bool) {
	ll.mutex.RLock()
	defer ll.mutex.RUnlock()
	desc, ok := ll.layouts[name]
	if !ok {
		return renderer.RootSignatureDesc{}, false
	}
	return *desc, true
}

func (ll *LayoutLibrary) Names() []string {
	ll.mutex.RLock()
	defer ll.mutex.RUnlock()
	names := make([]string, 0, len(ll.layouts))
	for n := range ll.layouts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (ll *LayoutLibrary) Len() int {
	ll.mutex.RLock()
	defer ll.mutex.RUnlock()
	return len(ll.layouts)
}

func (ll *LayoutLibrary) Close() error {
	ll.mutex.Lock()
	if ll.isClosed {
		ll.mutex.Unlock()
		return nil
	}
	ll.isClosed = true
	ll.mutex.Unlock()

	close(ll.done)
	err := ll.fsnotify.Close()
	ll.wg.Wait()
	return err
}

func (ll *LayoutLibrary) start() {
	defer ll.wg.Done()
	for {
		select {
		case e, ok := <-ll.fsnotify.Events:
			if !ok {
				return
			}
			ll.handleEvent(e)

		case err, ok := <-ll.fsnotify.Errors:
			if !ok {
				return
			}
			ll.logger.LogError("layout watcher: %s", err.Error())

		case <-ll.done:
			return
		}
	}
}

func (ll *LayoutLibrary) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := ll.watchRecursive(e.Name); err != nil {
				ll.logger.LogWarn("watching %s: %s", e.Name, err.Error())
			}
			return
		}
	}
	if !IsLayoutFile(e.Name) {
		return
	}
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if name, desc, ok := ll.handleFile(e.Name); ok {
			ll.notify(name, desc)
		}
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if name, ok := ll.removeFile(e.Name); ok {
			ll.notify(name, nil)
		}
	}
}

// watchRecursive adds every directory below path to the watch list and loads
// the layout files it finds.
func (ll *LayoutLibrary) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return ll.fsnotify.Add(walkPath)
		}
		if IsLayoutFile(walkPath) {
			ll.handleFile(walkPath)
		}
		return nil
	})
}

// handleFile parses path into the index. A file that fails to parse keeps
// the previous version of its layout.
func (ll *LayoutLibrary) handleFile(path string) (string, *renderer.RootSignatureDesc, bool) {
	desc, err := LoadLayout(path)
	if err != nil {
		ll.logger.LogWarn("skipping layout: %s", err.Error())
		return "", nil, false
	}

	ll.mutex.Lock()
	defer ll.mutex.Unlock()
	if prev, ok := ll.paths[path]; ok && prev.name != desc.Name {
		delete(ll.layouts, prev.name)
	}
	ll.paths[path] = layoutInfo{name: desc.Name, desc: desc}
	ll.layouts[desc.Name] = desc
	ll.logger.LogDebug("layout %s loaded from %s", desc.Name, path)
	return desc.Name, desc, true
}

func (ll *LayoutLibrary) removeFile(path string) (string, bool) {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()
	info, ok := ll.paths[path]
	if !ok {
		return "", false
	}
	delete(ll.paths, path)
	if ll.layouts[info.name] == info.desc {
		delete(ll.layouts, info.name)
	}
	ll.logger.LogDebug("layout %s removed", info.name)
	return info.name, true
}

func (ll *LayoutLibrary) notify(name string, desc *renderer.RootSignatureDesc) {
	ll.mutex.RLock()
	fns := append([]ReloadFunc(nil), ll.reload...)
	ll.mutex.RUnlock()

	var cp *renderer.RootSignatureDesc
	for _, fn := range fns {
		if desc != nil {
			c := *desc
			cp = &c
		}
		fn(name, cp)
	}
}
