package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CachingSource memoizes successful fetches from an underlying source.
// Failed fetches are not cached.
type CachingSource struct {
	src Source

	mu    sync.RWMutex
	cache map[Document][]byte
}

// NewCachingSource wraps src.
func NewCachingSource(src Source) *CachingSource {
	return &CachingSource{src: src, cache: make(map[Document][]byte)}
}

func (c *CachingSource) Fetch(ctx context.Context, doc Document) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.cache[doc]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := c.src.Fetch(ctx, doc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[doc] = data
	c.mu.Unlock()
	return data, nil
}

// Invalidate drops the cached copy of doc.
func (c *CachingSource) Invalidate(doc Document) {
	c.mu.Lock()
	delete(c.cache, doc)
	c.mu.Unlock()
}

// InvalidateAll drops every cached document.
func (c *CachingSource) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[Document][]byte)
	c.mu.Unlock()
}

// Cached reports whether doc is currently cached.
func (c *CachingSource) Cached(doc Document) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[doc]
	return ok
}

// Watcher invalidates a CachingSource when files in the lists directory
// change, so the next session picks up edited lists.
type Watcher struct {
	dir     string
	cache   *CachingSource
	logger  *zap.Logger
	fs      *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}

	// OnInvalidate, when set, is called after a document is dropped.
	OnInvalidate func(Document)
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, cache *CachingSource, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{
		dir:     dir,
		cache:   cache,
		logger:  logger,
		fs:      fs,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start runs the event loop in the background.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fs.Close()
	<-w.stopped
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			doc, known := documentFor(event.Name)
			if !known {
				continue
			}
			w.cache.Invalidate(doc)
			w.logger.Info("configuration document changed",
				zap.String("document", doc.Label()),
				zap.String("op", event.Op.String()))
			if w.OnInvalidate != nil {
				w.OnInvalidate(doc)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("lists watcher error", zap.String("dir", w.dir), zap.Error(err))
		}
	}
}

func documentFor(path string) (Document, bool) {
	base := filepath.Base(path)
	for _, d := range Documents {
		if string(d) == base {
			return d, true
		}
	}
	return "", false
}
